// Package httpapi is hackboard's HTTP surface: auth pages, the kanban
// dashboard, and the per-visitor toast queue (REST plus a websocket stream).
//
// Every response body is JSON except /healthz, /metrics and the plain-text
// 429 of the dashboard rate limit.
package httpapi

import (
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"hackboard/internal/auth"
	"hackboard/internal/board"
	"hackboard/internal/metrics"
	"hackboard/internal/toast"
	logx "hackboard/pkg/logx"
)

const (
	SessionCookie = "hb_session"
	VisitorCookie = "hb_visitor"

	maxBodyBytes = 64 << 10
)

type Options struct {
	Auth    auth.Provider
	Board   *board.Service
	Toasts  *toast.Registry
	Limiter *Limiter
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// MetricsPath mounts the Prometheus handler; empty disables it.
	MetricsPath  string
	CookieSecure bool
	// TrustedProxies lists the peers whose X-Forwarded-For and X-Real-IP
	// headers are believed. Requests from anyone else are keyed on the
	// connection address.
	TrustedProxies []netip.Prefix
	Log            logx.Logger

	// Stream timings; zero values use the defaults below.
	PingInterval time.Duration
	WriteTimeout time.Duration
}

type Server struct {
	opts     Options
	log      logx.Logger
	router   chi.Router
	upgrader websocket.Upgrader

	quit     chan struct{}
	quitOnce sync.Once
}

func New(opts Options) *Server {
	if opts.Limiter == nil {
		opts.Limiter = NewLimiter(LimiterConfig{})
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	s := &Server{
		opts: opts,
		log:  opts.Log.With(logx.String("comp", "http")),
		quit: make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// CloseStreams ends every open toast websocket with a going-away frame.
// http.Server.Shutdown does not track hijacked connections, so register
// this with RegisterOnShutdown.
func (s *Server) CloseStreams() {
	s.quitOnce.Do(func() { close(s.quit) })
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, s.realIP)
	r.Use(s.recoverer)
	r.Use(s.requestLog)
	r.Use(s.visitor)

	r.Get("/", s.handleIndex)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if s.opts.Metrics != nil && s.opts.MetricsPath != "" {
		r.Method(http.MethodGet, s.opts.MetricsPath, s.opts.Metrics.Handler())
	}

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", s.handleLoginPage)
		r.With(s.rateLimit(authLimited(auth.OpSignIn))).Post("/login", s.handleLogin)
		r.With(s.rateLimit(authLimited(auth.OpSignUp))).Post("/signup", s.handleSignup)
		r.Post("/logout", s.handleLogout)
	})

	r.Route("/dashboard", func(r chi.Router) {
		r.Use(s.rateLimit(plainLimited))
		r.Use(s.requireSession)
		r.Get("/", s.handleDashboard)
		r.Post("/notes", s.handleCreateNote)
		r.Patch("/notes/{id}", s.handleMoveNote)
		r.Delete("/notes/{id}", s.handleDeleteNote)
	})

	r.Route("/toasts", func(r chi.Router) {
		r.Get("/", s.handleToastSnapshot)
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit(plainLimited))
			r.Post("/", s.handleToastAdd)
			r.Get("/ws", s.handleToastStream)
			r.Post("/dismiss", s.handleToastDismissAll)
			r.Patch("/{id}", s.handleToastUpdate)
			r.Post("/{id}/dismiss", s.handleToastDismiss)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "hackboard",
		"tagline": "terminal kanban for hackers",
		"links": map[string]string{
			"login":     "/auth/login",
			"signup":    "/auth/signup",
			"dashboard": "/dashboard",
		},
	})
}

// toasts returns the calling visitor's queue.
func (s *Server) toasts(r *http.Request) *toast.Manager {
	return s.opts.Toasts.For(VisitorFrom(r.Context()))
}

func (s *Server) addToast(r *http.Request, in toast.Input) toast.Handle {
	return s.opts.Toasts.Add(VisitorFrom(r.Context()), in)
}
