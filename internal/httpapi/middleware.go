package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"hackboard/internal/auth"
	logx "hackboard/pkg/logx"
)

type ctxKey int

const (
	visitorKey ctxKey = iota
	sessionKey
)

// VisitorFrom returns the visitor id set by the visitor middleware.
func VisitorFrom(ctx context.Context) string {
	v, _ := ctx.Value(visitorKey).(string)
	return v
}

// SessionFrom returns the session attached by requireSession.
func SessionFrom(ctx context.Context) (auth.Session, bool) {
	s, ok := ctx.Value(sessionKey).(auth.Session)
	return s, ok
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.log.Error("handler panic",
				logx.String("path", r.URL.Path),
				logx.String("req_id", middleware.GetReqID(r.Context())),
				logx.String("panic", fmt.Sprint(rec)),
				logx.String("stack", string(debug.Stack())),
			)
			if r.Header.Get("Connection") != "Upgrade" {
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		took := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := ""
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		s.opts.Metrics.ObserveHTTP(r.Method, route, status, took)

		fields := []logx.Field{
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", status),
			logx.Duration("took", took),
			logx.String("ip", r.RemoteAddr),
			logx.String("req_id", middleware.GetReqID(r.Context())),
		}
		switch {
		case status >= 500:
			s.log.Warn("request", fields...)
		case route == "/healthz" || route == s.opts.MetricsPath:
			s.log.Trace("request", fields...)
		default:
			s.log.Debug("request", fields...)
		}
	})
}

// visitor gives every browser a stable id so it owns one toast queue.
func (s *Server) visitor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(VisitorCookie); err == nil {
			if u, err := uuid.Parse(c.Value); err == nil {
				id = u.String()
			}
		}
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     VisitorCookie,
				Value:    id,
				Path:     "/",
				MaxAge:   int((365 * 24 * time.Hour).Seconds()),
				HttpOnly: true,
				Secure:   s.opts.CookieSecure,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), visitorKey, id)))
	})
}

// rejectFunc writes the response for a rate-limited request.
type rejectFunc func(s *Server, w http.ResponseWriter, r *http.Request)

func plainLimited(_ *Server, w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "Too many requests", http.StatusTooManyRequests)
}

// authLimited answers like a failed form submit so the page shows the
// rate-limit message and toast.
func authLimited(op auth.Op) rejectFunc {
	return func(s *Server, w http.ResponseWriter, r *http.Request) {
		s.authFailure(w, r, op, auth.ErrRateLimited)
	}
}

func (s *Server) rateLimit(reject rejectFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.opts.Limiter.Allow(clientKey(r)) {
				next.ServeHTTP(w, r)
				return
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			s.opts.Metrics.RateLimited(route)
			reject(s, w, r)
		})
	}
}

// realIP rewrites RemoteAddr from X-Real-IP or X-Forwarded-For, but only
// when the connection comes from a trusted proxy. Forwarded-for entries are
// read right to left and trusted hops are skipped, so a client cannot pick
// its own key by prepending addresses.
func (s *Server) realIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ip, ok := s.forwardedFor(r); ok {
			r.RemoteAddr = ip.String()
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) forwardedFor(r *http.Request) (netip.Addr, bool) {
	if len(s.opts.TrustedProxies) == 0 {
		return netip.Addr{}, false
	}
	peer, err := netip.ParseAddr(clientKey(r))
	if err != nil || !s.trusted(peer) {
		return netip.Addr{}, false
	}
	if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
		if ip, err := netip.ParseAddr(xrip); err == nil {
			return ip.Unmap(), true
		}
	}
	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(v, ",")...)
	}
	for i := len(hops) - 1; i >= 0; i-- {
		ip, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			return netip.Addr{}, false
		}
		ip = ip.Unmap()
		if !s.trusted(ip) {
			return ip, true
		}
	}
	return netip.Addr{}, false
}

func (s *Server) trusted(ip netip.Addr) bool {
	ip = ip.Unmap()
	for _, p := range s.opts.TrustedProxies {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// ParseTrustedProxies accepts bare addresses and CIDR prefixes.
func ParseTrustedProxies(list []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(list))
	for _, v := range list {
		v = strings.TrimSpace(v)
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
			}
			out = append(out, p.Masked())
			continue
		}
		ip, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
		}
		ip = ip.Unmap()
		out = append(out, netip.PrefixFrom(ip, ip.BitLen()))
	}
	return out, nil
}

// clientKey is the client IP. realIP has already rewritten RemoteAddr for
// requests relayed by a trusted proxy; otherwise it still carries the port.
func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(SessionCookie)
		if err != nil || c.Value == "" {
			http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
			return
		}
		ctx := r.Context()
		sess, err := s.opts.Auth.Refresh(ctx, c.Value)
		switch {
		case errors.Is(err, auth.ErrSessionExpired):
			s.clearSession(w)
			http.Redirect(w, r, "/auth/login?error=session-expired", http.StatusSeeOther)
			return
		case err != nil:
			s.log.Error("session refresh failed", logx.Err(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		s.setSession(w, sess)
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, sessionKey, sess)))
	})
}

func (s *Server) setSession(w http.ResponseWriter, sess auth.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
