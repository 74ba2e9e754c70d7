// Package app wires hackboard's components together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"hackboard/internal/adapters/telegram"
	"hackboard/internal/auth"
	"hackboard/internal/board"
	"hackboard/internal/config"
	"hackboard/internal/eventbus"
	"hackboard/internal/httpapi"
	"hackboard/internal/janitor"
	"hackboard/internal/metrics"
	"hackboard/internal/observability/pprof"
	"hackboard/internal/runtime/supervisor"
	"hackboard/internal/storage"
	"hackboard/internal/toast"
	logx "hackboard/pkg/logx"
)

var ErrStarted = errors.New("app already started")

type App struct {
	// cfgm is nil when running on built-in defaults; nothing is watched then.
	cfgm *config.Manager
	cur  atomic.Pointer[config.Config]

	sup *supervisor.Supervisor

	root  logx.Logger
	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	auth    *auth.Local
	toasts  *toast.Registry
	limiter *httpapi.Limiter
	metrics *metrics.Metrics
	janitor *janitor.Service
	pprof   *pprof.Service
	api     *httpapi.Server
	srv     *http.Server

	addr string

	stopOnce sync.Once
}

// NewApp loads cfgPath (JSON or YAML) and builds every component. An empty
// path runs on config.Default().
func NewApp(cfgPath string) (*App, error) {
	if strings.TrimSpace(cfgPath) == "" {
		return newApp(nil, config.Default())
	}
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, cfg)
}

func newApp(cfgm *config.Manager, cfg *config.Config) (*App, error) {
	// Start with alerts off: Apply warns on stderr when alerts are enabled
	// before a sender is installed.
	bootLog := logConfig(cfg)
	bootLog.Alerts.Enabled = false
	logs, root := logx.New(bootLog)

	a := &App{
		cfgm: cfgm,
		root: root,
		log:  root.With(logx.String("comp", "app")),
		logs: logs,
		bus:  eventbus.New(),
	}
	a.cur.Store(cfg)

	finalLog := logConfig(cfg)
	if err := a.applyAlerts(cfg); err != nil {
		_ = logs.Close()
		return nil, err
	}
	logs.Apply(finalLog)

	store, err := storage.Open(storageConfig(cfg), root.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.store = store
	a.log.Info("storage ready", logx.String("driver", cfg.Storage.Driver))

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}

	a.auth = auth.NewLocal(store, auth.Options{
		TTL:        cfg.Auth.SessionTTL.D(),
		BcryptCost: cfg.Auth.BcryptCost,
		Log:        root.With(logx.String("comp", "auth")),
		Bus:        a.bus,
	})

	topts := toastOptions(cfg)
	topts.Recorder = a.metrics.Toasts()
	a.toasts = toast.NewRegistry(topts)
	a.metrics.WatchToasts(a.toasts)

	a.limiter = httpapi.NewLimiter(limiterConfig(cfg))
	a.janitor = janitor.New(janitorConfig(cfg), root, janitor.WithObserver(a.metrics.JanitorRun))
	a.pprof = pprof.New(pprofConfig(cfg), root)

	proxies, err := httpapi.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	a.api = httpapi.New(httpapi.Options{
		Auth:           a.auth,
		Board:          board.NewService(store),
		Toasts:         a.toasts,
		Limiter:        a.limiter,
		Metrics:        a.metrics,
		MetricsPath:    cfg.Metrics.Path,
		CookieSecure:   cfg.Server.CookieSecure,
		TrustedProxies: proxies,
		Log:            root,
	})
	a.srv = &http.Server{
		Handler:           a.api,
		ReadHeaderTimeout: cfg.Server.ReadTimeout.D(),
		ReadTimeout:       cfg.Server.ReadTimeout.D(),
		WriteTimeout:      cfg.Server.WriteTimeout.D(),
		IdleTimeout:       cfg.Server.IdleTimeout.D(),
	}
	a.srv.RegisterOnShutdown(a.api.CloseStreams)

	if err := a.registerJobs(cfg); err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

// current is the last applied config.
func (a *App) current() *config.Config { return a.cur.Load() }

// Config returns the last applied config. Callers must not modify it.
func (a *App) Config() *config.Config { return a.current() }

// Handler is the public HTTP handler, usable without Start.
func (a *App) Handler() http.Handler { return a.api }

// Addr is the bound listen address once Start has returned.
func (a *App) Addr() string { return a.addr }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return ErrStarted
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.metrics.WatchSupervisor(a.sup.Counters)

	cfg := a.current()
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		a.sup.Cancel()
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}
	a.addr = ln.Addr().String()
	a.sup.Go("http.serve", func(context.Context) error {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	if cfg.Janitor.Enabled {
		if err := a.janitor.Start(a.sup.Context()); err != nil {
			a.sup.Cancel()
			_ = a.srv.Close()
			return err
		}
	}
	a.pprof.Start(a.sup.Context())

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.metrics.AuthEvent(e.Type)
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.root.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(a.validate)

		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			for {
				select {
				case <-c.Done():
					return
				case next, ok := <-sub:
					if !ok {
						return
					}
					// keep only the newest of a burst
				drain:
					for {
						select {
						case newer := <-sub:
							if newer != nil {
								next = newer
							}
						default:
							break drain
						}
					}
					a.applyConfig(c, next)
				}
			}
		})
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.startWatchdog()
	a.sdNotify(daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("addr", a.addr))
	return nil
}

// validate runs before a reloaded config is committed.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	err := a.validateJobs(cfg)
	if err == nil && cfg.Alerts.Enabled {
		_, err = telegram.New(alertConfig(cfg), logx.Nop())
	}
	if err != nil {
		a.metrics.ConfigReload(false, err)
	}
	return err
}

// applyConfig fans a committed config out to the hot-reloadable components.
func (a *App) applyConfig(ctx context.Context, next *config.Config) {
	prev := a.current()
	sections, attrs := config.SummarizeChange(prev, next)
	a.cur.Store(next)
	if len(sections) == 0 {
		a.metrics.ConfigReload(false, nil)
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := logx.String("changed", strings.Join(sections, ","))
	a.log.Debug("config change summary", append([]logx.Field{changed}, attrs...)...)

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	// Install the alert sender before Apply enables the alert sink.
	lc := logConfig(next)
	if slices.Contains(sections, "alerts") {
		if err := a.applyAlerts(next); err != nil {
			a.log.Warn("invalid alerts config; alerts disabled", logx.Err(err))
			lc.Alerts.Enabled = false
		}
	}
	a.logs.Apply(lc)

	a.toasts.Apply(toastOptions(next))
	a.limiter.Apply(limiterConfig(next))
	a.pprof.Reconfigure(ctx, pprofConfig(next))

	a.metrics.ConfigReload(true, nil)
	a.log.Info("config reloaded", append([]logx.Field{changed}, attrs...)...)
}

func (a *App) applyAlerts(cfg *config.Config) error {
	if !cfg.Alerts.Enabled {
		a.logs.SetAlertSender(nil)
		return nil
	}
	al, err := telegram.New(alertConfig(cfg), a.root.With(logx.String("comp", "telegram")))
	if err != nil {
		a.logs.SetAlertSender(nil)
		return fmt.Errorf("alerts: %w", err)
	}
	a.logs.SetAlertSender(al)
	return nil
}

// Stop shuts components down in order, each step bounded so one component
// can't stall the rest. Only the first call does anything.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.stopOnce.Do(func() { a.stop(ctx, reason) })
	return nil
}

func (a *App) stop(ctx context.Context, reason StopReason) {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sdNotify(daemon.SdNotifyStopping)

	// Background loops start unwinding right away.
	a.sup.Cancel()

	cfg := a.current()
	a.step(ctx, "http", cfg.Server.ShutdownTimeout.D(), func(c context.Context) error {
		return a.srv.Shutdown(c)
	})
	a.step(ctx, "janitor", 2*time.Second, a.janitor.Stop)
	a.step(ctx, "pprof", time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	a.step(ctx, "toasts", time.Second, func(context.Context) error { a.toasts.Close(); return nil })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	// Finally wait for supervised goroutines (config watch/reload, event log, http serve).
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	_ = a.logs.Close()
}

// step runs fn with an upper bound that never extends the caller's deadline.
// fn must honor its context; a step that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	stepCtx := ctx
	if dl, ok := ctx.Deadline(); ok && limit > 0 {
		limit = min(limit, time.Until(dl))
	}
	if limit > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
