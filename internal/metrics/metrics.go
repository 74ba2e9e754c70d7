// Package metrics exposes hackboard's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so callers do not need to
// check whether metrics are enabled.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hackboard/internal/runtime/supervisor"
	"hackboard/internal/toast"
)

const Namespace = "hackboard"

type Metrics struct {
	reg *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	rateLimited  *prometheus.CounterVec

	toastsAdded   *prometheus.CounterVec
	toastsClosing prometheus.Counter
	toastsRemoved prometheus.Counter
	toastsEvicted prometheus.Counter
	queueEvicted  prometheus.Counter
	wsClients     prometheus.Gauge

	authEvents  *prometheus.CounterVec
	janitorRuns *prometheus.CounterVec
	janitorTime *prometheus.HistogramVec
	configLoads *prometheus.CounterVec
}

// New builds a private registry with the Go and process collectors plus
// hackboard's own metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}, []string{"route"}),

		toastsAdded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "toast",
			Name:      "added_total",
			Help:      "Toasts added, by variant.",
		}, []string{"variant"}),
		toastsClosing: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "toast",
			Name:      "dismissed_total",
			Help:      "Toasts that entered the closing state.",
		}),
		toastsRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "toast",
			Name:      "removed_total",
			Help:      "Toasts removed after their removal delay.",
		}),
		toastsEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "toast",
			Name:      "evicted_total",
			Help:      "Toasts dropped because the visible limit was reached.",
		}),
		queueEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "toast",
			Name:      "managers_evicted_total",
			Help:      "Visitor queues closed because the registry was full.",
		}),
		wsClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "toast",
			Name:      "stream_clients",
			Help:      "Open toast websocket streams.",
		}),

		authEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "auth",
			Name:      "events_total",
			Help:      "Session changes by event type.",
		}, []string{"type"}),
		janitorRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "janitor",
			Name:      "runs_total",
			Help:      "Maintenance job runs by job and result.",
		}, []string{"job", "result"}),
		janitorTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "janitor",
			Name:      "run_duration_seconds",
			Help:      "Maintenance job duration.",
			Buckets:   []float64{.001, .01, .1, 1, 10, 60},
		}, []string{"job"}),
		configLoads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "config",
			Name:      "reloads_total",
			Help:      "Config reload attempts by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the exposition format. A nil receiver serves 404.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveHTTP(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) RateLimited(route string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(route).Inc()
}

func (m *Metrics) StreamOpened() {
	if m != nil {
		m.wsClients.Inc()
	}
}

func (m *Metrics) StreamClosed() {
	if m != nil {
		m.wsClients.Dec()
	}
}

func (m *Metrics) AuthEvent(typ string) {
	if m == nil {
		return
	}
	m.authEvents.WithLabelValues(typ).Inc()
}

func (m *Metrics) JanitorRun(job string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.janitorRuns.WithLabelValues(job, result).Inc()
	m.janitorTime.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) ConfigReload(changed bool, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.configLoads.WithLabelValues("error").Inc()
	case changed:
		m.configLoads.WithLabelValues("applied").Inc()
	default:
		m.configLoads.WithLabelValues("unchanged").Inc()
	}
}

// WatchSupervisor exports the supervisor counters, read at scrape time.
func (m *Metrics) WatchSupervisor(read func() supervisor.Counters) {
	if m == nil || read == nil {
		return
	}
	f := promauto.With(m.reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: "supervisor", Name: "goroutines",
		Help: "Supervised goroutines currently running.",
	}, func() float64 { return float64(read().Active) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: "supervisor", Name: "restarts_total",
		Help: "Supervised goroutine restarts.",
	}, func() float64 { return float64(read().Restarts) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: Namespace, Subsystem: "supervisor", Name: "panics_total",
		Help: "Panics recovered by the supervisor.",
	}, func() float64 { return float64(read().Panics) })
}

// WatchToasts exports the number of live per-visitor toast managers.
func (m *Metrics) WatchToasts(r *toast.Registry) {
	if m == nil || r == nil {
		return
	}
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: Namespace, Subsystem: "toast", Name: "managers",
		Help: "Per-visitor toast managers held by the registry.",
	}, func() float64 { return float64(r.Len()) })
}

// Toasts adapts m to toast.Recorder.
func (m *Metrics) Toasts() toast.Recorder {
	if m == nil {
		return nil
	}
	return toastRecorder{m}
}

type toastRecorder struct{ m *Metrics }

func (r toastRecorder) Added(v toast.Variant) { r.m.toastsAdded.WithLabelValues(string(v)).Inc() }
func (r toastRecorder) Closing()              { r.m.toastsClosing.Inc() }
func (r toastRecorder) Removed()              { r.m.toastsRemoved.Inc() }
func (r toastRecorder) Evicted()              { r.m.toastsEvicted.Inc() }
func (r toastRecorder) QueueEvicted()         { r.m.queueEvicted.Inc() }
