package config

import "time"

// Config is the root of the hackboard config file (JSON or YAML).
//
// Hot-reloadable sections: logging, toast, rate_limit, alerts, pprof.
// Everything else is read once at startup; a change is logged as "restart required".
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Toast     ToastConfig     `json:"toast" yaml:"toast"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Janitor   JanitorConfig   `json:"janitor" yaml:"janitor"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
	Pprof     PprofConfig     `json:"pprof" yaml:"pprof"`
}

// ServerConfig controls the HTTP listener.
//
// Defaults:
//   - addr: "127.0.0.1:8080"
//   - read_timeout: "10s", write_timeout: "15s", idle_timeout: "60s"
//   - shutdown_timeout: "5s"
type ServerConfig struct {
	Addr            string   `json:"addr,omitempty" yaml:"addr,omitempty"`
	ReadTimeout     Duration `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`
	WriteTimeout    Duration `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`
	IdleTimeout     Duration `json:"idle_timeout,omitempty" yaml:"idle_timeout,omitempty"`
	ShutdownTimeout Duration `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`
	// CookieSecure marks session and visitor cookies Secure (HTTPS only).
	CookieSecure bool `json:"cookie_secure,omitempty" yaml:"cookie_secure,omitempty"`
	// TrustedProxies are the addresses or CIDRs whose X-Forwarded-For and
	// X-Real-IP headers are honored. Empty means rate limits key on the peer.
	TrustedProxies []string `json:"trusted_proxies,omitempty" yaml:"trusted_proxies,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level" yaml:"level"`
	Console bool        `json:"console" yaml:"console"`
	File    LoggingFile `json:"file" yaml:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// ToastConfig controls the per-visitor notification queue.
//
// The delays are pointers so an explicit "0s" (disable / remove immediately)
// is distinguishable from an omitted key (use the default).
type ToastConfig struct {
	MaxVisible       int       `json:"max_visible,omitempty" yaml:"max_visible,omitempty"`
	AutoDismissDelay *Duration `json:"auto_dismiss_delay,omitempty" yaml:"auto_dismiss_delay,omitempty"`
	RemoveDelay      *Duration `json:"remove_delay,omitempty" yaml:"remove_delay,omitempty"`
	// IdleTTL closes a visitor's queue after this long without activity.
	IdleTTL Duration `json:"idle_ttl,omitempty" yaml:"idle_ttl,omitempty"`
	// MaxQueues caps the visitor queues held in memory; the least recently
	// used one without an open stream is closed to make room.
	MaxQueues int `json:"max_queues,omitempty" yaml:"max_queues,omitempty"`
}

type AuthConfig struct {
	SessionTTL Duration `json:"session_ttl,omitempty" yaml:"session_ttl,omitempty"`
	BcryptCost int      `json:"bcrypt_cost,omitempty" yaml:"bcrypt_cost,omitempty"`
}

// RateLimitConfig is a per-client token bucket in front of auth and dashboard routes.
type RateLimitConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	RatePerSec float64  `json:"rate_per_sec,omitempty" yaml:"rate_per_sec,omitempty"`
	Burst      int      `json:"burst,omitempty" yaml:"burst,omitempty"`
	IdleTTL    Duration `json:"idle_ttl,omitempty" yaml:"idle_ttl,omitempty"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	storage: { driver: sqlite, path: ./data/hackboard.db }
type StorageConfig struct {
	Driver      string   `json:"driver" yaml:"driver"`
	Path        string   `json:"path,omitempty" yaml:"path,omitempty"`
	BusyTimeout Duration `json:"busy_timeout,omitempty" yaml:"busy_timeout,omitempty"`
}

// JanitorConfig controls periodic maintenance jobs.
// Jobs maps a job name to a cron spec (seconds optional, descriptors allowed).
type JanitorConfig struct {
	Enabled  bool              `json:"enabled" yaml:"enabled"`
	Timezone string            `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Jobs     map[string]string `json:"jobs,omitempty" yaml:"jobs,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

// AlertsConfig forwards warn/error log lines to a Telegram chat.
// The token is never logged.
type AlertsConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Token      string `json:"token,omitempty" yaml:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty" yaml:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty" yaml:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty" yaml:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty" yaml:"rate_per_sec,omitempty"`
}

// PprofConfig controls the optional profiling listener. It is separate from
// the public server and refuses a non-loopback addr without a token unless
// allow_insecure is set.
type PprofConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Addr          string `json:"addr,omitempty" yaml:"addr,omitempty"`
	Token         string `json:"token,omitempty" yaml:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty" yaml:"allow_insecure,omitempty"`
}

const (
	DefaultPprofAddr        = "127.0.0.1:6060"
	DefaultAddr             = "127.0.0.1:8080"
	DefaultMaxVisible       = 1
	DefaultAutoDismissDelay = 1000000 * time.Millisecond
	DefaultRemoveDelay      = time.Second
	DefaultToastIdleTTL     = 30 * time.Minute
	DefaultMaxQueues        = 10000
	DefaultSessionTTL       = time.Hour
	DefaultBcryptCost       = 10
	DefaultRatePerSec       = 5
	DefaultBurst            = 5
	DefaultLimiterIdleTTL   = 10 * time.Minute
	DefaultMetricsPath      = "/metrics"
)

// DefaultJobs are the janitor jobs scheduled when the config names none.
var DefaultJobs = map[string]string{
	"sessions.purge": "@every 1m",
	"ratelimit.gc":   "@every 5m",
	"toasts.sweep":   "@every 10m",
}

// Default returns a config usable without any file (in-memory storage, console logging).
func Default() *Config {
	cfg := &Config{
		Logging:   LoggingConfig{Level: "info", Console: true},
		RateLimit: RateLimitConfig{Enabled: true},
		Storage:   StorageConfig{Driver: "memory"},
		Janitor:   JanitorConfig{Enabled: true},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills omitted (zero) values in place.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(10 * time.Second)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(15 * time.Second)
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = Duration(60 * time.Second)
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(5 * time.Second)
	}

	if c.Toast.MaxVisible <= 0 {
		c.Toast.MaxVisible = DefaultMaxVisible
	}
	if c.Toast.AutoDismissDelay == nil {
		d := Duration(DefaultAutoDismissDelay)
		c.Toast.AutoDismissDelay = &d
	}
	if c.Toast.RemoveDelay == nil {
		d := Duration(DefaultRemoveDelay)
		c.Toast.RemoveDelay = &d
	}
	if c.Toast.IdleTTL == 0 {
		c.Toast.IdleTTL = Duration(DefaultToastIdleTTL)
	}
	if c.Toast.MaxQueues == 0 {
		c.Toast.MaxQueues = DefaultMaxQueues
	}

	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = Duration(DefaultSessionTTL)
	}
	if c.Auth.BcryptCost == 0 {
		c.Auth.BcryptCost = DefaultBcryptCost
	}

	if c.RateLimit.RatePerSec == 0 {
		c.RateLimit.RatePerSec = DefaultRatePerSec
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = DefaultBurst
	}
	if c.RateLimit.IdleTTL == 0 {
		c.RateLimit.IdleTTL = Duration(DefaultLimiterIdleTTL)
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.BusyTimeout == 0 {
		c.Storage.BusyTimeout = Duration(time.Second)
	}

	if len(c.Janitor.Jobs) == 0 {
		c.Janitor.Jobs = make(map[string]string, len(DefaultJobs))
		for k, v := range DefaultJobs {
			c.Janitor.Jobs[k] = v
		}
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Alerts.MinLevel == "" {
		c.Alerts.MinLevel = "warn"
	}
	if c.Alerts.RatePerSec == 0 {
		c.Alerts.RatePerSec = 1
	}

	if c.Pprof.Addr == "" {
		c.Pprof.Addr = DefaultPprofAddr
	}
}
