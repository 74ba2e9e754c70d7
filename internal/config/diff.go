package config

import (
	"reflect"
	"strings"

	logx "hackboard/pkg/logx"
)

// Sections that take effect without a restart.
var hotSections = map[string]bool{
	"logging":    true,
	"toast":      true,
	"rate_limit": true,
	"alerts":     true,
	"pprof":      true,
}

// IsHot reports whether a changed section is applied live by the running app.
func IsHot(section string) bool { return hotSections[section] }

// SummarizeChange returns the changed top-level sections and safe structured
// fields for logging. Secrets (the alert bot token) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", newCfg.Server.Addr),
			logx.Int("server.trusted_proxies", len(newCfg.Server.TrustedProxies)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Toast, newCfg.Toast) {
		changed = append(changed, "toast")
		attrs = append(attrs,
			logx.Int("toast.max_visible", newCfg.Toast.MaxVisible),
			logx.String("toast.auto_dismiss_delay", durString(newCfg.Toast.AutoDismissDelay)),
			logx.String("toast.remove_delay", durString(newCfg.Toast.RemoveDelay)),
			logx.Int("toast.max_queues", newCfg.Toast.MaxQueues),
		)
	}

	if oldCfg.Auth != newCfg.Auth {
		changed = append(changed, "auth")
		attrs = append(attrs, logx.String("auth.session_ttl", newCfg.Auth.SessionTTL.String()))
	}

	if oldCfg.RateLimit != newCfg.RateLimit {
		changed = append(changed, "rate_limit")
		attrs = append(attrs,
			logx.Bool("rate_limit.enabled", newCfg.RateLimit.Enabled),
			logx.Any("rate_limit.rate_per_sec", newCfg.RateLimit.RatePerSec),
			logx.Int("rate_limit.burst", newCfg.RateLimit.Burst),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if !reflect.DeepEqual(oldCfg.Janitor, newCfg.Janitor) {
		changed = append(changed, "janitor")
		attrs = append(attrs,
			logx.Bool("janitor.enabled", newCfg.Janitor.Enabled),
			logx.Int("janitor.jobs", len(newCfg.Janitor.Jobs)),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.Bool("metrics.enabled", newCfg.Metrics.Enabled))
	}

	if oldCfg.Alerts != newCfg.Alerts {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.Bool("alerts.enabled", newCfg.Alerts.Enabled),
			logx.Bool("alerts.token_set", strings.TrimSpace(newCfg.Alerts.Token) != ""),
			logx.String("alerts.min_level", newCfg.Alerts.MinLevel),
		)
	}

	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", newCfg.Pprof.Addr),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
		)
	}

	return changed, attrs
}

// RestartRequired lists changed sections that are only read at startup.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !IsHot(s) {
			out = append(out, s)
		}
	}
	return out
}

func durString(d *Duration) string {
	if d == nil {
		return ""
	}
	return d.String()
}
