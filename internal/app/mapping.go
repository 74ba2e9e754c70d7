package app

import (
	"strings"

	"hackboard/internal/adapters/telegram"
	"hackboard/internal/config"
	"hackboard/internal/httpapi"
	"hackboard/internal/janitor"
	"hackboard/internal/observability/pprof"
	"hackboard/internal/storage"
	"hackboard/internal/toast"
	logx "hackboard/pkg/logx"
)

// Config sections mapped onto component configs. Every mapper expects a
// config that went through ApplyDefaults.

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    cfg.Alerts.Enabled,
			MinLevel:   cfg.Alerts.MinLevel,
			RatePerSec: cfg.Alerts.RatePerSec,
		},
	}
}

// toastOptions leaves Clock and Recorder unset; Registry.Apply keeps the current ones.
func toastOptions(cfg *config.Config) toast.Options {
	o := toast.Options{MaxVisible: cfg.Toast.MaxVisible, MaxManagers: cfg.Toast.MaxQueues}
	if d := cfg.Toast.AutoDismissDelay; d != nil {
		o.AutoDismissDelay = d.D()
	}
	if d := cfg.Toast.RemoveDelay; d != nil {
		o.RemoveDelay = d.D()
	}
	return o
}

func limiterConfig(cfg *config.Config) httpapi.LimiterConfig {
	return httpapi.LimiterConfig{
		Enabled:    cfg.RateLimit.Enabled,
		RatePerSec: cfg.RateLimit.RatePerSec,
		Burst:      cfg.RateLimit.Burst,
	}
}

func storageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: cfg.Storage.BusyTimeout.D(),
	}
}

func janitorConfig(cfg *config.Config) janitor.Config {
	return janitor.Config{Timezone: cfg.Janitor.Timezone}
}

func pprofConfig(cfg *config.Config) pprof.Config {
	return pprof.Config{
		Enabled:       cfg.Pprof.Enabled,
		Addr:          strings.TrimSpace(cfg.Pprof.Addr),
		Token:         cfg.Pprof.Token,
		AllowInsecure: cfg.Pprof.AllowInsecure,
	}
}

func alertConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:    strings.TrimSpace(cfg.Alerts.Token),
		ChatID:   cfg.Alerts.ChatID,
		ThreadID: cfg.Alerts.ThreadID,
	}
}
