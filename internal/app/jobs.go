package app

import (
	"context"
	"fmt"
	"sort"

	"hackboard/internal/config"
	"hackboard/internal/janitor"
	logx "hackboard/pkg/logx"
)

// jobFuncs are the maintenance jobs a config may schedule by name.
func (a *App) jobFuncs() map[string]func(ctx context.Context) error {
	return map[string]func(ctx context.Context) error{
		janitor.JobSessionsPurge: func(ctx context.Context) error {
			n, err := a.auth.PurgeExpired(ctx)
			if n > 0 {
				a.log.Debug("expired sessions purged", logx.Int("count", n))
			}
			return err
		},
		janitor.JobRateLimitGC: func(context.Context) error {
			n := a.limiter.GC(a.current().RateLimit.IdleTTL.D())
			if n > 0 {
				a.log.Debug("idle rate limit buckets dropped", logx.Int("count", n))
			}
			return nil
		},
		janitor.JobToastsSweep: func(context.Context) error {
			n := a.toasts.Sweep(a.current().Toast.IdleTTL.D())
			if n > 0 {
				a.log.Debug("idle toast queues closed", logx.Int("count", n))
			}
			return nil
		},
	}
}

func (a *App) registerJobs(cfg *config.Config) error {
	if !cfg.Janitor.Enabled {
		return nil
	}
	funcs := a.jobFuncs()
	names := make([]string, 0, len(cfg.Janitor.Jobs))
	for name := range cfg.Janitor.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		run, ok := funcs[name]
		if !ok {
			return fmt.Errorf("janitor.jobs: %w: %s", janitor.ErrUnknownJob, name)
		}
		if err := a.janitor.Register(name, cfg.Janitor.Jobs[name], run); err != nil {
			return fmt.Errorf("janitor.jobs.%s: %w", name, err)
		}
	}
	return nil
}

// validateJobs checks names and specs of a reloaded config. Janitor changes
// still need a restart, but a broken file should not be committed.
func (a *App) validateJobs(cfg *config.Config) error {
	funcs := a.jobFuncs()
	for name, spec := range cfg.Janitor.Jobs {
		if _, ok := funcs[name]; !ok {
			return fmt.Errorf("janitor.jobs: %w: %s", janitor.ErrUnknownJob, name)
		}
		if err := a.janitor.Validate(spec); err != nil {
			return fmt.Errorf("janitor.jobs.%s: %w", name, err)
		}
	}
	return nil
}
