// Package janitor runs periodic maintenance on a cron schedule.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "hackboard/pkg/logx"
)

// Names of the jobs the app registers.
const (
	JobSessionsPurge = "sessions.purge"
	JobRateLimitGC   = "ratelimit.gc"
	JobToastsSweep   = "toasts.sweep"
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrBusy       = errors.New("job still running")
	ErrStarted    = errors.New("janitor already started")
)

const DefaultTimeout = 30 * time.Second

type Config struct {
	// Timezone is an IANA name; empty means time.Local.
	Timezone string
	// Timeout bounds each run. Zero means DefaultTimeout.
	Timeout time.Duration
}

// RunObserver is told about every finished run.
type RunObserver func(job string, err error, took time.Duration)

type Option func(*Service)

func WithObserver(fn RunObserver) Option {
	return func(s *Service) { s.observe = fn }
}

type job struct {
	name    string
	spec    string
	run     func(ctx context.Context) error
	id      cron.EntryID
	running atomic.Bool
}

type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	cfg     Config
	parser  cron.Parser
	c       *cron.Cron
	ctx     context.Context
	jobs    map[string]*job
	observe RunObserver
}

func New(cfg Config, log logx.Logger, opts ...Option) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	s := &Service{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "janitor")),
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:   map[string]*job{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Validate reports whether spec parses with the janitor's parser.
func (s *Service) Validate(spec string) error {
	if _, err := s.parser.Parse(strings.TrimSpace(spec)); err != nil {
		return fmt.Errorf("cron spec %q: %w", spec, err)
	}
	return nil
}

// Register adds a named job. Registering after Start schedules it at once.
func (s *Service) Register(name, spec string, run func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	spec = strings.TrimSpace(spec)
	if name == "" || run == nil {
		return errors.New("job name and func required")
	}
	if err := s.Validate(spec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}
	j := &job{name: name, spec: spec, run: run}
	s.jobs[name] = j
	if s.c != nil {
		return s.scheduleLocked(j)
	}
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return ErrStarted
	}
	loc := s.location()
	s.ctx = ctx
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{s.log}),
	)
	for _, j := range s.jobs {
		if err := s.scheduleLocked(j); err != nil {
			s.c = nil
			return err
		}
	}
	s.c.Start()
	s.log.Info("janitor started", logx.Int("jobs", len(s.jobs)), logx.String("tz", loc.String()))
	return nil
}

// Stop halts scheduling and waits for running jobs until ctx is done.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, j := range s.jobs {
		j.id = 0
	}
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		s.log.Info("janitor stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("janitor stop: %w", ctx.Err())
	}
}

// RunNow runs a job immediately in the caller's goroutine.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.exec(ctx, j)
}

type Entry struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next,omitempty"`
	Prev time.Time `json:"prev,omitempty"`
}

// Entries lists registered jobs sorted by name.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.jobs))
	for _, j := range s.jobs {
		e := Entry{Name: j.name, Spec: j.spec}
		if s.c != nil && j.id != 0 {
			ce := s.c.Entry(j.id)
			e.Next, e.Prev = ce.Next, ce.Prev
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (s *Service) scheduleLocked(j *job) error {
	ctx := s.ctx
	id, err := s.c.AddFunc(j.spec, func() {
		if err := s.exec(ctx, j); errors.Is(err, ErrBusy) {
			s.log.Debug("job skipped, previous run still active", logx.String("job", j.name))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", j.name, err)
	}
	j.id = id
	return nil
}

func (s *Service) exec(parent context.Context, j *job) (err error) {
	if !j.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer j.running.Store(false)
	if parent == nil {
		parent = context.Background()
	}
	if parent.Err() != nil {
		return parent.Err()
	}

	ctx, cancel := context.WithTimeout(parent, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("job panic", logx.String("job", j.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
		took := time.Since(start)
		if err != nil {
			s.log.Warn("job failed", logx.String("job", j.name), logx.Duration("took", took), logx.Err(err))
		} else {
			s.log.Debug("job ok", logx.String("job", j.name), logx.Duration("took", took))
		}
		if s.observe != nil {
			s.observe(j.name, err, took)
		}
	}()
	return j.run(ctx)
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger routes robfig/cron's own messages into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Trace("cron: "+msg, kv(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kv(keysAndValues), logx.Err(err))...)
}

func kv(pairs []any) []logx.Field {
	out := make([]logx.Field, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		k, ok := pairs[i].(string)
		if !ok {
			k = fmt.Sprint(pairs[i])
		}
		out = append(out, logx.Any(k, pairs[i+1]))
	}
	return out
}
