package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type LimiterConfig struct {
	Enabled    bool
	RatePerSec float64
	Burst      int
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter is a token bucket per client key (the real client IP).
//
// It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	cfg     LimiterConfig
	buckets map[string]*bucket
	now     func() time.Time
}

func NewLimiter(cfg LimiterConfig) *Limiter {
	l := &Limiter{buckets: map[string]*bucket{}, now: time.Now}
	l.applyLocked(cfg)
	return l
}

// Apply swaps limits. Existing buckets are reset so the new burst takes effect.
func (l *Limiter) Apply(cfg LimiterConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applyLocked(cfg)
}

func (l *Limiter) applyLocked(cfg LimiterConfig) {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.RatePerSec < 0 {
		cfg.RatePerSec = 0
	}
	l.cfg = cfg
	l.buckets = map[string]*bucket{}
}

func (l *Limiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.cfg.Enabled {
		return true
	}
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(l.cfg.RatePerSec), l.cfg.Burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// GC drops buckets idle for longer than idle and returns how many went.
func (l *Limiter) GC(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-idle)
	n := 0
	for k, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
