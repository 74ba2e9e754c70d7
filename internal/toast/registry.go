package toast

import (
	"sync"
	"time"
)

// Registry owns one Manager per visitor key.
type Registry struct {
	mu       sync.Mutex
	opts     Options
	managers map[string]*Manager
}

func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts.normalized(), managers: map[string]*Manager{}}
}

// For returns the visitor's manager, creating it on first use. When the
// registry is at MaxManagers the least recently used manager without
// observers is closed to make room. Managers with an open stream are never
// evicted, so Len can exceed the cap while every queue is being watched.
func (r *Registry) For(key string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.managers[key]; ok && !m.Closed() {
		m.touch()
		return m
	}
	if limit := r.opts.MaxManagers; limit > 0 {
		for len(r.managers) >= limit && r.evictLocked() {
		}
	}
	m := NewManager(r.opts)
	r.managers[key] = m
	return m
}

// Lookup returns the visitor's manager without creating one.
func (r *Registry) Lookup(key string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[key]
	if !ok || m.Closed() {
		return nil, false
	}
	m.touch()
	return m, true
}

// Add shows a toast on the visitor's queue. A manager closed by Sweep
// between For and Add is replaced and the toast is added to the new one.
func (r *Registry) Add(key string, in Input) Handle {
	for {
		// For replaces a closed manager, so a retry lands on a live one.
		if h := r.For(key).Add(in); h.ID != "" {
			return h
		}
	}
}

// evictLocked closes the least recently used manager that has no observers.
// It reports false when every manager is observed.
func (r *Registry) evictLocked() bool {
	var (
		oldKey string
		oldest *Manager
	)
	for key, m := range r.managers {
		if m.Observers() > 0 {
			continue
		}
		if oldest == nil || m.LastUsed().Before(oldest.LastUsed()) {
			oldKey, oldest = key, m
		}
	}
	if oldest == nil {
		return false
	}
	delete(r.managers, oldKey)
	oldest.Close()
	r.opts.Recorder.QueueEvicted()
	return true
}

// Apply changes the limits used for managers created afterwards. A nil
// Clock or Recorder keeps the current one.
func (r *Registry) Apply(opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if opts.Clock == nil {
		opts.Clock = r.opts.Clock
	}
	if opts.Recorder == nil {
		opts.Recorder = r.opts.Recorder
	}
	r.opts = opts.normalized()
}

func (r *Registry) Options() Options {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opts
}

// Sweep closes managers unused for longer than idle. Managers with live
// observers (an open websocket) are kept. It returns how many were closed.
// Managers are closed before the lock is released, so For never hands out
// one that is about to close.
func (r *Registry) Sweep(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.opts.Clock.Now().Add(-idle)
	closed := 0
	for key, m := range r.managers {
		if m.Observers() > 0 || m.LastUsed().After(cutoff) {
			continue
		}
		delete(r.managers, key)
		m.Close()
		closed++
	}
	return closed
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}

// Close closes every manager.
func (r *Registry) Close() {
	r.mu.Lock()
	ms := r.managers
	r.managers = map[string]*Manager{}
	r.mu.Unlock()

	for _, m := range ms {
		m.Close()
	}
}
