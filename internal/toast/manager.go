package toast

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ids are unique for the process lifetime, across managers.
// A uint64 would need 2^64 toasts to wrap.
var idSeq atomic.Uint64

func nextID() string { return strconv.FormatUint(idSeq.Add(1), 10) }

type timerKind uint8

const (
	autoDismiss timerKind = iota + 1
	removal
)

// pending is the single timer a toast may own. gen lets a callback that
// lost the race with Stop recognise itself as stale.
type pending struct {
	t    Timer
	kind timerKind
	gen  uint64
}

type observer struct {
	fn      Observer
	removed atomic.Bool
}

// Manager is a per-visitor toast queue. The zero value is not usable; use NewManager.
type Manager struct {
	opts Options

	mu        sync.Mutex
	toasts    []Toast // newest first
	timers    map[string]pending
	timerGen  uint64
	observers []*observer
	queue     []State
	draining  bool
	closed    bool
	version   uint64

	lastUsed atomic.Int64 // unix nanos from opts.Clock
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		opts:   opts.normalized(),
		timers: map[string]pending{},
	}
	m.touch()
	return m
}

func (m *Manager) touch() { m.lastUsed.Store(m.opts.Clock.Now().UnixNano()) }

// Add shows a new toast and returns a handle bound to it. On a closed
// Manager the toast is dropped and the zero Handle is returned.
func (m *Manager) Add(in Input) Handle {
	m.touch()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Handle{}
	}
	id := nextID()
	h := Handle{ID: id, m: m}
	t := Toast{
		ID:          id,
		Title:       in.Title,
		Description: in.Description,
		Variant:     in.Variant,
		Open:        true,
		Action:      in.Action,
	}
	if t.Variant == "" {
		t.Variant = VariantDefault
	}
	t = t.clone()

	m.toasts = append([]Toast{t}, m.toasts...)
	for len(m.toasts) > m.opts.MaxVisible {
		last := m.toasts[len(m.toasts)-1]
		m.toasts = m.toasts[:len(m.toasts)-1]
		m.stopTimerLocked(last.ID)
		m.opts.Recorder.Evicted()
	}
	if m.opts.AutoDismissDelay > 0 {
		m.armLocked(id, autoDismiss, m.opts.AutoDismissDelay)
	}
	m.opts.Recorder.Added(t.Variant)
	m.enqueueLocked()
	m.mu.Unlock()

	m.flush()
	return h
}

// Toast is the UI-facing spelling of Add.
func (m *Manager) Toast(in Input) Handle { return m.Add(in) }

// Update merges p into the toast with the given id. Unknown ids are ignored.
func (m *Manager) Update(id string, p Patch) {
	m.touch()
	m.mu.Lock()
	i := m.indexLocked(id)
	if m.closed || i < 0 {
		m.mu.Unlock()
		return
	}
	t := m.toasts[i]
	p.apply(&t)
	m.toasts[i] = t
	m.enqueueLocked()
	m.mu.Unlock()

	m.flush()
}

// Dismiss closes an open toast and arms its removal; dismissing a closing
// toast removes it immediately. Unknown ids are ignored.
func (m *Manager) Dismiss(id string) {
	m.touch()
	m.mu.Lock()
	if m.closed || !m.dismissLocked(id) {
		m.mu.Unlock()
		return
	}
	m.enqueueLocked()
	m.mu.Unlock()

	m.flush()
}

// DismissAll closes every open toast with a single broadcast. Toasts that are
// already closing keep their removal timers.
func (m *Manager) DismissAll() {
	m.touch()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	changed := false
	for i := range m.toasts {
		if m.toasts[i].Open {
			m.closeLocked(i)
			changed = true
		}
	}
	if !changed {
		m.mu.Unlock()
		return
	}
	m.enqueueLocked()
	m.mu.Unlock()

	m.flush()
}

// Subscribe registers fn for future broadcasts. The current state is not
// replayed; read Snapshot after subscribing if it is needed.
func (m *Manager) Subscribe(fn Observer) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	o := &observer{fn: fn}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return func() {}
	}
	m.observers = append(m.observers, o)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.removed.Store(true)
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, cur := range m.observers {
				if cur == o {
					m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
					return
				}
			}
		})
	}
}

func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Close stops every pending timer and drops all observers. Later calls on the
// Manager do nothing.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for id := range m.timers {
		m.stopTimerLocked(id)
	}
	for _, o := range m.observers {
		o.removed.Store(true)
	}
	m.observers = nil
	m.queue = nil
	m.toasts = nil
}

func (m *Manager) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Pending reports the number of armed timers.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Manager) indexLocked(id string) int {
	for i := range m.toasts {
		if m.toasts[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) dismissLocked(id string) bool {
	i := m.indexLocked(id)
	if i < 0 {
		return false
	}
	if m.toasts[i].Open {
		m.closeLocked(i)
		return true
	}
	m.removeLocked(i)
	return true
}

func (m *Manager) closeLocked(i int) {
	id := m.toasts[i].ID
	m.toasts[i].Open = false
	m.stopTimerLocked(id)
	m.armLocked(id, removal, m.opts.RemoveDelay)
	m.opts.Recorder.Closing()
}

func (m *Manager) removeLocked(i int) {
	id := m.toasts[i].ID
	m.stopTimerLocked(id)
	m.toasts = append(m.toasts[:i:i], m.toasts[i+1:]...)
	m.opts.Recorder.Removed()
}

func (m *Manager) armLocked(id string, kind timerKind, d time.Duration) {
	m.timerGen++
	gen := m.timerGen
	t := m.opts.Clock.AfterFunc(d, func() { m.fire(id, gen) })
	m.timers[id] = pending{t: t, kind: kind, gen: gen}
}

func (m *Manager) stopTimerLocked(id string) {
	if p, ok := m.timers[id]; ok {
		p.t.Stop()
		delete(m.timers, id)
	}
}

func (m *Manager) fire(id string, gen uint64) {
	m.mu.Lock()
	p, ok := m.timers[id]
	if m.closed || !ok || p.gen != gen {
		m.mu.Unlock()
		return
	}
	delete(m.timers, id)
	i := m.indexLocked(id)
	if i < 0 {
		m.mu.Unlock()
		return
	}
	switch p.kind {
	case autoDismiss:
		m.closeLocked(i)
	case removal:
		m.removeLocked(i)
	}
	m.enqueueLocked()
	m.mu.Unlock()

	m.flush()
}

func (m *Manager) snapshotLocked() State {
	st := State{Toasts: make([]Toast, len(m.toasts)), Version: m.version}
	for i, t := range m.toasts {
		st.Toasts[i] = t.clone()
	}
	return st
}

// enqueueLocked records a change and queues the new state for observers.
func (m *Manager) enqueueLocked() {
	m.version++
	if len(m.observers) == 0 {
		return
	}
	m.queue = append(m.queue, m.snapshotLocked())
}

// flush delivers queued states in order. Only one goroutine drains at a
// time; a nested call from an observer returns at once and its state is
// delivered by the outer loop.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	m.mu.Unlock()

	// a panicking observer must not wedge later broadcasts
	defer func() {
		if r := recover(); r != nil {
			m.mu.Lock()
			m.draining = false
			m.mu.Unlock()
			panic(r)
		}
	}()

	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.draining = false
			m.mu.Unlock()
			return
		}
		st := m.queue[0]
		m.queue[0] = State{}
		m.queue = m.queue[1:]
		obs := append([]*observer(nil), m.observers...)
		m.mu.Unlock()

		for _, o := range obs {
			if !o.removed.Load() {
				m.deliver(o, st)
			}
		}
	}
}

// deliver gives each observer its own copy so one cannot corrupt another's view.
func (m *Manager) deliver(o *observer, st State) {
	cp := State{Toasts: make([]Toast, len(st.Toasts))}
	for i, t := range st.Toasts {
		cp.Toasts[i] = t.clone()
	}
	o.fn(cp)
}

// Observers reports the number of subscribed observers.
func (m *Manager) Observers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.observers)
}

// LastUsed is the clock time of the most recent operation.
func (m *Manager) LastUsed() time.Time { return time.Unix(0, m.lastUsed.Load()) }
