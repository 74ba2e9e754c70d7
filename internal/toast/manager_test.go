package toast

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) observe(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func (r *recorder) last() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[len(r.states)-1]
}

func newTestManager(t *testing.T, mutate func(o *Options)) (*Manager, *FakeClock) {
	t.Helper()
	clk := NewFakeClock(time.Unix(1_700_000_000, 0))
	opts := DefaultOptions()
	opts.Clock = clk
	if mutate != nil {
		mutate(&opts)
	}
	m := NewManager(opts)
	t.Cleanup(m.Close)
	return m, clk
}

func strptr(s string) *string { return &s }

func TestAddNeverExceedsMaxVisible(t *testing.T) {
	for _, limit := range []int{1, 2, 5} {
		m, _ := newTestManager(t, func(o *Options) { o.MaxVisible = limit })
		for i := 0; i < 12; i++ {
			m.Add(Input{Title: strconv.Itoa(i)})
			assert.LessOrEqual(t, len(m.Snapshot().Toasts), limit)
		}
	}
}

func TestAddBroadcastsNewToastFirst(t *testing.T) {
	m, _ := newTestManager(t, func(o *Options) { o.MaxVisible = 3 })
	rec := &recorder{}
	m.Subscribe(rec.observe)

	m.Add(Input{Title: "older"})
	h := m.Add(Input{
		Title:       "C",
		Description: "details",
		Variant:     VariantDestructive,
		Action:      &Action{Label: "Retry", Href: "/auth/login"},
	})

	require.Equal(t, 2, rec.calls(), "each add broadcasts before returning")
	got := rec.last().Toasts[0]
	assert.Equal(t, Toast{
		ID:          h.ID,
		Title:       "C",
		Description: "details",
		Variant:     VariantDestructive,
		Open:        true,
		Action:      &Action{Label: "Retry", Href: "/auth/login"},
	}, got)
	assert.Equal(t, "older", rec.last().Toasts[1].Title)
}

func TestAddDefaultsVariant(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.Add(Input{Title: "plain"})
	assert.Equal(t, VariantDefault, m.Snapshot().Toasts[0].Variant)
}

func TestIDsAreDistinctAndIncreasing(t *testing.T) {
	m, _ := newTestManager(t, nil)
	a := m.Add(Input{})
	b := m.Add(Input{})
	other, _ := newTestManager(t, nil)
	c := other.Add(Input{})

	ai, err := strconv.ParseUint(a.ID, 10, 64)
	require.NoError(t, err)
	bi, _ := strconv.ParseUint(b.ID, 10, 64)
	ci, _ := strconv.ParseUint(c.ID, 10, 64)
	assert.Less(t, ai, bi)
	assert.Less(t, bi, ci)
}

func TestUpdateChangesOnlyTitle(t *testing.T) {
	m, _ := newTestManager(t, func(o *Options) { o.MaxVisible = 3 })
	other := m.Add(Input{Title: "other", Description: "keep"})
	h := m.Add(Input{Title: "before", Description: "desc", Variant: VariantDestructive, Action: &Action{Label: "x"}})

	before := m.Snapshot()
	h.Update(Patch{Title: strptr("X")})
	after := m.Snapshot()

	want := before.Toasts[0]
	want.Title = "X"
	assert.Equal(t, want, after.Toasts[0])
	assert.Equal(t, before.Toasts[1], after.Toasts[1])
	assert.Equal(t, other.ID, after.Toasts[1].ID)
}

func TestUpdateUnknownIDIsSilent(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.Add(Input{Title: "a"})
	rec := &recorder{}
	m.Subscribe(rec.observe)

	before := m.Snapshot()
	m.Update("does-not-exist", Patch{Title: strptr("nope")})
	assert.Equal(t, before, m.Snapshot())
	assert.Zero(t, rec.calls())
}

func TestDismissUnknownIDLeavesStateUnchanged(t *testing.T) {
	m, clk := newTestManager(t, nil)
	m.Add(Input{Title: "a"})
	rec := &recorder{}
	m.Subscribe(rec.observe)

	before := m.Snapshot()
	m.Dismiss("404")
	clk.Advance(time.Minute)
	assert.Equal(t, before, m.Snapshot())
	assert.Zero(t, rec.calls())
}

func TestDismissClosesThenRemoves(t *testing.T) {
	m, clk := newTestManager(t, nil)
	rec := &recorder{}
	m.Subscribe(rec.observe)
	h := m.Add(Input{Title: "bye"})

	h.Dismiss()
	require.Equal(t, 2, rec.calls())
	closing := rec.last().Toasts
	require.Len(t, closing, 1)
	assert.False(t, closing[0].Open)

	clk.Advance(DefaultRemoveDelay - time.Millisecond)
	assert.Len(t, m.Snapshot().Toasts, 1, "removal waits for the remove delay")

	clk.Advance(time.Millisecond)
	assert.Empty(t, m.Snapshot().Toasts)
	assert.Equal(t, 3, rec.calls())
	assert.Zero(t, m.Pending())
}

func TestDismissTwiceEqualsOnce(t *testing.T) {
	once, clk1 := newTestManager(t, func(o *Options) { o.MaxVisible = 2 })
	twice, clk2 := newTestManager(t, func(o *Options) { o.MaxVisible = 2 })

	once.Add(Input{Title: "keep"})
	h1 := once.Add(Input{Title: "drop"})
	twice.Add(Input{Title: "keep"})
	h2 := twice.Add(Input{Title: "drop"})

	h1.Dismiss()
	h2.Dismiss()
	h2.Dismiss()
	clk1.Advance(time.Minute)
	clk2.Advance(time.Minute)

	titles := func(s State) []string {
		var out []string
		for _, t := range s.Toasts {
			out = append(out, t.Title)
		}
		return out
	}
	assert.Equal(t, titles(once.Snapshot()), titles(twice.Snapshot()))
	assert.Equal(t, []string{"keep"}, titles(twice.Snapshot()))
}

func TestSecondDismissRemovesImmediatelyAndCancelsTimer(t *testing.T) {
	m, clk := newTestManager(t, nil)
	rec := &recorder{}
	m.Subscribe(rec.observe)
	h := m.Add(Input{Title: "a"})

	h.Dismiss()
	h.Dismiss()
	assert.Empty(t, m.Snapshot().Toasts)
	assert.Zero(t, m.Pending())
	assert.Zero(t, clk.Pending(), "the removal timer is stopped")

	calls := rec.calls()
	clk.Advance(time.Hour)
	assert.Equal(t, calls, rec.calls(), "no late broadcast from a cancelled timer")
}

func TestHandleDismissTargetsOnlyItsToast(t *testing.T) {
	m, clk := newTestManager(t, func(o *Options) { o.MaxVisible = 3 })
	a := m.Add(Input{Title: "a"})
	b := m.Add(Input{Title: "b"})
	c := m.Add(Input{Title: "c"})

	b.Dismiss()
	clk.Advance(DefaultRemoveDelay)

	s := m.Snapshot()
	require.Len(t, s.Toasts, 2)
	assert.Equal(t, c.ID, s.Toasts[0].ID)
	assert.Equal(t, a.ID, s.Toasts[1].ID)
	assert.True(t, s.Toasts[0].Open)
	assert.True(t, s.Toasts[1].Open)
}

func TestOldestIsEvicted(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.Add(Input{Title: "A"})
	m.Add(Input{Title: "B"})

	s := m.Snapshot()
	require.Len(t, s.Toasts, 1)
	assert.Equal(t, "B", s.Toasts[0].Title)
}

func TestEvictionStopsTimer(t *testing.T) {
	m, clk := newTestManager(t, func(o *Options) { o.AutoDismissDelay = time.Second })
	m.Add(Input{Title: "A"})
	require.Equal(t, 1, clk.Pending())

	m.Add(Input{Title: "B"})
	assert.Equal(t, 1, clk.Pending(), "A's timer was stopped on eviction")
	assert.Equal(t, 1, m.Pending())
}

func TestSubscribeReceivesLaterAdds(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.Add(Input{Title: "before"})

	rec := &recorder{}
	m.Subscribe(rec.observe)
	assert.Zero(t, rec.calls(), "current state is not replayed")

	m.Add(Input{Title: "C"})
	require.Equal(t, 1, rec.calls())
	assert.Equal(t, "C", rec.last().Toasts[0].Title)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	m, _ := newTestManager(t, nil)
	rec := &recorder{}
	unsubscribe := m.Subscribe(rec.observe)

	m.Add(Input{Title: "one"})
	unsubscribe()
	unsubscribe()
	m.Add(Input{Title: "two"})

	assert.Equal(t, 1, rec.calls())
	assert.Zero(t, m.Observers())
}

func TestObserversCalledInSubscriptionOrder(t *testing.T) {
	m, _ := newTestManager(t, nil)
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		m.Subscribe(func(State) { order = append(order, i) })
	}
	m.Add(Input{})
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestObserverMutationDoesNotLeak(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.Subscribe(func(s State) {
		s.Toasts[0].Title = "tampered"
		s.Toasts[0].Action.Label = "tampered"
	})
	rec := &recorder{}
	m.Subscribe(rec.observe)

	m.Add(Input{Title: "clean", Action: &Action{Label: "ok"}})
	assert.Equal(t, "clean", rec.last().Toasts[0].Title)
	assert.Equal(t, "ok", rec.last().Toasts[0].Action.Label)
	assert.Equal(t, "clean", m.Snapshot().Toasts[0].Title)
}

func TestReentrantObserverKeepsOrder(t *testing.T) {
	m, _ := newTestManager(t, func(o *Options) { o.MaxVisible = 5 })

	var seen []string
	m.Subscribe(func(s State) {
		if len(s.Toasts) == 0 {
			return
		}
		seen = append(seen, s.Toasts[0].Title)
		// react to the first toast by adding a follow-up
		if s.Toasts[0].Title == "first" && len(s.Toasts) == 1 {
			m.Add(Input{Title: "follow-up"})
		}
	})
	var second []string
	m.Subscribe(func(s State) { second = append(second, s.Toasts[0].Title) })

	m.Add(Input{Title: "first"})

	assert.Equal(t, []string{"first", "follow-up"}, seen)
	assert.Equal(t, []string{"first", "follow-up"}, second, "every observer sees the outer broadcast before the nested one")
	assert.Len(t, m.Snapshot().Toasts, 2)
}

func TestAutoDismiss(t *testing.T) {
	m, clk := newTestManager(t, func(o *Options) {
		o.AutoDismissDelay = 5 * time.Second
		o.RemoveDelay = 0
	})
	rec := &recorder{}
	m.Subscribe(rec.observe)
	m.Add(Input{Title: "auto"})

	clk.Advance(5 * time.Second)
	// closing then removed, even with a zero remove delay
	assert.Empty(t, m.Snapshot().Toasts)
	require.Equal(t, 3, rec.calls())
	assert.False(t, rec.states[1].Toasts[0].Open)
	assert.Zero(t, m.Pending())
}

func TestAutoDismissDisabled(t *testing.T) {
	m, clk := newTestManager(t, func(o *Options) { o.AutoDismissDelay = 0 })
	m.Add(Input{Title: "stays"})
	assert.Zero(t, clk.Pending())
	clk.Advance(24 * time.Hour)
	assert.Len(t, m.Snapshot().Toasts, 1)
}

func TestDismissAll(t *testing.T) {
	m, clk := newTestManager(t, func(o *Options) { o.MaxVisible = 3 })
	m.Add(Input{Title: "a"})
	b := m.Add(Input{Title: "b"})
	m.Add(Input{Title: "c"})
	b.Dismiss()

	rec := &recorder{}
	m.Subscribe(rec.observe)
	m.DismissAll()

	require.Equal(t, 1, rec.calls(), "one broadcast")
	for _, tt := range rec.last().Toasts {
		assert.False(t, tt.Open, tt.Title)
	}

	clk.Advance(DefaultRemoveDelay)
	assert.Empty(t, m.Snapshot().Toasts)

	m.DismissAll()
	assert.Equal(t, 1+3, rec.calls(), "nothing open: no extra broadcast")
}

func TestUpdateOpenDoesNotArmTimer(t *testing.T) {
	m, clk := newTestManager(t, func(o *Options) { o.AutoDismissDelay = 0 })
	h := m.Add(Input{Title: "a"})
	closed := false
	h.Update(Patch{Open: &closed})

	assert.False(t, m.Snapshot().Toasts[0].Open)
	assert.Zero(t, clk.Pending())
}

func TestCloseStopsTimersAndObservers(t *testing.T) {
	m, clk := newTestManager(t, func(o *Options) {
		o.MaxVisible = 3
		o.AutoDismissDelay = time.Second
	})
	rec := &recorder{}
	m.Subscribe(rec.observe)
	m.Add(Input{})
	m.Add(Input{})
	require.Equal(t, 2, clk.Pending())

	m.Close()
	assert.Zero(t, clk.Pending())
	assert.Zero(t, m.Observers())

	calls := rec.calls()
	m.Add(Input{Title: "ignored"})
	m.DismissAll()
	clk.Advance(time.Hour)
	assert.Equal(t, calls, rec.calls())
	assert.Empty(t, m.Snapshot().Toasts)
	m.Close()
}

func TestRealClockNoLeak(t *testing.T) {
	m := NewManager(Options{MaxVisible: 2, AutoDismissDelay: time.Hour, RemoveDelay: time.Hour})
	m.Add(Input{Title: "a"})
	h := m.Add(Input{Title: "b"})
	h.Dismiss()
	m.Close()
	assert.Zero(t, m.Pending())
}

func TestRealClockRemoval(t *testing.T) {
	m := NewManager(Options{MaxVisible: 1, RemoveDelay: 5 * time.Millisecond})
	defer m.Close()
	done := make(chan struct{})
	m.Subscribe(func(s State) {
		if len(s.Toasts) == 0 {
			close(done)
		}
	})
	m.Add(Input{Title: "a"}).Dismiss()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("toast was not removed")
	}
}

func TestConcurrentUse(t *testing.T) {
	m := NewManager(Options{MaxVisible: 3, AutoDismissDelay: time.Millisecond, RemoveDelay: time.Millisecond})
	defer m.Close()
	m.Subscribe(func(s State) {
		if len(s.Toasts) > 3 {
			t.Errorf("visible toasts %d > 3", len(s.Toasts))
		}
	})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				h := m.Add(Input{Title: "x"})
				h.Update(Patch{Description: strptr("y")})
				if i%3 == 0 {
					h.Dismiss()
				}
				if i%10 == 0 {
					m.DismissAll()
				}
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, len(m.Snapshot().Toasts), 3)
}

func TestParseVariant(t *testing.T) {
	v, err := ParseVariant("")
	require.NoError(t, err)
	assert.Equal(t, VariantDefault, v)

	v, err = ParseVariant("Destructive")
	require.NoError(t, err)
	assert.Equal(t, VariantDestructive, v)

	_, err = ParseVariant("loud")
	assert.Error(t, err)
}

func TestStateVersionGrowsWithEveryChange(t *testing.T) {
	m, _ := newTestManager(t, nil)
	assert.Zero(t, m.Snapshot().Version)

	m.Add(Input{Title: "quiet"})
	assert.Equal(t, uint64(1), m.Snapshot().Version, "changes count without observers")

	rec := &recorder{}
	m.Subscribe(rec.observe)
	h := m.Add(Input{Title: "a"})
	h.Update(Patch{Title: strptr("b")})
	m.Update("does-not-exist", Patch{Title: strptr("nope")})
	h.Dismiss()

	require.Equal(t, 3, rec.calls())
	var prev uint64
	for _, st := range rec.states {
		assert.Greater(t, st.Version, prev)
		prev = st.Version
	}
	assert.Equal(t, m.Snapshot(), rec.last())
}
