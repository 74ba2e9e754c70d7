package toast

import (
	"fmt"
	"strings"
	"time"
)

type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// ParseVariant accepts "", "default" and "destructive" (case-insensitive).
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(VariantDefault):
		return VariantDefault, nil
	case string(VariantDestructive):
		return VariantDestructive, nil
	default:
		return "", fmt.Errorf("unknown toast variant %q", s)
	}
}

// Action is presentation data the UI may render as a button. The manager
// passes it through untouched.
type Action struct {
	Label string `json:"label"`
	Href  string `json:"href,omitempty"`
}

type Toast struct {
	ID          string  `json:"id"`
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Variant     Variant `json:"variant"`
	Open        bool    `json:"open"`
	Action      *Action `json:"action,omitempty"`
}

func (t Toast) clone() Toast {
	if t.Action != nil {
		a := *t.Action
		t.Action = &a
	}
	return t
}

// State is what observers receive: the visible toasts, newest first.
type State struct {
	Toasts []Toast `json:"toasts"`
	// Version grows with every change; a state with a lower Version is older.
	Version uint64 `json:"version"`
}

type Input struct {
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Variant     Variant `json:"variant,omitempty"`
	Action      *Action `json:"action,omitempty"`
}

// Patch lists the fields Update overwrites; nil fields are left alone.
type Patch struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Variant     *Variant `json:"variant,omitempty"`
	Open        *bool    `json:"open,omitempty"`
	Action      *Action  `json:"action,omitempty"`
}

func (p Patch) apply(t *Toast) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Variant != nil {
		t.Variant = *p.Variant
		if t.Variant == "" {
			t.Variant = VariantDefault
		}
	}
	if p.Open != nil {
		t.Open = *p.Open
	}
	if p.Action != nil {
		a := *p.Action
		t.Action = &a
	}
}

// Observer receives every broadcast state. It must not retain the slice
// across calls if it mutates it; each call gets its own copy.
type Observer func(State)

// Handle is bound to a single toast created by Add.
type Handle struct {
	ID string
	m  *Manager
}

func (h Handle) Update(p Patch) {
	if h.m != nil {
		h.m.Update(h.ID, p)
	}
}

func (h Handle) Dismiss() {
	if h.m != nil {
		h.m.Dismiss(h.ID)
	}
}

const (
	DefaultMaxVisible       = 1
	DefaultAutoDismissDelay = 1000000 * time.Millisecond
	DefaultRemoveDelay      = time.Second
)

// Options configures a Manager.
//
// A zero AutoDismissDelay disables auto-dismiss. A zero RemoveDelay removes a
// closing toast on the next timer tick, so the closing state is still broadcast.
type Options struct {
	MaxVisible       int
	AutoDismissDelay time.Duration
	RemoveDelay      time.Duration
	// MaxManagers caps how many queues a Registry holds; 0 means no cap.
	// Managers ignore it.
	MaxManagers int

	Clock    Clock
	Recorder Recorder
}

func DefaultOptions() Options {
	return Options{
		MaxVisible:       DefaultMaxVisible,
		AutoDismissDelay: DefaultAutoDismissDelay,
		RemoveDelay:      DefaultRemoveDelay,
	}
}

func (o Options) normalized() Options {
	if o.MaxVisible < 1 {
		o.MaxVisible = DefaultMaxVisible
	}
	o.AutoDismissDelay = max(o.AutoDismissDelay, 0)
	o.RemoveDelay = max(o.RemoveDelay, 0)
	o.MaxManagers = max(o.MaxManagers, 0)
	if o.Clock == nil {
		o.Clock = RealClock()
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	return o
}

// Recorder observes lifecycle transitions; internal/metrics implements it.
type Recorder interface {
	Added(v Variant)
	Closing()
	Removed()
	Evicted()
	// QueueEvicted counts managers a Registry closed to stay under MaxManagers.
	QueueEvicted()
}

type nopRecorder struct{}

func (nopRecorder) Added(Variant) {}
func (nopRecorder) Closing()      {}
func (nopRecorder) Removed()      {}
func (nopRecorder) Evicted()      {}
func (nopRecorder) QueueEvicted() {}
