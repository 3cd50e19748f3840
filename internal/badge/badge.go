// Package badge derives the bell indicator from the unread count and the
// server-reported latest activity time.
package badge

import (
	"strconv"
	"time"
)

type Mode string

const (
	Hidden       Mode = "hidden"
	Count        Mode = "count"
	FreshnessDot Mode = "freshness-dot"
)

const (
	DefaultFreshnessWindow = 24 * time.Hour
	maxDisplay             = 99
)

// State is the rendered badge.
type State struct {
	Mode  Mode
	Count int
}

// Label is the text shown on the badge ("5", "99+", "•" or "").
func (s State) Label() string {
	switch s.Mode {
	case Count:
		if s.Count > maxDisplay {
			return strconv.Itoa(maxDisplay) + "+"
		}
		return strconv.Itoa(s.Count)
	case FreshnessDot:
		return "•"
	default:
		return ""
	}
}

// Derive is the pure badge function. latest is the server's latest activity
// (zero when unknown); it is compared in absolute time so offsets don't matter.
func Derive(unread int, latest, now time.Time, window time.Duration) State {
	if unread > 0 {
		return State{Mode: Count, Count: unread}
	}
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	if !latest.IsZero() && now.Sub(latest) < window && !latest.After(now.Add(window)) {
		return State{Mode: FreshnessDot}
	}
	return State{Mode: Hidden}
}

// Machine tracks the inputs of Derive and reports transitions.
// Like the store, it is owned by the session loop.
type Machine struct {
	window time.Duration
	now    func() time.Time

	unread int
	latest time.Time
	state  State
}

func NewMachine(window time.Duration, now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	m := &Machine{window: window, now: now}
	m.state = Derive(0, time.Time{}, now(), window)
	return m
}

func (m *Machine) State() State      { return m.state }
func (m *Machine) Unread() int       { return m.unread }
func (m *Machine) Latest() time.Time { return m.latest }

// SetUnread replaces the unread count (clamped at 0).
func (m *Machine) SetUnread(n int) (State, bool) {
	if n < 0 {
		n = 0
	}
	m.unread = n
	return m.refresh()
}

// Increment adds one accepted unread record.
func (m *Machine) Increment() (State, bool) { return m.SetUnread(m.unread + 1) }

// Decrement removes one read record, never going below zero.
func (m *Machine) Decrement() (State, bool) { return m.SetUnread(m.unread - 1) }

// SetLatest records the server latest-activity time. Older values are ignored.
func (m *Machine) SetLatest(t time.Time) (State, bool) {
	if t.After(m.latest) {
		m.latest = t
	}
	return m.refresh()
}

// Refresh re-derives the state against the current time (the freshness dot
// expires without any new input).
func (m *Machine) Refresh() (State, bool) { return m.refresh() }

func (m *Machine) refresh() (State, bool) {
	next := Derive(m.unread, m.latest, m.now(), m.window)
	changed := next != m.state
	m.state = next
	return next, changed
}
