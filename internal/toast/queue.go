// Package toast manages the on-screen alert stack: identity, lifetime,
// stacking bound and the audio cue.
package toast

import (
	"time"

	"github.com/google/uuid"

	"loopin/internal/eventbus"
	"loopin/internal/loop"
	"loopin/internal/notify"
	"loopin/internal/sound"
	logx "loopin/pkg/logx"
)

const (
	DefaultDuration   = 5 * time.Second
	DefaultMaxVisible = 5
)

// Dismiss reasons.
const (
	ReasonTimeout = "timeout"
	ReasonUser    = "user"
	ReasonEvicted = "evicted"
	ReasonClick   = "click"
	ReasonRead    = "read"
)

// Toast is one on-screen alert.
type Toast struct {
	Key        string
	RecordID   string // empty for ephemeral system toasts
	Kind       notify.Kind
	Title      string
	Message    string // may carry **bold** markup
	Persistent bool
	ShownAt    time.Time
}

// Presenter renders toasts. Calls come from the session loop.
type Presenter interface {
	ShowToast(t Toast)
	DismissToast(t Toast, reason string)
}

type Config struct {
	Duration   time.Duration
	MaxVisible int
}

func (c Config) normalize() Config {
	if c.Duration <= 0 {
		c.Duration = DefaultDuration
	}
	if c.MaxVisible <= 0 {
		c.MaxVisible = DefaultMaxVisible
	}
	return c
}

// Queue is the toast stack and the ShownToastSet. Not safe for concurrent
// use: it is owned by the session loop, and timers must post back into it.
type Queue struct {
	cfg       Config
	sched     loop.Scheduler
	now       func() time.Time
	presenter Presenter
	player    sound.Player
	soundOn   func() bool
	bus       eventbus.Bus
	log       logx.Logger

	active  []*live
	byKey   map[string]*live
	byEntry map[string]string // record id -> key
}

type live struct {
	toast  Toast
	cancel func()
}

// Deps bundles Queue collaborators. Nil ones are replaced with no-ops.
type Deps struct {
	Scheduler loop.Scheduler
	Now       func() time.Time
	Presenter Presenter
	Player    sound.Player
	SoundOn   func() bool
	Bus       eventbus.Bus
	Log       logx.Logger
}

func NewQueue(cfg Config, d Deps) *Queue {
	if d.Scheduler == nil {
		d.Scheduler = loop.Wall{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Player == nil {
		d.Player = sound.Nop{}
	}
	if d.SoundOn == nil {
		d.SoundOn = func() bool { return true }
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Queue{
		cfg:       cfg.normalize(),
		sched:     d.Scheduler,
		now:       d.Now,
		presenter: d.Presenter,
		player:    d.Player,
		soundOn:   d.SoundOn,
		bus:       d.Bus,
		log:       d.Log,
		byKey:     map[string]*live{},
		byEntry:   map[string]string{},
	}
}

// Reconfigure applies new duration/stack bounds to future toasts.
func (q *Queue) Reconfigure(cfg Config) { q.cfg = cfg.normalize() }

// Has implements notify.ShownSet.
func (q *Queue) Has(recordID string) bool {
	_, ok := q.byEntry[recordID]
	return ok
}

func (q *Queue) Len() int { return len(q.active) }

// Active returns the live toasts, oldest first.
func (q *Queue) Active() []Toast {
	out := make([]Toast, len(q.active))
	for i, l := range q.active {
		out[i] = l.toast
	}
	return out
}

// Show displays rec. A record that already has a live toast is not shown
// twice; the existing toast is returned with ok=false.
func (q *Queue) Show(rec notify.Record, persistent bool) (Toast, bool) {
	ephemeral := rec.Kind == notify.KindSystem || rec.ID == ""
	if !ephemeral {
		if key, ok := q.byEntry[rec.ID]; ok {
			return q.byKey[key].toast, false
		}
	}

	t := Toast{
		Kind:       rec.Kind,
		Title:      rec.Title,
		Message:    rec.Message,
		Persistent: persistent,
		ShownAt:    q.now(),
	}
	if ephemeral {
		t.Key = "sys-" + uuid.NewString()
	} else {
		t.Key = "notif-" + rec.ID
		t.RecordID = rec.ID
	}

	for len(q.active) >= q.cfg.MaxVisible {
		q.evictOne()
	}

	l := &live{toast: t}
	if !persistent {
		key := t.Key
		l.cancel = q.sched.AfterFunc(q.cfg.Duration, func() { q.Dismiss(key, ReasonTimeout) })
	}
	q.active = append(q.active, l)
	q.byKey[t.Key] = l
	if t.RecordID != "" {
		q.byEntry[t.RecordID] = t.Key
	}

	if q.presenter != nil {
		q.presenter.ShowToast(t)
	}
	if q.soundOn() {
		q.player.Play()
	}
	eventbus.Emit(q.bus, eventbus.ToastShown, eventbus.Toast{Key: t.Key, Persistent: persistent})
	q.log.Debug("toast shown", logx.String("key", t.Key), logx.Bool("persistent", persistent))
	return t, true
}

// evictOne drops the oldest transient toast, or the oldest toast if all are persistent.
func (q *Queue) evictOne() {
	victim := q.active[0]
	for _, l := range q.active {
		if !l.toast.Persistent {
			victim = l
			break
		}
	}
	q.Dismiss(victim.toast.Key, ReasonEvicted)
}

// Dismiss removes a toast by key. The record id leaves the shown set so a
// later distinct event for the same entity can surface again.
func (q *Queue) Dismiss(key, reason string) bool {
	l, ok := q.byKey[key]
	if !ok {
		return false
	}
	if l.cancel != nil {
		l.cancel()
	}
	delete(q.byKey, key)
	if l.toast.RecordID != "" {
		delete(q.byEntry, l.toast.RecordID)
	}
	for i, a := range q.active {
		if a == l {
			q.active = append(q.active[:i], q.active[i+1:]...)
			break
		}
	}
	if q.presenter != nil {
		q.presenter.DismissToast(l.toast, reason)
	}
	eventbus.Emit(q.bus, eventbus.ToastDismissed, eventbus.Toast{Key: key, Persistent: l.toast.Persistent, Reason: reason})
	return true
}

// DismissRecord dismisses the live toast for a record id, if any.
func (q *Queue) DismissRecord(recordID, reason string) bool {
	key, ok := q.byEntry[recordID]
	if !ok {
		return false
	}
	return q.Dismiss(key, reason)
}

// Clear dismisses every live toast.
func (q *Queue) Clear(reason string) {
	for len(q.active) > 0 {
		q.Dismiss(q.active[0].toast.Key, reason)
	}
}
