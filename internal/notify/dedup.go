package notify

import (
	"context"
	"time"
)

const DefaultDedupWindow = 30 * time.Second

// ShownSet reports whether an id currently has a live toast.
type ShownSet interface {
	Has(id string) bool
}

// Decision is the outcome of Deduper.Accept.
type Decision struct {
	// IsNew is true when the record was not stored and has no live toast.
	IsNew bool
	// Toast is true when the caller should show a toast.
	Toast bool
	// Updated is true when an existing record's fields were refreshed.
	Updated bool
	// Stored is false when the record was dropped (empty id, or older than
	// everything kept under the capacity bound).
	Stored bool
}

// Deduper decides whether a delivered record has already been surfaced.
//
// Rules, in order:
//  1. id has a live toast: refresh stored fields (if stored), no toast.
//  2. id already stored: refresh fields. A still-unread record resurfaces
//     only for a push delivery outside the dedup window, or when the
//     delivery carries a newer timestamp.
//  3. otherwise the record is new: append it, and toast unless the id was
//     seen inside the dedup window.
//
// The window suppresses toasts for an id that was just delivered or seeded,
// whatever the store holds.
type Deduper struct {
	window time.Duration
	now    func() time.Time
	seen   map[string]time.Time // id -> suppressed until
}

func NewDeduper(window time.Duration, now func() time.Time) *Deduper {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Deduper{window: window, now: now, seen: map[string]time.Time{}}
}

func (d *Deduper) SetWindow(w time.Duration) {
	if w > 0 {
		d.window = w
	}
}

// Seed marks id as recently delivered (e.g. the last shown id after a restart).
func (d *Deduper) Seed(id string) {
	if id != "" {
		d.seen[id] = d.now().Add(d.window)
	}
}

// Accept runs rec through the dedup rules and the store.
func (d *Deduper) Accept(ctx context.Context, store *Store, shown ShownSet, rec Record, origin Origin) Decision {
	if rec.ID == "" {
		return Decision{}
	}
	now := d.now()
	until, seen := d.seen[rec.ID]
	recent := seen && now.Before(until)
	d.seen[rec.ID] = now.Add(d.window)
	d.prune(now)

	if rec.Kind == KindSystem {
		// Ephemeral: never stored, toast once per window.
		return Decision{IsNew: !recent, Toast: !recent}
	}

	if shown != nil && shown.Has(rec.ID) {
		if !store.Has(rec.ID) {
			return Decision{}
		}
		res := store.Append(ctx, rec)
		return Decision{Updated: true, Stored: res.Stored}
	}

	if prev, ok := store.Get(rec.ID); ok {
		newer := !rec.CreatedAt.IsZero() && rec.CreatedAt.After(prev.CreatedAt)
		res := store.Append(ctx, rec)
		toast := prev.Unread && res.Stored && !recent && (origin == OriginPush || newer)
		return Decision{Updated: true, Toast: toast, Stored: res.Stored}
	}

	res := store.Append(ctx, rec)
	if !res.Stored {
		return Decision{}
	}
	return Decision{IsNew: true, Toast: !recent, Stored: true}
}

func (d *Deduper) prune(now time.Time) {
	if len(d.seen) < 256 {
		return
	}
	for id, until := range d.seen {
		if !now.Before(until) {
			delete(d.seen, id)
		}
	}
}
