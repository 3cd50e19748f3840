package notify

import (
	"context"
	"testing"
	"time"

	logx "loopin/pkg/logx"
)

type fakeShown map[string]bool

func (f fakeShown) Has(id string) bool { return f[id] }

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestDedupAcrossTransports(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := &clock{now: t0}
	d := NewDeduper(30*time.Second, c.Now)
	s := NewStore(50, nil, logx.Nop())
	shown := fakeShown{}

	toasts := 0
	first := d.Accept(ctx, s, shown, rec("u1", t0), OriginPush)
	if !first.IsNew || !first.Toast {
		t.Fatalf("first delivery = %+v", first)
	}
	toasts++
	shown["u1"] = true

	c.Advance(2 * time.Second)
	second := d.Accept(ctx, s, shown, rec("u1", t0), OriginPoll)
	if second.IsNew || second.Toast {
		t.Fatalf("second delivery = %+v", second)
	}

	// Toast auto-dismissed, poll arrives again inside the window.
	delete(shown, "u1")
	c.Advance(10 * time.Second)
	if third := d.Accept(ctx, s, shown, rec("u1", t0), OriginPoll); third.Toast {
		t.Fatalf("third delivery toasted: %+v", third)
	}
	if toasts != 1 || s.Len() != 1 {
		t.Fatalf("toasts=%d len=%d", toasts, s.Len())
	}
}

func TestReadRecordNeverResurfaces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := &clock{now: t0}
	d := NewDeduper(time.Second, c.Now)
	s := NewStore(50, nil, logx.Nop())

	d.Accept(ctx, s, nil, rec("u1", t0), OriginPush)
	s.MarkRead(ctx, "u1")
	c.Advance(time.Minute)

	r := rec("u1", t0)
	r.Title = "Edited"
	dec := d.Accept(ctx, s, nil, r, OriginPush)
	if dec.Toast || dec.IsNew || !dec.Updated {
		t.Fatalf("decision = %+v", dec)
	}
	if got, _ := s.Get("u1"); got.Title != "Edited" || got.Unread {
		t.Fatalf("stored = %+v", got)
	}
}

func TestUnreadResurfacesAfterDismissOnPushReplay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := &clock{now: t0}
	d := NewDeduper(30*time.Second, c.Now)
	s := NewStore(50, nil, logx.Nop())
	shown := fakeShown{}

	d.Accept(ctx, s, shown, rec("x", t0), OriginPush)
	c.Advance(time.Minute)

	if dec := d.Accept(ctx, s, shown, rec("x", t0), OriginPoll); dec.Toast {
		t.Fatalf("reconcile poll should not resurface: %+v", dec)
	}
	c.Advance(time.Minute)
	dec := d.Accept(ctx, s, shown, rec("x", t0), OriginPush)
	if !dec.Toast || dec.IsNew {
		t.Fatalf("push replay = %+v", dec)
	}
	if s.UnreadCount() != 1 {
		t.Fatalf("unread = %d", s.UnreadCount())
	}
}

func TestSystemNotificationsAreEphemeral(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := NewDeduper(time.Minute, (&clock{now: t0}).Now)
	s := NewStore(50, nil, logx.Nop())
	r := FromNotification("system", "Maintenance at 5pm", t0)

	dec := d.Accept(ctx, s, nil, r, OriginPush)
	if !dec.Toast || s.Len() != 0 {
		t.Fatalf("decision = %+v len=%d", dec, s.Len())
	}
	if again := d.Accept(ctx, s, nil, r, OriginPush); again.Toast {
		t.Fatalf("duplicate system toast within window")
	}
}

func TestFromUpdateEscapesFields(t *testing.T) {
	t.Parallel()
	r := FromUpdate(Update{ID: "u1", Name: "Alice", Process: "Onboarding", Timestamp: t0})
	if r.Plain() != "Alice posted an update in Onboarding" {
		t.Fatalf("plain = %q", r.Plain())
	}
	if !r.Unread || r.SourceEntityID != "u1" || r.Kind != KindNewUpdate {
		t.Fatalf("record = %+v", r)
	}
	h := FromUpdate(Update{ID: "u2", Name: "**x**", Timestamp: t0})
	if h.Plain() != "**x** posted an update" {
		t.Fatalf("hostile plain = %q", h.Plain())
	}
}

func TestNotificationIDStable(t *testing.T) {
	t.Parallel()
	a := NotificationID("new_sop", "SOP added", t0)
	b := NotificationID("new_sop", "SOP added", t0.In(time.FixedZone("x", 3600)))
	if a != b {
		t.Fatalf("ids differ across zones: %s %s", a, b)
	}
	if a == NotificationID("new_sop", "SOP added", t0.Add(time.Second)) {
		t.Fatalf("different timestamps should differ")
	}
}

func TestWindowSuppressesUnstoredRedelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := &clock{now: t0}
	d := NewDeduper(30*time.Second, c.Now)
	s := NewStore(50, nil, logx.Nop())

	d.Seed("u7")
	c.Advance(5 * time.Second)
	dec := d.Accept(ctx, s, nil, rec("u7", t0), OriginPoll)
	if !dec.IsNew || !dec.Stored || dec.Toast {
		t.Fatalf("seeded id inside window = %+v", dec)
	}

	// Evicted from the store, then redelivered inside the window.
	s.Remove(ctx, "u7")
	c.Advance(5 * time.Second)
	if dec := d.Accept(ctx, s, nil, rec("u7", t0), OriginPush); dec.Toast {
		t.Fatalf("redelivery inside window toasted: %+v", dec)
	}

	s.Remove(ctx, "u7")
	c.Advance(time.Minute)
	if dec := d.Accept(ctx, s, nil, rec("u7", t0), OriginPush); !dec.Toast {
		t.Fatalf("redelivery after window should toast: %+v", dec)
	}
}
