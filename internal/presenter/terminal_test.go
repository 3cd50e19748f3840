package presenter

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"loopin/internal/badge"
	"loopin/internal/banner"
	"loopin/internal/notify"
	"loopin/internal/toast"
)

var _ Presenter = (*Terminal)(nil)
var _ Presenter = (*Recorder)(nil)

func TestToastRendersMarkupAsText(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	term := NewTerminal(&buf)
	rec := notify.FromUpdate(notify.Update{ID: "u1", Name: "Alice", Process: "Onboarding", Timestamp: time.Now()})
	term.ShowToast(toast.Toast{Key: "notif-u1", Title: rec.Title, Message: rec.Message, ShownAt: time.Now()})

	out := buf.String()
	for _, want := range []string{"New update", "Alice", "Onboarding"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "**") {
		t.Fatalf("raw markup leaked:\n%s", out)
	}
}

func TestEscapedMarkupStaysLiteral(t *testing.T) {
	t.Parallel()
	term := NewTerminal(&bytes.Buffer{})
	rec := notify.FromUpdate(notify.Update{ID: "u1", Name: "**evil**", Process: "Ops"})
	if got := term.Markup(rec.Message); !strings.Contains(got, "**evil**") {
		t.Fatalf("escaped name lost its asterisks: %q", got)
	}
}

func TestBannerOverflowAndStates(t *testing.T) {
	t.Parallel()
	term := NewTerminal(&bytes.Buffer{})
	cases := []struct {
		name string
		view banner.View
		want string
	}{
		{"loading", banner.View{State: banner.StateLoading}, "Loading"},
		{"empty", banner.View{State: banner.StateEmpty}, "No recent updates"},
		{"error", banner.View{State: banner.StateError, InlineError: banner.MsgLoadFailed}, "retry"},
		{"overflow", banner.View{State: banner.StateReady, Total: 4, Items: []notify.Update{
			{ID: "1", Name: "A"}, {ID: "2", Name: "B"}, {ID: "3", Name: "C"},
		}}, "View all 4 updates"},
		{"stale", banner.View{State: banner.StateReady, Total: 1, Items: []notify.Update{{ID: "1", Name: "A"}}, InlineError: banner.MsgStale}, "no longer available"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := term.Banner(tc.view); !strings.Contains(got, tc.want) {
				t.Fatalf("banner missing %q:\n%s", tc.want, got)
			}
		})
	}
}

func TestBadgeLine(t *testing.T) {
	t.Parallel()
	term := NewTerminal(&bytes.Buffer{})
	if got := term.BadgeLine(badge.State{Mode: badge.Count, Count: 120}); !strings.Contains(got, "99+") {
		t.Fatalf("badge = %q", got)
	}
	if got := term.BadgeLine(badge.State{Mode: badge.Hidden}); got != "bell" {
		t.Fatalf("hidden badge = %q", got)
	}
}

func TestRecorderKeepsLastBadge(t *testing.T) {
	t.Parallel()
	r := &Recorder{}
	if _, ok := r.Badge(); ok {
		t.Fatal("empty recorder reported a badge")
	}
	r.ShowBadge(badge.State{Mode: badge.Count, Count: 1})
	r.ShowBadge(badge.State{Mode: badge.Hidden})
	if b, _ := r.Badge(); b.Mode != badge.Hidden {
		t.Fatalf("badge = %+v", b)
	}
}
