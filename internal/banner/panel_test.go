package banner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"loopin/internal/feed"
	"loopin/internal/loop"
	"loopin/internal/notify"
)

type fakeSource struct {
	mu      sync.Mutex
	ups     []notify.Update
	errs    []error // consumed one per RecentUpdates call
	calls   int
	missing map[string]bool
	checkEr error
}

func (f *fakeSource) RecentUpdates(context.Context, time.Time) ([]notify.Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.ups, nil
}

func (f *fakeSource) CheckUpdate(_ context.Context, id string) error {
	if f.checkEr != nil {
		return f.checkEr
	}
	if f.missing[id] {
		return fmt.Errorf("check update %q: %w", id, feed.ErrNotFound)
	}
	return nil
}

func (f *fakeSource) ViewURL(id string) string { return "https://loopin.test/view/" + id }

type recordingRenderer struct {
	mu     sync.Mutex
	states []State
}

func (r *recordingRenderer) RenderBanner(v View) {
	r.mu.Lock()
	r.states = append(r.states, v.State)
	r.mu.Unlock()
}

type recordingOpener struct{ urls []string }

func (o *recordingOpener) Open(url string) error {
	o.urls = append(o.urls, url)
	return nil
}

func updates(n int) []notify.Update {
	out := make([]notify.Update, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, notify.Update{ID: fmt.Sprintf("u%d", i), Name: "Alice", Process: "Onboarding"})
	}
	return out
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestOpenStates(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		ups       []notify.Update
		errs      []error
		wantState State
		wantItems int
		wantTotal int
		overflow  string
	}{
		{name: "four shows three plus overflow", ups: updates(4), wantState: StateReady, wantItems: 3, wantTotal: 4, overflow: "View all 4 updates"},
		{name: "three fits", ups: updates(3), wantState: StateReady, wantItems: 3, wantTotal: 3},
		{name: "empty", wantState: StateEmpty},
		{name: "transient then ok", ups: updates(1), errs: []error{&feed.StatusError{Code: 503}}, wantState: StateReady, wantItems: 1, wantTotal: 1},
		{name: "retries exhausted", errs: []error{errors.New("dial"), errors.New("dial"), errors.New("dial")}, wantState: StateError},
		{name: "unsuccessful is not retried", errs: []error{feed.ErrUnsuccessful}, wantState: StateError},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			src := &fakeSource{ups: tc.ups, errs: tc.errs}
			rr := &recordingRenderer{}
			p := New(Config{Retries: 2}, Deps{Source: src, Renderer: rr, Sleep: noSleep, Scheduler: loop.NewManual(time.Time{})})

			v := p.Open(context.Background())
			if v.State != tc.wantState {
				t.Fatalf("state = %s, want %s (err=%v)", v.State, tc.wantState, v.Err)
			}
			if len(v.Items) != tc.wantItems || v.Total != tc.wantTotal {
				t.Fatalf("items=%d total=%d", len(v.Items), v.Total)
			}
			if v.OverflowLabel() != tc.overflow {
				t.Fatalf("overflow = %q", v.OverflowLabel())
			}
			if rr.states[0] != StateLoading {
				t.Fatalf("first render = %s, want loading", rr.states[0])
			}
		})
	}
}

func TestRetryCountsBounded(t *testing.T) {
	t.Parallel()
	src := &fakeSource{errs: []error{errors.New("a"), errors.New("b"), errors.New("c"), errors.New("d")}}
	p := New(Config{Retries: 2}, Deps{Source: src, Sleep: noSleep})
	v := p.Open(context.Background())
	if v.State != StateError || src.calls != 3 {
		t.Fatalf("state=%s calls=%d", v.State, src.calls)
	}
	src.errs = nil
	src.ups = updates(2)
	if v := p.Retry(context.Background()); v.State != StateReady || len(v.Items) != 2 {
		t.Fatalf("retry view = %+v", v)
	}
}

func TestClickNavigatesDebounced(t *testing.T) {
	t.Parallel()
	clock := loop.NewManual(time.Time{})
	op := &recordingOpener{}
	src := &fakeSource{ups: updates(2)}
	p := New(Config{NavigateDebounce: 300 * time.Millisecond}, Deps{Source: src, Opener: op, Scheduler: clock})
	p.Open(context.Background())

	if err := p.Click(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	if err := p.Click(context.Background(), "u2"); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Second)
	if len(op.urls) != 1 || op.urls[0] != "https://loopin.test/view/u2" {
		t.Fatalf("opened = %v", op.urls)
	}
}

func TestClickStaleRemovesItem(t *testing.T) {
	t.Parallel()
	clock := loop.NewManual(time.Time{})
	op := &recordingOpener{}
	src := &fakeSource{ups: updates(4), missing: map[string]bool{"u2": true}}
	var stale []string
	p := New(Config{ErrorTTL: 4 * time.Second}, Deps{
		Source: src, Opener: op, Scheduler: clock,
		OnStale: func(id string) { stale = append(stale, id) },
	})
	p.Open(context.Background())

	err := p.Click(context.Background(), "u2")
	if !errors.Is(err, feed.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	v := p.View()
	if v.InlineError != MsgStale || v.InlineFor != "u2" {
		t.Fatalf("inline = %q for %q", v.InlineError, v.InlineFor)
	}
	if v.Total != 3 || len(v.Items) != 3 {
		t.Fatalf("items=%d total=%d", len(v.Items), v.Total)
	}
	for _, it := range v.Items {
		if it.ID == "u2" {
			t.Fatal("stale item still shown")
		}
	}
	if len(stale) != 1 || stale[0] != "u2" {
		t.Fatalf("stale = %v", stale)
	}

	clock.Advance(5 * time.Second)
	if len(op.urls) != 0 {
		t.Fatalf("navigated to a stale item: %v", op.urls)
	}
	if p.View().InlineError != "" {
		t.Fatal("inline error did not expire")
	}
}

func TestInlineErrorNewerSurvivesOlderTimer(t *testing.T) {
	t.Parallel()
	clock := loop.NewManual(time.Time{})
	src := &fakeSource{ups: updates(3), missing: map[string]bool{"u1": true, "u2": true}}
	p := New(Config{ErrorTTL: 4 * time.Second}, Deps{Source: src, Scheduler: clock})
	p.Open(context.Background())

	_ = p.Click(context.Background(), "u1")
	clock.Advance(3 * time.Second)
	_ = p.Click(context.Background(), "u2")
	clock.Advance(2 * time.Second)
	if v := p.View(); v.InlineFor != "u2" {
		t.Fatalf("inline cleared early: %+v", v)
	}
	clock.Advance(3 * time.Second)
	if v := p.View(); v.InlineError != "" {
		t.Fatalf("inline not cleared: %+v", v)
	}
}

func TestClickUnreachableKeepsItem(t *testing.T) {
	t.Parallel()
	src := &fakeSource{ups: updates(2), checkEr: errors.New("timeout")}
	op := &recordingOpener{}
	clock := loop.NewManual(time.Time{})
	p := New(Config{}, Deps{Source: src, Opener: op, Scheduler: clock})
	p.Open(context.Background())

	if err := p.Click(context.Background(), "u1"); err == nil {
		t.Fatal("expected error")
	}
	clock.Advance(time.Minute)
	v := p.View()
	if len(v.Items) != 2 || len(op.urls) != 0 {
		t.Fatalf("items=%d opened=%v", len(v.Items), op.urls)
	}
}

func TestCommandOpenerAppendsURL(t *testing.T) {
	t.Parallel()
	var got []string
	o := &CommandOpener{Command: "xdg-open --new", run: func(_ context.Context, name string, args ...string) error {
		got = append([]string{name}, args...)
		return nil
	}}
	if err := o.Open("https://x/view/1"); err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != "xdg-open" || got[2] != "https://x/view/1" {
		t.Fatalf("got %v", got)
	}
}
