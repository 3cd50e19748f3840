// Package banner is the pull-path dropdown: a snapshot of recent updates
// with loading, empty, error and ready states, and click-through that
// verifies the target still exists.
package banner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"loopin/internal/backoff"
	"loopin/internal/eventbus"
	"loopin/internal/feed"
	"loopin/internal/loop"
	"loopin/internal/notify"
	"loopin/internal/retry"
	logx "loopin/pkg/logx"
)

type State string

const (
	StateClosed  State = "closed"
	StateLoading State = "loading"
	StateEmpty   State = "empty"
	StateError   State = "error"
	StateReady   State = "ready"
)

const (
	MsgStale      = "This update is no longer available."
	MsgUnreached  = "Could not open this update. Try again."
	MsgLoadFailed = "Could not load recent updates."
)

// Source is the subset of the feed client the panel uses.
type Source interface {
	RecentUpdates(ctx context.Context, since time.Time) ([]notify.Update, error)
	CheckUpdate(ctx context.Context, id string) error
	ViewURL(id string) string
}

// Renderer draws the panel. It is called with a copy of the view after
// every change.
type Renderer interface {
	RenderBanner(v View)
}

// View is what the panel currently shows.
type View struct {
	State State
	Items []notify.Update
	// Total is the number of updates in the snapshot; Total > len(Items)
	// means an overflow control is shown.
	Total       int
	Err         error
	InlineError string
	InlineFor   string
}

func (v View) HasOverflow() bool { return v.Total > len(v.Items) }

// OverflowLabel names the overflow control, e.g. "View all 4 updates".
func (v View) OverflowLabel() string {
	if !v.HasOverflow() {
		return ""
	}
	return fmt.Sprintf("View all %d updates", v.Total)
}

type Config struct {
	MaxItems         int
	Timeout          time.Duration
	Retries          int
	RetryBase        time.Duration
	ErrorTTL         time.Duration
	NavigateDebounce time.Duration
}

func (c Config) normalize() Config {
	if c.MaxItems <= 0 {
		c.MaxItems = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 8 * time.Second
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 300 * time.Millisecond
	}
	if c.ErrorTTL <= 0 {
		c.ErrorTTL = 4 * time.Second
	}
	if c.NavigateDebounce < 0 {
		c.NavigateDebounce = 0
	}
	return c
}

type Deps struct {
	Source   Source
	Opener   Opener
	Renderer Renderer
	// Scheduler runs inline-error expiry and the navigate debounce.
	Scheduler loop.Scheduler
	// OnStale is told about updates the server no longer has.
	OnStale func(id string)
	Bus     eventbus.Bus
	Log     logx.Logger

	// Sleep overrides the retry wait (tests).
	Sleep func(ctx context.Context, d time.Duration) error
}

// Panel is safe for concurrent use; network calls run without the lock.
type Panel struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	nav  *loop.Debouncer

	mu        sync.Mutex
	view      View
	all       []notify.Update
	inlineGen uint64
	cancelTTL func()
}

func New(cfg Config, deps Deps) *Panel {
	cfg = cfg.normalize()
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Scheduler == nil {
		deps.Scheduler = loop.Wall{}
	}
	if deps.Opener == nil {
		deps.Opener = PrintOpener{}
	}
	return &Panel{
		cfg:  cfg,
		deps: deps,
		log:  deps.Log.With(logx.String("comp", "banner")),
		nav:  loop.NewDebouncer(cfg.NavigateDebounce, deps.Scheduler),
		view: View{State: StateClosed},
	}
}

// View returns the current view.
func (p *Panel) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.copyLocked()
}

func (p *Panel) copyLocked() View {
	v := p.view
	v.Items = append([]notify.Update(nil), p.view.Items...)
	return v
}

func (p *Panel) render() {
	if p.deps.Renderer == nil {
		return
	}
	p.deps.Renderer.RenderBanner(p.View())
}

// Open fetches the snapshot and returns the resulting view. Retry is Open
// called again from the error state.
func (p *Panel) Open(ctx context.Context) View {
	p.mu.Lock()
	p.view = View{State: StateLoading}
	p.mu.Unlock()
	p.render()

	var (
		ups      []notify.Update
		attempts int
	)
	policy := retry.Policy{
		Retries: p.cfg.Retries,
		Backoff: backoff.Policy{Base: p.cfg.RetryBase, Factor: 2, Max: 4 * p.cfg.RetryBase, Jitter: 0.1},
		Sleep:   p.deps.Sleep,
	}
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		attempts++
		rctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
		got, err := p.deps.Source.RecentUpdates(rctx, time.Time{})
		if err != nil {
			if !feed.IsTransient(err) {
				return retry.Permanent(err)
			}
			p.log.Debug("banner fetch failed; retrying", logx.Err(err))
			return err
		}
		ups = got
		return nil
	})

	p.mu.Lock()
	switch {
	case err != nil:
		p.log.Warn("banner fetch failed", logx.Err(err))
		p.all = nil
		p.view = View{State: StateError, Err: err, InlineError: MsgLoadFailed}
	default:
		p.all = ups
		p.rebuildLocked()
	}
	v := p.copyLocked()
	p.mu.Unlock()
	p.render()
	eventbus.Emit(p.deps.Bus, eventbus.BannerLoaded, eventbus.BannerLoad{
		State: string(v.State), Items: v.Total, Attempts: attempts, Err: err,
	})
	return v
}

// Retry re-opens the panel.
func (p *Panel) Retry(ctx context.Context) View { return p.Open(ctx) }

func (p *Panel) rebuildLocked() {
	items := p.all
	if len(items) > p.cfg.MaxItems {
		items = items[:p.cfg.MaxItems]
	}
	state := StateReady
	if len(p.all) == 0 {
		state = StateEmpty
	}
	p.view.State = state
	p.view.Items = append([]notify.Update(nil), items...)
	p.view.Total = len(p.all)
	p.view.Err = nil
}

// Click verifies the update still exists and navigates to it. A stale item
// is removed from view and reported through OnStale; an inline error is
// shown for ErrorTTL. The returned error is feed.ErrNotFound for stale items.
func (p *Panel) Click(ctx context.Context, id string) error {
	rctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	err := p.deps.Source.CheckUpdate(rctx, id)
	cancel()

	switch {
	case err == nil:
		url := p.deps.Source.ViewURL(id)
		p.nav.Trigger(func() {
			if err := p.deps.Opener.Open(url); err != nil {
				p.log.Warn("open failed", logx.String("url", url), logx.Err(err))
			}
		})
		return nil
	case errors.Is(err, feed.ErrNotFound):
		p.mu.Lock()
		p.removeLocked(id)
		p.inlineLocked(id, MsgStale)
		p.mu.Unlock()
		if p.deps.OnStale != nil {
			p.deps.OnStale(id)
		}
		p.render()
		return err
	default:
		p.log.Debug("check update failed", logx.String("id", id), logx.Err(err))
		p.mu.Lock()
		p.inlineLocked(id, MsgUnreached)
		p.mu.Unlock()
		p.render()
		return err
	}
}

func (p *Panel) removeLocked(id string) {
	kept := p.all[:0:0]
	for _, u := range p.all {
		if u.ID != id {
			kept = append(kept, u)
		}
	}
	p.all = kept
	if p.view.State == StateReady || p.view.State == StateEmpty {
		p.rebuildLocked()
	}
}

func (p *Panel) inlineLocked(id, msg string) {
	if p.cancelTTL != nil {
		p.cancelTTL()
	}
	p.inlineGen++
	gen := p.inlineGen
	p.view.InlineError = msg
	p.view.InlineFor = id
	p.cancelTTL = p.deps.Scheduler.AfterFunc(p.cfg.ErrorTTL, func() {
		p.mu.Lock()
		if p.inlineGen != gen {
			p.mu.Unlock()
			return
		}
		p.view.InlineError = ""
		p.view.InlineFor = ""
		p.cancelTTL = nil
		p.mu.Unlock()
		p.render()
	})
}

// Close cancels pending navigation and the inline error timer.
func (p *Panel) Close() {
	p.nav.Cancel()
	p.mu.Lock()
	if p.cancelTTL != nil {
		p.cancelTTL()
		p.cancelTTL = nil
	}
	p.view = View{State: StateClosed}
	p.all = nil
	p.mu.Unlock()
}
