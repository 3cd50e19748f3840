// Package poller runs the periodic pull jobs: the fallback poll while push
// is unavailable, a reconciliation poll that runs regardless, and the badge
// freshness check.
package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"loopin/internal/eventbus"
	"loopin/internal/notify"
	"loopin/internal/schedule"
	logx "loopin/pkg/logx"
)

const (
	KindFallback  = "fallback"
	KindReconcile = "reconcile"
	KindFreshness = "freshness"
	KindStartup   = "startup"

	warnThrottle = time.Minute
)

// Source is the subset of the feed client the poller needs.
type Source interface {
	RecentUpdates(ctx context.Context, since time.Time) ([]notify.Update, error)
	LatestUpdateTime(ctx context.Context) (time.Time, error)
}

type Config struct {
	Interval          time.Duration
	ReconcileInterval time.Duration
	FreshnessInterval time.Duration
	Jitter            time.Duration
	RequestTimeout    time.Duration
}

// Deps are the session callbacks. Since and Connected must be safe to call
// from job goroutines; Deliver and Fresh are expected to post onto the
// session loop.
type Deps struct {
	Source    Source
	Since     func() time.Time
	Connected func() bool
	Deliver   func(kind string, updates []notify.Update)
	Fresh     func(latest time.Time)

	Bus eventbus.Bus
	Log logx.Logger
	Now func() time.Time
}

type Poller struct {
	deps Deps
	log  logx.Logger

	mu  sync.Mutex
	cfg Config
	c   *cron.Cron
	ctx context.Context

	activating atomic.Bool

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

func New(cfg Config, deps Deps) *Poller {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Poller{
		deps:     deps,
		log:      deps.Log.With(logx.String("comp", "poller")),
		cfg:      normalize(cfg),
		lastWarn: map[string]time.Time{},
	}
}

func normalize(cfg Config) Config {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 5 * time.Minute
	}
	if cfg.FreshnessInterval <= 0 {
		cfg.FreshnessInterval = 2 * time.Minute
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 8 * time.Second
	}
	return cfg
}

// Start schedules the jobs and kicks off one startup poll in the background.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.c != nil {
		return
	}
	p.ctx = ctx
	p.restartLocked()

	go func() {
		_, _ = p.poll(ctx, KindStartup, p.since())
	}()
}

// Stop halts the scheduler and waits for running jobs.
func (p *Poller) Stop() {
	p.mu.Lock()
	c := p.c
	p.c = nil
	p.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Apply swaps intervals. A running scheduler is rebuilt.
func (p *Poller) Apply(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg = normalize(cfg)
	if cfg == p.cfg {
		return
	}
	p.cfg = cfg
	if p.c == nil {
		return
	}
	p.restartLocked()
}

func (p *Poller) restartLocked() {
	if p.c != nil {
		<-p.c.Stop().Done()
	}
	cl := schedule.CronLogger(p.log)
	p.c = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	now := p.deps.Now()
	ctx := p.ctx
	p.c.Schedule(schedule.Every(p.cfg.Interval, p.cfg.Jitter, now, KindFallback), cron.FuncJob(func() {
		_, _ = p.PollOnce(ctx)
	}))
	p.c.Schedule(schedule.Every(p.cfg.ReconcileInterval, p.cfg.Jitter, now, KindReconcile), cron.FuncJob(func() {
		_, _ = p.Reconcile(ctx)
	}))
	p.c.Schedule(schedule.Every(p.cfg.FreshnessInterval, p.cfg.Jitter, now, KindFreshness), cron.FuncJob(func() {
		_ = p.CheckFreshness(ctx)
	}))
	p.c.Start()
	p.log.Debug("poller scheduled",
		logx.Duration("interval", p.cfg.Interval),
		logx.Duration("reconcile", p.cfg.ReconcileInterval),
		logx.Duration("freshness", p.cfg.FreshnessInterval),
	)
}

func (p *Poller) config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Activate runs one fallback poll right away, without waiting for the next
// tick. It is called when push stops being connected; calls made while an
// activation poll is in flight, before Start, or while connected are no-ops.
func (p *Poller) Activate() {
	p.mu.Lock()
	ctx, started := p.ctx, p.c != nil
	p.mu.Unlock()
	if !started || !p.activating.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer p.activating.Store(false)
		_, _ = p.PollOnce(ctx)
	}()
}

// PollOnce runs the fallback poll. It is a no-op while push is connected.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	if p.deps.Connected != nil && p.deps.Connected() {
		return 0, nil
	}
	return p.poll(ctx, KindFallback, p.since())
}

// Reconcile polls regardless of the push state to repair missed events. It
// sends no cursor: a push event lost before a newer delivered one is older
// than the cursor, so only the server's default window can return it. The
// deduplicator absorbs everything already stored.
func (p *Poller) Reconcile(ctx context.Context) (int, error) {
	return p.poll(ctx, KindReconcile, time.Time{})
}

func (p *Poller) since() time.Time {
	if p.deps.Since == nil {
		return time.Time{}
	}
	return p.deps.Since()
}

func (p *Poller) poll(ctx context.Context, kind string, since time.Time) (int, error) {
	if ctx == nil || ctx.Err() != nil {
		return 0, context.Canceled
	}
	rctx, cancel := context.WithTimeout(ctx, p.config().RequestTimeout)
	defer cancel()

	start := time.Now()
	ups, err := p.deps.Source.RecentUpdates(rctx, since)
	p.report(kind, len(ups), err, time.Since(start))
	if err != nil {
		return 0, err
	}
	if len(ups) > 0 && p.deps.Deliver != nil {
		p.deps.Deliver(kind, ups)
	}
	return len(ups), nil
}

// CheckFreshness fetches the newest update time and passes it to Fresh.
func (p *Poller) CheckFreshness(ctx context.Context) error {
	if ctx == nil || ctx.Err() != nil {
		return context.Canceled
	}
	rctx, cancel := context.WithTimeout(ctx, p.config().RequestTimeout)
	defer cancel()

	start := time.Now()
	latest, err := p.deps.Source.LatestUpdateTime(rctx)
	p.report(KindFreshness, 0, err, time.Since(start))
	if err != nil {
		return err
	}
	if !latest.IsZero() && p.deps.Fresh != nil {
		p.deps.Fresh(latest)
	}
	return nil
}

func (p *Poller) report(kind string, items int, err error, took time.Duration) {
	eventbus.Emit(p.deps.Bus, eventbus.PollCompleted, eventbus.Poll{Kind: kind, Items: items, Err: err, Duration: took})
	if err == nil {
		p.log.Debug("poll done", logx.String("kind", kind), logx.Int("items", items), logx.Duration("took", took))
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	now := time.Now()
	p.warnMu.Lock()
	last := p.lastWarn[kind]
	if !last.IsZero() && now.Sub(last) < warnThrottle {
		p.warnMu.Unlock()
		p.log.Debug("poll failed", logx.String("kind", kind), logx.Err(err))
		return
	}
	p.lastWarn[kind] = now
	p.warnMu.Unlock()
	p.log.Warn("poll failed", logx.String("kind", kind), logx.Err(err))
}
