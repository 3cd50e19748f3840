// Package session is the per-agent context object. It owns the local
// notification store, the toast queue (and with it the shown set), the
// badge machine and the preferences, and runs every mutation of them on a
// single loop.
package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"loopin/internal/badge"
	"loopin/internal/banner"
	"loopin/internal/eventbus"
	"loopin/internal/loop"
	"loopin/internal/notify"
	"loopin/internal/prefs"
	"loopin/internal/presenter"
	"loopin/internal/sound"
	"loopin/internal/toast"
	"loopin/internal/transport"
	logx "loopin/pkg/logx"
)

var ErrUnknownRecord = errors.New("session: unknown notification")

const checkTimeout = 8 * time.Second

// Feed is the part of the backend client the session needs for click-through.
type Feed interface {
	CheckUpdate(ctx context.Context, id string) error
	ViewURL(id string) string
}

// Emitter sends client events on the push channel.
type Emitter interface {
	Emit(env transport.Envelope) error
}

type Config struct {
	Toast             toast.Config
	PersistentUpdates bool
	DedupWindow       time.Duration
	FreshnessWindow   time.Duration
	// InitialLookback bounds the first poll when the store is empty. Zero
	// lets the server pick its default window.
	InitialLookback  time.Duration
	NavigateDebounce time.Duration
}

type Deps struct {
	Loop *loop.Loop
	// Scheduler drives toast expiry and the navigate debounce. Nil uses
	// Loop, whose timers post onto the loop.
	Scheduler loop.Scheduler
	Now       func() time.Time

	Store     *notify.Store
	Prefs     *prefs.Prefs
	Feed      Feed
	Emitter   Emitter
	Presenter presenter.Presenter
	Player    sound.Player
	Opener    banner.Opener
	Bus       eventbus.Bus
	Log       logx.Logger
}

// Session fields below the loop are owned by the loop goroutine.
type Session struct {
	cfg  Config
	loop *loop.Loop
	now  func() time.Time
	log  logx.Logger

	feed      Feed
	emitter   Emitter
	presenter presenter.Presenter
	opener    banner.Opener
	bus       eventbus.Bus
	nav       *loop.Debouncer

	// Read from poller goroutines.
	connected atomic.Bool
	cursor    atomic.Int64
	startedAt time.Time

	ctx          context.Context
	store        *notify.Store
	dedup        *notify.Deduper
	toasts       *toast.Queue
	badge        *badge.Machine
	prefs        *prefs.Prefs
	soundOn      bool
	serverUnread int
	shownBadge   badge.State
	conn         presenter.Connection
}

func New(cfg Config, d Deps) *Session {
	if d.Loop == nil {
		d.Loop = loop.New(d.Log)
	}
	if d.Scheduler == nil {
		d.Scheduler = d.Loop
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Store == nil {
		d.Store = notify.NewStore(notify.DefaultCapacity, nil, d.Log)
	}
	if d.Prefs == nil {
		d.Prefs = prefs.New(nil, d.Log)
	}
	if d.Presenter == nil {
		d.Presenter = &presenter.Recorder{}
	}
	if d.Opener == nil {
		d.Opener = banner.PrintOpener{}
	}

	s := &Session{
		cfg:       cfg,
		loop:      d.Loop,
		now:       d.Now,
		log:       d.Log.With(logx.String("comp", "session")),
		feed:      d.Feed,
		emitter:   d.Emitter,
		presenter: d.Presenter,
		opener:    d.Opener,
		bus:       d.Bus,
		nav:       loop.NewDebouncer(cfg.NavigateDebounce, d.Scheduler),
		ctx:       context.Background(),
		store:     d.Store,
		dedup:     notify.NewDeduper(cfg.DedupWindow, d.Now),
		badge:     badge.NewMachine(cfg.FreshnessWindow, d.Now),
		prefs:     d.Prefs,
		soundOn:   true,
		conn:      presenter.Connection{State: string(transport.Disconnected)},
	}
	s.toasts = toast.NewQueue(cfg.Toast, toast.Deps{
		Scheduler: d.Scheduler,
		Now:       d.Now,
		Presenter: d.Presenter,
		Player:    d.Player,
		SoundOn:   func() bool { return s.soundOn },
		Bus:       d.Bus,
		Log:       s.log,
	})
	s.startedAt = d.Now()
	return s
}

// Loop exposes the session loop so the host can run it.
func (s *Session) Loop() *loop.Loop { return s.loop }

// Start loads persisted state. The loop must be running.
func (s *Session) Start(ctx context.Context) error {
	return s.loop.Do(ctx, func() {
		s.ctx = context.WithoutCancel(ctx)
		n := s.store.LoadFromDisk(s.ctx)
		s.soundOn = s.prefs.SoundEnabled(s.ctx)
		if id := s.prefs.LastShownID(s.ctx); id != "" {
			s.dedup.Seed(id)
		}
		s.startedAt = s.now()
		s.updateCursor()
		s.refreshBadge(true)
		s.log.Info("session started", logx.Int("records", n), logx.Int("unread", s.store.UnreadCount()), logx.Bool("sound", s.soundOn))
	})
}

// Reconfigure applies hot-reloadable settings.
func (s *Session) Reconfigure(cfg Config) {
	s.loop.Post(func() {
		s.cfg.Toast = cfg.Toast
		s.cfg.PersistentUpdates = cfg.PersistentUpdates
		s.toasts.Reconfigure(cfg.Toast)
		s.dedup.SetWindow(cfg.DedupWindow)
		s.nav.SetDelay(cfg.NavigateDebounce)
	})
}

// Connected reports whether push is live. Safe from any goroutine.
func (s *Session) Connected() bool { return s.connected.Load() }

// Since is the poll cursor: the newest server-stamped record time, or the start
// time minus InitialLookback when nothing is stored. Safe from any goroutine.
func (s *Session) Since() time.Time {
	n := s.cursor.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (s *Session) updateCursor() {
	if at, ok := s.store.NewestServerTime(); ok {
		s.cursor.Store(at.UnixNano())
		return
	}
	if s.cfg.InitialLookback > 0 {
		s.cursor.Store(s.startedAt.Add(-s.cfg.InitialLookback).UnixNano())
		return
	}
	s.cursor.Store(0)
}

// accept is the single entry point for both push and poll deliveries.
func (s *Session) accept(rec notify.Record, origin notify.Origin) notify.Decision {
	dec := s.dedup.Accept(s.ctx, s.store, s.toasts, rec, origin)
	eventbus.Emit(s.bus, eventbus.NotificationAccepted, eventbus.Accepted{
		ID: rec.ID, Kind: string(rec.Kind), Source: string(origin), IsNew: dec.IsNew, Toast: dec.Toast,
	})
	if dec.Toast {
		persistent := s.cfg.PersistentUpdates && rec.Kind == notify.KindNewUpdate
		if _, ok := s.toasts.Show(rec, persistent); ok && rec.Kind != notify.KindSystem {
			if err := s.prefs.SetLastShownID(s.ctx, rec.ID); err != nil {
				s.log.Debug("persist last shown id failed", logx.Err(err))
			}
		}
	}
	if dec.Stored && !rec.CreatedAt.IsZero() {
		s.badge.SetLatest(rec.CreatedAt)
	}
	s.updateCursor()
	s.refreshBadge(false)
	s.log.Debug("notification accepted",
		logx.String("id", rec.ID),
		logx.String("source", string(origin)),
		logx.Bool("new", dec.IsNew),
		logx.Bool("toast", dec.Toast),
	)
	return dec
}

func (s *Session) refreshBadge(force bool) {
	st, _ := s.badge.SetUnread(s.store.UnreadCount())
	if st == s.shownBadge && !force {
		return
	}
	s.shownBadge = st
	s.presenter.ShowBadge(st)
	eventbus.Emit(s.bus, eventbus.BadgeChanged, eventbus.Badge{Mode: string(st.Mode), Label: st.Label(), Count: s.badge.Unread()})
}
