package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"loopin/internal/banner"
	"loopin/internal/config"
	"loopin/internal/eventbus"
	"loopin/internal/feed"
	"loopin/internal/loop"
	"loopin/internal/metrics"
	"loopin/internal/notify"
	debugsrv "loopin/internal/observability/debug"
	"loopin/internal/poller"
	"loopin/internal/prefs"
	"loopin/internal/presenter"
	rtsup "loopin/internal/runtime/supervisor"
	"loopin/internal/session"
	"loopin/internal/sound"
	"loopin/internal/storage"
	"loopin/internal/transport"
	logx "loopin/pkg/logx"
)

// Options select how much of the agent NewApp wires.
type Options struct {
	// Out receives presenter output. Nil uses stdout.
	Out io.Writer
	// Offline skips push, polling, metrics, the debug server and config
	// watching. One-shot CLI commands use it; their reads stay local.
	Offline bool
}

type App struct {
	opts Options

	cfgm     *config.ConfigManager
	settings config.Settings
	sup      *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	feed    *feed.Client
	term    *presenter.Terminal
	player  *sound.CommandPlayer
	loop    *loop.Loop
	session *session.Session
	banner  *banner.Panel

	manager *transport.Manager
	poller  *poller.Poller
	metrics *metrics.Metrics
	debug   *debugsrv.Service
}

func NewApp(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	settings, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	if opts.Out == nil {
		opts.Out = logx.Stdout()
	}

	logSvc, log := logx.New(mapLogging(cfg))
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(settings.Storage)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	bus := eventbus.New()
	pf := prefs.New(store, log)

	token := settings.SessionToken
	if token == "" {
		token = pf.SessionToken(context.Background())
	}

	client := feed.New(settings.BaseURL, feed.Options{
		Timeout:      settings.RequestTimeout,
		SessionToken: token,
		Log:          log.With(logx.String("comp", "feed")),
	})

	a := &App{
		opts:     opts,
		cfgm:     cfgm,
		settings: settings,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		feed:     client,
		term:     presenter.NewTerminal(opts.Out),
		player:   sound.NewCommandPlayer(mapSound(settings), opts.Out, log.With(logx.String("comp", "sound"))),
		loop:     loop.New(log.With(logx.String("comp", "loop"))),
	}

	sd := session.Deps{
		Loop:      a.loop,
		Store:     notify.NewStore(settings.Store.Capacity, store, log.With(logx.String("comp", "notify"))),
		Prefs:     pf,
		Feed:      client,
		Presenter: a.term,
		Player:    a.player,
		Opener:    banner.NewCommandOpener(settings.Banner.OpenCommand),
		Bus:       bus,
		Log:       log,
	}

	if !opts.Offline {
		a.manager = transport.NewManager(mapTransport(settings, token, log), transport.Hooks{
			OnEvent:    func(env transport.Envelope, via string) { a.session.HandleEnvelope(env, via) },
			OnState: func(from, to transport.State, n int) {
				a.session.HandleState(from, to, n)
				if from.Push() && !to.Push() && a.poller != nil {
					a.poller.Activate()
				}
			},
			OnLost:     func(n int) { a.session.HandleLost(n) },
			OnRestored: func() { a.session.HandleRestored() },
		}, bus, log)
		sd.Emitter = a.manager
	}
	a.session = session.New(mapSession(settings), sd)

	a.banner = banner.New(mapBanner(settings), banner.Deps{
		Source:   client,
		Opener:   sd.Opener,
		Renderer: a.term,
		OnStale:  a.session.RemoveStale,
		Bus:      bus,
		Log:      log,
	})

	if !opts.Offline {
		a.poller = poller.New(mapPoller(settings), poller.Deps{
			Source:    client,
			Since:     a.session.Since,
			Connected: a.session.Connected,
			Deliver:   a.session.DeliverPolled,
			Fresh:     a.session.Fresh,
			Bus:       bus,
			Log:       log,
		})
		a.metrics = metrics.New(bus)
		a.debug = debugsrv.New(mapDebug(settings), debugsrv.Sources{
			Gatherer: a.metrics.Registry,
			Health:   a.Health,
		}, log)
	}
	return a, nil
}

func (a *App) Session() *session.Session { return a.session }

func (a *App) Banner() *banner.Panel { return a.banner }

func (a *App) Terminal() *presenter.Terminal { return a.term }

func (a *App) Logger() logx.Logger { return a.log }

// Settings returns the settings resolved at startup or by the last reload.
func (a *App) Settings() config.Settings { return a.settings }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Health is the /healthz document.
func (a *App) Health() any {
	doc := map[string]any{"status": "ok"}
	if a.manager != nil {
		doc["connection"] = string(a.manager.State())
		doc["transport"] = a.manager.Transport()
		doc["failures"] = a.manager.Failures()
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if snap, err := a.session.Snapshot(ctx); err == nil {
		doc["unread"] = snap.Unread
		doc["records"] = len(snap.Records)
		doc["badge"] = snap.Badge.Label()
	} else {
		doc["status"] = "degraded"
		doc["session_err"] = err.Error()
	}
	if a.sup != nil {
		doc["supervisor"] = a.sup.Snapshot()
	}
	return doc
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.sup.Go("session.loop", a.loop.Run)
	if err := a.session.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("session start: %w", err)
	}
	if a.opts.Offline {
		a.log.Debug("app started offline")
		return nil
	}

	a.sup.Go("transport.run", func(c context.Context) error {
		err := a.manager.Run(c)
		if errors.Is(err, transport.ErrClosed) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	a.poller.Start(a.sup.Context())
	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })
	a.debug.Reconfigure(a.sup.Context(), mapDebug(a.settings))

	// Debug-level event trace; components subscribe themselves for real work.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", string(e.Type)), logx.Time("time", e.Time))
			}
		}
	})

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(config.ValidateHook)
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.String("base_url", a.settings.BaseURL),
		logx.String("transports", strings.Join(a.settings.Transport.Transports, ",")),
	)
	return nil
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	s, err := config.Resolve(next)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}
	for _, sec := range config.RestartRequired(sections) {
		a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", sec))
	}

	if err := a.logs.Apply(mapLogging(next)); err != nil {
		a.log.Warn("log file unavailable; using console", logx.Err(err))
	}
	a.session.Reconfigure(mapSession(s))
	a.player.Reconfigure(mapSound(s))
	a.poller.Apply(mapPoller(s))
	a.debug.Reconfigure(ctx, mapDebug(s))
	a.settings = s

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// The session flushes before the loop goes away.
	step("session", 2*time.Second, a.session.Close)
	if !a.opts.Offline {
		step("transport", time.Second, func(context.Context) error { a.manager.Disconnect(); return nil })
		step("poller", 2*time.Second, func(context.Context) error { a.poller.Stop(); return nil })
		step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	}
	a.sup.Cancel()
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("sound", time.Second, func(context.Context) error { a.player.Wait(); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
