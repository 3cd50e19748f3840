package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"loopin/internal/backoff"
	"loopin/internal/eventbus"
	logx "loopin/pkg/logx"
)

var (
	ErrOutboxFull = errors.New("transport: outbox full")
	errDropped    = errors.New("connection dropped")
)

const (
	defaultOutbox        = 64
	defaultFallbackAfter = 5
	defaultLostAfter     = 2
	defaultConnectTO     = 8 * time.Second
	defaultProbe         = 60 * time.Second
	defaultStable        = 30 * time.Second
	defaultCooldown      = 30 * time.Second
)

// Config tunes the Manager. Zero values take the defaults above.
type Config struct {
	// Dialers in preference order; the first that connects wins.
	Dialers        []Dialer
	ConnectTimeout time.Duration
	Backoff        backoff.Policy

	// FallbackAfter consecutive failures switch to polling-fallback and
	// replace the backoff with ProbeInterval reconnect probes.
	FallbackAfter int
	ProbeInterval time.Duration

	// LostIndicatorAfter consecutive failures raise the lost indicator, at
	// most once per outage and not again within LostIndicatorCooldown.
	LostIndicatorAfter    int
	LostIndicatorCooldown time.Duration

	// A connection that stays up StableAfter resets the failure counter.
	StableAfter time.Duration

	EmitRatePerSec int
	OutboxSize     int
}

func (c Config) normalize() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTO
	}
	c.Backoff = c.Backoff.Normalize()
	if c.FallbackAfter <= 0 {
		c.FallbackAfter = defaultFallbackAfter
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = defaultProbe
	}
	if c.LostIndicatorAfter <= 0 {
		c.LostIndicatorAfter = defaultLostAfter
	}
	if c.LostIndicatorCooldown <= 0 {
		c.LostIndicatorCooldown = defaultCooldown
	}
	if c.StableAfter <= 0 {
		c.StableAfter = defaultStable
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = defaultOutbox
	}
	return c
}

// Hooks are invoked from the manager goroutine. They must not block; the
// session posts each call onto its loop.
type Hooks struct {
	OnEvent    func(env Envelope, transport string)
	OnState    func(from, to State, failures int)
	OnLost     func(failures int)
	OnRestored func()
}

// Manager keeps one push connection alive. Run owns the dial/serve cycle;
// a separate writer goroutine drains Emit's outbox through a rate limiter.
type Manager struct {
	cfg   Config
	hooks Hooks
	bus   eventbus.Bus
	log   logx.Logger

	limiter *rate.Limiter
	outbox  chan Envelope
	kick    chan struct{}

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	state     State
	transport string
	conn      Conn
	failures  int
	running   bool
	closed    bool
	cancel    context.CancelFunc

	// Owned by the Run goroutine.
	lostShown bool
	lastLost  time.Time
}

func NewManager(cfg Config, hooks Hooks, bus eventbus.Bus, log logx.Logger) *Manager {
	cfg = cfg.normalize()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		cfg:     cfg,
		hooks:   hooks,
		bus:     bus,
		log:     log.With(logx.String("comp", "transport")),
		limiter: newLimiter(cfg.EmitRatePerSec),
		outbox:  make(chan Envelope, cfg.OutboxSize),
		kick:    make(chan struct{}, 1),
		now:     time.Now,
		sleep:   sleepCtx,
		state:   Disconnected,
	}
}

func newLimiter(perSec int) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSec), perSec)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transport names the connected transport, or "" when not connected.
func (m *Manager) Transport() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport
}

// Failures is the consecutive failure count.
func (m *Manager) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// Emit queues env for the current or next connection. It never blocks.
func (m *Manager) Emit(env Envelope) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case m.outbox <- env:
		return nil
	default:
		m.log.Warn("emit dropped: outbox full", logx.String("event", env.Event))
		return ErrOutboxFull
	}
}

// Disconnect closes the connection and stops Run. The manager cannot be
// restarted afterwards.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closed = true
	cancel := m.cancel
	conn := m.conn
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// Run connects and keeps reconnecting until ctx is done or Disconnect is
// called. It returns nil on a clean stop.
func (m *Manager) Run(ctx context.Context) error {
	if len(m.cfg.Dialers) == 0 {
		return errors.New("transport: no dialers configured")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("transport: already running")
	}
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.running = true
	m.cancel = cancel
	m.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.writer(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		m.setState(Disconnected, "", m.Failures())
	}()

	m.setState(Connecting, "", 0)
	seq := backoff.Sequence{Policy: m.cfg.Backoff}
	failures := 0

	for ctx.Err() == nil {
		conn, name, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			failures++
			m.failed(failures, err)
		} else {
			started := m.now()
			m.serve(ctx, conn, name)
			if ctx.Err() != nil {
				break
			}
			if m.now().Sub(started) >= m.cfg.StableAfter {
				failures = 0
				seq.Reset()
			}
			failures++
			m.failed(failures, errDropped)
		}

		wait := m.cfg.ProbeInterval
		if failures < m.cfg.FallbackAfter {
			wait = seq.Next()
		}
		m.log.Debug("reconnect scheduled", logx.Int("failures", failures), logx.Duration("in", wait))
		if err := m.sleep(ctx, wait); err != nil {
			break
		}
	}
	return nil
}

func (m *Manager) dial(ctx context.Context) (Conn, string, error) {
	var errs []error
	for _, d := range m.cfg.Dialers {
		dctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		conn, err := d.Dial(dctx)
		cancel()
		if err == nil {
			return conn, d.Name(), nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		m.log.Debug("transport dial failed", logx.String("transport", d.Name()), logx.Err(err))
		errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
	}
	return nil, "", errors.Join(errs...)
}

func (m *Manager) failed(failures int, err error) {
	next := Degraded
	if failures >= m.cfg.FallbackAfter {
		next = PollingFallback
	}
	m.setState(next, "", failures)
	if failures == 1 || failures == m.cfg.FallbackAfter {
		m.log.Warn("push connection failing", logx.Int("failures", failures), logx.String("state", string(next)), logx.Err(err))
	}

	if failures < m.cfg.LostIndicatorAfter || m.lostShown {
		return
	}
	now := m.now()
	if !m.lastLost.IsZero() && now.Sub(m.lastLost) < m.cfg.LostIndicatorCooldown {
		return
	}
	m.lostShown = true
	m.lastLost = now
	if m.hooks.OnLost != nil {
		m.hooks.OnLost(failures)
	}
	eventbus.Emit(m.bus, eventbus.ConnectionLost, failures)
}

func (m *Manager) serve(ctx context.Context, conn Conn, name string) {
	m.setState(Connected, name, 0)
	m.log.Info("push connected", logx.String("transport", name))

	if m.lostShown {
		m.lostShown = false
		if m.hooks.OnRestored != nil {
			m.hooks.OnRestored()
		}
		eventbus.Emit(m.bus, eventbus.ConnectionRestored, name)
	}
	m.deliver(Envelope{Event: EventConnect}, name)

	defer func() {
		m.mu.Lock()
		m.conn = nil
		m.transport = ""
		m.mu.Unlock()
		_ = conn.Close()
		m.deliver(Envelope{Event: EventDisconnect}, name)
	}()

	for _, ev := range []string{EmitSubscribe, EmitGetUnreadCount} {
		if err := m.send(ctx, conn, Envelope{Event: ev}); err != nil {
			m.log.Warn("subscribe failed", logx.String("event", ev), logx.Err(err))
			return
		}
	}
	// Queued emits go out only after the subscription.
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	select {
	case m.kick <- struct{}{}:
	default:
	}

	for {
		env, err := conn.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.log.Info("push connection closed", logx.String("transport", name), logx.Err(err))
			}
			return
		}
		m.deliver(env, name)
	}
}

func (m *Manager) deliver(env Envelope, name string) {
	if env.Event != EventConnect && env.Event != EventDisconnect {
		eventbus.Emit(m.bus, eventbus.PushReceived, eventbus.Push{Event: env.Event, Transport: name})
	}
	if m.hooks.OnEvent != nil {
		m.hooks.OnEvent(env, name)
	}
}

func (m *Manager) send(ctx context.Context, conn Conn, env Envelope) error {
	sctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()
	return conn.Send(sctx, env)
}

func (m *Manager) current() Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// writer owns the pending queue. Envelopes wait there while no connection
// is up and are flushed in order once one is.
func (m *Manager) writer(ctx context.Context) {
	var pending []Envelope
	for {
		if conn := m.current(); conn != nil {
			for len(pending) > 0 {
				if err := m.limiter.Wait(ctx); err != nil {
					return
				}
				if err := m.send(ctx, conn, pending[0]); err != nil {
					m.log.Debug("emit failed; keeping queued", logx.String("event", pending[0].Event), logx.Err(err))
					break
				}
				pending = pending[1:]
			}
		}
		select {
		case <-ctx.Done():
			return
		case env := <-m.outbox:
			pending = append(pending, env)
			if over := len(pending) - m.cfg.OutboxSize; over > 0 {
				m.log.Warn("emit queue overflow; dropping oldest", logx.Int("dropped", over))
				pending = pending[over:]
			}
		case <-m.kick:
		}
	}
}

func (m *Manager) setState(to State, transport string, failures int) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.transport = transport
	m.failures = failures
	m.mu.Unlock()
	if from == to {
		return
	}
	if m.hooks.OnState != nil {
		m.hooks.OnState(from, to, failures)
	}
	eventbus.Emit(m.bus, eventbus.ConnectionStateChanged, eventbus.StateChange{
		From: string(from), To: string(to), Transport: transport, Failures: failures,
	})
}
