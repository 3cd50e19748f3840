package supervisor

import (
	"context"
	"time"

	"loopin/internal/backoff"
	logx "loopin/pkg/logx"
)

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	delay backoff.Policy
	// limit caps restarts after the first run; 0 is unlimited.
	limit int
	// stableAfter is how long a run must last to reset the backoff.
	stableAfter time.Duration
}

// WithRestartBackoff bounds the delay between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		p.delay.Base, p.delay.Max = min, max
	}
}

// WithMaxRestarts gives up, failing the supervisor, after n restarts.
func WithMaxRestarts(n int) RestartOption {
	return func(p *restartPolicy) { p.limit = n }
}

// GoRestart runs fn again after every error or panic until ctx is done or
// fn returns nil.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{
		delay:       backoff.Policy{Base: 250 * time.Millisecond, Factor: 2, Max: 30 * time.Second, Jitter: 0.2},
		stableAfter: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&p)
	}
	s.spawn(func() { s.restartLoop(name, fn, p) })
}

func (s *Supervisor) restartLoop(name string, fn func(ctx context.Context) error, p restartPolicy) {
	seq := backoff.Sequence{Policy: p.delay}
	for restarts := 0; s.ctx.Err() == nil; restarts++ {
		s.stats.started(name, restarts > 0)
		began := time.Now()
		err := s.call(name, fn)
		s.stats.stopped(name, err)
		if err == nil || s.ctx.Err() != nil {
			return
		}

		if p.limit > 0 && restarts >= p.limit {
			s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
			s.fail(err)
			return
		}
		if time.Since(began) >= p.stableAfter {
			seq.Reset()
		}
		wait := seq.Next()
		s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))

		t := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}
