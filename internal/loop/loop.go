// Package loop provides the single-owner event loop the session runs on.
//
// Every mutation of session state (local store, shown-toast set, badge) runs
// as a closure on the loop goroutine. I/O happens elsewhere and posts its
// result back with Post, so the in-memory structures never need locks.
package loop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "loopin/pkg/logx"
)

var ErrStopped = errors.New("loop stopped")

// Scheduler runs fn after d. The returned cancel func prevents fn from
// running if it has not started yet; it is safe to call more than once.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) (cancel func())
}

// Loop is a FIFO queue of closures drained by a single goroutine (Run).
type Loop struct {
	log logx.Logger

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool
}

func New(log logx.Logger) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{log: log, wake: make(chan struct{}, 1)}
}

// Post enqueues fn. It never blocks. Returns false once the loop stopped.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do posts fn and waits until it ran (or ctx is done).
// It must not be called from the loop goroutine itself.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc schedules fn to be posted onto the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) func() {
	var (
		mu       sync.Mutex
		canceled bool
	)
	t := time.AfterFunc(d, func() {
		l.Post(func() {
			mu.Lock()
			c := canceled
			mu.Unlock()
			if !c {
				fn()
			}
		})
	})
	return func() {
		mu.Lock()
		canceled = true
		mu.Unlock()
		t.Stop()
	}
}

// Run drains the queue until ctx is canceled. Pending closures are dropped on exit.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
	}()
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			if ctx.Err() != nil {
				return nil
			}
			l.run(fn)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("loop task panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	fn()
}

// Len reports the number of queued closures (best-effort).
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Loop) String() string { return fmt.Sprintf("loop(queued=%d)", l.Len()) }

// Wall is a Scheduler backed by time.AfterFunc (callbacks run on timer goroutines).
type Wall struct{}

func (Wall) AfterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
