package loop

import (
	"sync"
	"time"
)

// Debouncer collapses bursts of Trigger calls into one run of the last fn,
// delay after the final call.
type Debouncer struct {
	mu     sync.Mutex
	delay  time.Duration
	sched  Scheduler
	cancel func()
}

// NewDebouncer returns a debouncer using sched (nil means wall-clock timers).
func NewDebouncer(delay time.Duration, sched Scheduler) *Debouncer {
	if sched == nil {
		sched = Wall{}
	}
	return &Debouncer{delay: delay, sched: sched}
}

func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	d.cancel = d.sched.AfterFunc(d.delay, fn)
}

// Cancel drops a pending run, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func (d *Debouncer) SetDelay(delay time.Duration) {
	d.mu.Lock()
	d.delay = delay
	d.mu.Unlock()
}
