// Package schedule holds the jittered interval schedules used by the
// poller's periodic jobs, plus a cron.Logger adapter for logx.
package schedule

import (
	"hash/fnv"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// Jittered fires every Every plus a random delay in [0, Jitter).
// The first activation is spread by up to min(Every, 30s) so that several
// jobs started together do not hit the server at the same instant.
type Jittered struct {
	base   cron.Schedule
	jitter time.Duration
	first  time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

var spreadSeq uint64

// Every builds a Jittered schedule. tag seeds the RNG so that different
// jobs draw different offsets.
func Every(every, jitter time.Duration, now time.Time, tag string) *Jittered {
	if every <= 0 {
		every = time.Second
	}
	if jitter < 0 {
		jitter = 0
	}
	seed := time.Now().UnixNano() ^ int64(atomic.AddUint64(&spreadSeq, 1)) ^ int64(fnv64a(tag))
	s := &Jittered{
		base:   cron.Every(every),
		jitter: jitter,
		rng:    rand.New(rand.NewSource(seed)),
	}
	spreadMax := every
	if spreadMax > maxStartupSpread {
		spreadMax = maxStartupSpread
	}
	s.first = now.Add(every + s.draw(spreadMax))
	return s
}

// First reports the first activation time.
func (s *Jittered) First() time.Time { return s.first }

func (s *Jittered) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t).Add(s.draw(s.jitter))
}

func (s *Jittered) draw(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.rng.Int63n(int64(max)))
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
