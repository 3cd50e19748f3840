// Package backoff holds the reconnect/retry delay policy shared by the push
// connection manager, the feed client retries and the config watcher.
package backoff

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Policy is an exponential backoff with a cap and randomized jitter.
//
//	delay(n) = min(Max, Base * Factor^(n-1)) * (1 ± Jitter)
//
// The jittered value is clamped to Max again, so Delay never exceeds Max.
// With Jitter == 0 the sequence is monotonically non-decreasing until the cap.
type Policy struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
	// Jitter is a fraction in [0,1]. 0.2 means ±20%.
	Jitter float64

	// Rand is the jitter source in [0,1). Nil uses a process-local RNG.
	Rand func() float64
}

const (
	defaultBase   = time.Second
	defaultFactor = 2.0
	defaultMax    = 30 * time.Second
)

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func defaultRand() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Float64()
}

// Normalize fills zero fields with defaults and clamps invalid ones.
func (p Policy) Normalize() Policy {
	if p.Base <= 0 {
		p.Base = defaultBase
	}
	if p.Factor < 1 {
		p.Factor = defaultFactor
	}
	if p.Max <= 0 {
		p.Max = defaultMax
	}
	if p.Max < p.Base {
		p.Max = p.Base
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

// Raw returns the un-jittered delay for the given 1-based attempt.
func (p Policy) Raw(attempt int) time.Duration {
	p = p.Normalize()
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Base) * math.Pow(p.Factor, float64(attempt-1))
	if math.IsInf(d, 0) || math.IsNaN(d) || d >= float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}

// Delay returns the jittered delay for the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.Normalize()
	d := p.Raw(attempt)
	if p.Jitter > 0 {
		r := p.Rand
		if r == nil {
			r = defaultRand
		}
		// scale in [1-J, 1+J)
		scale := 1 - p.Jitter + r()*2*p.Jitter
		d = time.Duration(float64(d) * scale)
	}
	if d < 0 {
		return 0
	}
	if d > p.Max {
		d = p.Max
	}
	return d
}

// Sequence is a stateful helper around Policy for loops that count their own
// consecutive failures.
type Sequence struct {
	Policy  Policy
	attempt int
}

// Next advances the attempt counter and returns the delay to wait.
func (s *Sequence) Next() time.Duration {
	s.attempt++
	return s.Policy.Delay(s.attempt)
}

// Attempt returns the number of delays handed out since the last Reset.
func (s *Sequence) Attempt() int { return s.attempt }

func (s *Sequence) Reset() { s.attempt = 0 }
