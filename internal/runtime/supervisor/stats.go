package supervisor

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// GoroutineStats aggregates every run of goroutines sharing a name.
type GoroutineStats struct {
	Name        string    `json:"name"`
	Active      int64     `json:"active"`
	Started     uint64    `json:"started"`
	Panics      uint64    `json:"panics"`
	Restarts    uint64    `json:"restarts"`
	LastStartAt time.Time `json:"last_start_at"`
	LastErr     string    `json:"last_err,omitempty"`
	LastPanic   string    `json:"last_panic,omitempty"`
}

// Snapshot is the supervisor state served by /healthz.
type Snapshot struct {
	Active     int64            `json:"active"`
	Started    uint64           `json:"started"`
	FirstError string           `json:"first_error,omitempty"`
	Goroutines []GoroutineStats `json:"goroutines"`
}

type registry struct {
	active atomic.Int64
	total  atomic.Uint64

	mu     sync.Mutex
	byName map[string]*GoroutineStats
}

func newRegistry() *registry {
	return &registry{byName: make(map[string]*GoroutineStats)}
}

func (r *registry) entry(name string) *GoroutineStats {
	st, ok := r.byName[name]
	if !ok {
		st = &GoroutineStats{Name: name}
		r.byName[name] = st
	}
	return st
}

func (r *registry) started(name string, restart bool) {
	r.total.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.entry(name)
	st.Started++
	st.Active++
	st.LastStartAt = time.Now()
	if restart {
		st.Restarts++
	}
}

func (r *registry) stopped(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.entry(name)
	if st.Active > 0 {
		st.Active--
	}
	if err != nil {
		st.LastErr = err.Error()
	}
}

func (r *registry) panicked(name string, p any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.entry(name)
	st.Panics++
	st.LastPanic = fmt.Sprint(p)
}

func (r *registry) snapshot() Snapshot {
	snap := Snapshot{Active: r.active.Load(), Started: r.total.Load()}
	r.mu.Lock()
	snap.Goroutines = make([]GoroutineStats, 0, len(r.byName))
	for _, st := range r.byName {
		snap.Goroutines = append(snap.Goroutines, *st)
	}
	r.mu.Unlock()
	sort.Slice(snap.Goroutines, func(i, j int) bool {
		return snap.Goroutines[i].Name < snap.Goroutines[j].Name
	})
	return snap
}
