package schedule

import (
	"testing"
	"time"
)

func TestFirstRunIsSpread(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := Every(30*time.Second, 0, now, "poll")
	first := s.First()
	if first.Before(now.Add(30*time.Second)) || !first.Before(now.Add(60*time.Second)) {
		t.Fatalf("first run %v outside [30s,60s) window", first.Sub(now))
	}
	if got := s.Next(now); !got.Equal(first) {
		t.Fatalf("Next before first = %v, want %v", got, first)
	}
}

func TestNextStaysWithinJitter(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := Every(5*time.Minute, 20*time.Second, now, "reconcile")
	after := s.First().Add(time.Second)
	for i := 0; i < 100; i++ {
		next := s.Next(after)
		d := next.Sub(after)
		if d < 5*time.Minute-time.Second || d >= 5*time.Minute+20*time.Second {
			t.Fatalf("next delta %v outside window", d)
		}
	}
}

func TestLongIntervalSpreadCapped(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := Every(time.Hour, 0, now, "x")
	if d := s.First().Sub(now); d < time.Hour || d >= time.Hour+maxStartupSpread {
		t.Fatalf("first delta %v", d)
	}
}
