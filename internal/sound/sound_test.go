package sound

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	logx "loopin/pkg/logx"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestCommandSuccessSkipsTone(t *testing.T) {
	t.Parallel()
	var bell syncBuffer
	p := NewCommandPlayer(Config{Command: "paplay --volume 1", Asset: "chime.oga", ToneFallback: true}, &bell, logx.Nop())
	var gotName string
	var gotArgs []string
	p.run = func(_ context.Context, name string, args ...string) error {
		gotName, gotArgs = name, args
		return nil
	}
	p.Play()
	p.Wait()
	if gotName != "paplay" || len(gotArgs) != 3 || gotArgs[2] != "chime.oga" {
		t.Fatalf("ran %s %v", gotName, gotArgs)
	}
	if bell.String() != "" {
		t.Fatalf("tone played after successful command")
	}
}

func TestFailureFallsBackToTone(t *testing.T) {
	t.Parallel()
	var bell syncBuffer
	p := NewCommandPlayer(Config{Command: "missing-player", Asset: "x.wav", ToneFallback: true}, &bell, logx.Nop())
	p.run = func(context.Context, string, ...string) error { return errors.New("exec: not found") }
	p.Play()
	p.Wait()
	if bell.String() != "\a" {
		t.Fatalf("bell = %q", bell.String())
	}
}

func TestFailureWithoutFallbackIsSilent(t *testing.T) {
	t.Parallel()
	var bell syncBuffer
	p := NewCommandPlayer(Config{Command: "x"}, &bell, logx.Nop())
	p.run = func(context.Context, string, ...string) error { panic("driver crashed") }
	p.Play()
	p.Wait()
	if bell.String() != "" {
		t.Fatalf("unexpected output %q", bell.String())
	}
}

func TestOverlappingPlaysDropped(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	calls := 0
	var mu sync.Mutex
	p := NewCommandPlayer(Config{Command: "play"}, nil, logx.Nop())
	p.run = func(context.Context, string, ...string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return nil
	}
	p.Play()
	p.Play()
	p.Play()
	close(release)
	p.Wait()
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}
