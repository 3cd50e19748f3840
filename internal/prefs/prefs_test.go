package prefs

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"loopin/internal/storage"
	logx "loopin/pkg/logx"
)

func TestSoundDefaultsOnAndPersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := storage.NewMemory()
	p := New(backend, logx.Nop())
	if !p.SoundEnabled(ctx) {
		t.Fatalf("sound should default to enabled")
	}
	if err := p.SetSoundEnabled(ctx, false); err != nil {
		t.Fatalf("SetSoundEnabled: %v", err)
	}
	if New(backend, logx.Nop()).SoundEnabled(ctx) {
		t.Fatalf("preference not persisted")
	}
}

func TestCorruptPrefFallsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := storage.NewMemory()
	_ = backend.Put(ctx, KeySoundEnabled, []byte("maybe"))
	if !New(backend, logx.Nop()).SoundEnabled(ctx) {
		t.Fatalf("corrupt pref should fall back to default")
	}
}

func TestSessionTokenIsStable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := New(storage.NewMemory(), logx.Nop())
	a := p.SessionToken(ctx)
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("token %q is not a uuid: %v", a, err)
	}
	if b := p.SessionToken(ctx); b != a {
		t.Fatalf("token changed: %s -> %s", a, b)
	}
}

func TestLastShownID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := New(nil, logx.Nop())
	if p.LastShownID(ctx) != "" {
		t.Fatalf("expected empty")
	}
	_ = p.SetLastShownID(ctx, "u42")
	if p.LastShownID(ctx) != "u42" {
		t.Fatalf("last shown = %q", p.LastShownID(ctx))
	}
}
