// Package prefs persists the handful of client preferences under
// well-known storage keys.
package prefs

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"loopin/internal/storage"
	logx "loopin/pkg/logx"
)

const (
	KeySoundEnabled = "pref.sound_enabled"
	KeyLastShownID  = "pref.last_shown_id"
	KeySessionToken = "pref.session_token"
)

// Prefs is a small typed view over a storage.Store. Read failures fall back
// to defaults; write failures are logged.
type Prefs struct {
	backend storage.Store
	log     logx.Logger
}

func New(backend storage.Store, log logx.Logger) *Prefs {
	if log.IsZero() {
		log = logx.Nop()
	}
	if backend == nil {
		backend = storage.NewMemory()
	}
	return &Prefs{backend: backend, log: log}
}

// SoundEnabled defaults to true.
func (p *Prefs) SoundEnabled(ctx context.Context) bool {
	var v bool
	if !p.get(ctx, KeySoundEnabled, &v) {
		return true
	}
	return v
}

func (p *Prefs) SetSoundEnabled(ctx context.Context, on bool) error {
	return p.put(ctx, KeySoundEnabled, on)
}

func (p *Prefs) LastShownID(ctx context.Context) string {
	var v string
	p.get(ctx, KeyLastShownID, &v)
	return v
}

func (p *Prefs) SetLastShownID(ctx context.Context, id string) error {
	return p.put(ctx, KeyLastShownID, id)
}

// SessionToken returns the persisted token, minting and saving a new UUID
// when none exists.
func (p *Prefs) SessionToken(ctx context.Context) string {
	var v string
	if p.get(ctx, KeySessionToken, &v) && strings.TrimSpace(v) != "" {
		return v
	}
	v = uuid.NewString()
	_ = p.put(ctx, KeySessionToken, v)
	return v
}

func (p *Prefs) get(ctx context.Context, key string, out any) bool {
	b, ok, err := p.backend.Get(ctx, key)
	if err != nil {
		p.log.Warn("pref read failed", logx.String("key", key), logx.Err(err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(b, out); err != nil {
		p.log.Warn("pref corrupt; using default", logx.String("key", key), logx.Err(err))
		return false
	}
	return true
}

func (p *Prefs) put(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := p.backend.Put(ctx, key, b); err != nil {
		p.log.Warn("pref write failed", logx.String("key", key), logx.Err(err))
		return err
	}
	return nil
}
