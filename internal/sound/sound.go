// Package sound plays the toast audio cue. Playback never blocks the caller
// and every failure is swallowed.
package sound

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	logx "loopin/pkg/logx"
)

const playTimeout = 5 * time.Second

// Player plays a cue asynchronously.
type Player interface {
	Play()
}

// Nop never makes a sound.
type Nop struct{}

func (Nop) Play() {}

// Config configures a CommandPlayer.
type Config struct {
	// Command is run with Asset as last argument (e.g. "paplay").
	Command string
	Asset   string
	// ToneFallback writes a terminal bell when the command is missing or fails.
	ToneFallback bool
}

// CommandPlayer runs an external player for the primary asset and falls
// back to a synthesized tone (terminal bell). Overlapping plays are dropped.
type CommandPlayer struct {
	log  logx.Logger
	tone io.Writer

	mu  sync.RWMutex
	cfg Config

	busy atomic.Bool
	wg   sync.WaitGroup

	// run is swapped in tests.
	run func(ctx context.Context, name string, args ...string) error
}

func NewCommandPlayer(cfg Config, tone io.Writer, log logx.Logger) *CommandPlayer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CommandPlayer{cfg: cfg, tone: tone, log: log, run: runCommand}
}

// Reconfigure swaps the config (hot reload).
func (p *CommandPlayer) Reconfigure(cfg Config) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
}

func (p *CommandPlayer) Play() {
	if !p.busy.CompareAndSwap(false, true) {
		return
	}
	p.mu.RLock()
	cfg := p.cfg
	p.mu.RUnlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.busy.Store(false)
		defer func() {
			if r := recover(); r != nil {
				p.log.Debug("sound playback panicked", logx.Any("panic", r))
			}
		}()
		p.play(cfg)
	}()
}

// Wait blocks until in-flight playback finished. Used on shutdown and in tests.
func (p *CommandPlayer) Wait() { p.wg.Wait() }

func (p *CommandPlayer) play(cfg Config) {
	cmd := strings.Fields(cfg.Command)
	if len(cmd) > 0 {
		args := append(cmd[1:], cfg.Asset)
		if cfg.Asset == "" {
			args = cmd[1:]
		}
		ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
		err := p.run(ctx, cmd[0], args...)
		cancel()
		if err == nil {
			return
		}
		p.log.Debug("sound command failed", logx.String("command", cmd[0]), logx.Err(err))
	}
	if cfg.ToneFallback && p.tone != nil {
		if _, err := io.WriteString(p.tone, "\a"); err != nil {
			p.log.Debug("tone fallback failed", logx.Err(err))
		}
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}
