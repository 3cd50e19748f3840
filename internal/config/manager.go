package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"loopin/internal/backoff"
	"loopin/internal/loop"
	logx "loopin/pkg/logx"
)

const (
	reloadDebounce   = 250 * time.Millisecond
	validatorTimeout = 5 * time.Second
)

// reloadOps are the fsnotify operations that can change the file's content.
// Editors that save by rename or remove-and-create show up as Rename/Create.
const reloadOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// Validator vets a freshly parsed config before Watch commits it.
type Validator func(ctx context.Context, cfg *Config) error

// ConfigManager owns the current config and republishes it when the file
// changes on disk.
type ConfigManager struct {
	path string

	mu      sync.RWMutex
	cfg     *Config
	current uint64 // fingerprint of cfg

	// subsMu is held while sending so Unsubscribe never closes a channel
	// that publish is writing to.
	subsMu sync.Mutex
	subs   map[chan *Config]struct{}

	log      logx.Logger
	validate Validator
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{
		path: path,
		subs: make(map[chan *Config]struct{}),
		log:  logx.Nop(),
	}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log.With(logx.String("path", m.path))
}

// SetValidator installs the hook Watch runs before committing a change.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validate = fn
}

// Parse reads and decodes the file without committing it.
func (m *ConfigManager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return decodeConfig(m.path, raw)
}

// Load parses the file and commits the result.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Commit(cfg *Config) {
	fp := fingerprint(cfg)
	m.mu.Lock()
	m.cfg, m.current = cfg, fp
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *ConfigManager) isCurrent(fp uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fp != 0 && fp == m.current
}

// Subscribe returns a channel receiving every committed change from Watch.
// A slow subscriber loses its oldest pending config, never the newest.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if _, ok := m.subs[ch]; !ok {
		return
	}
	delete(m.subs, ch)
	close(ch)
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		if offerLatest(ch, cfg) {
			continue
		}
		m.log.Debug("config update dropped for slow subscriber",
			logx.Int("queue_len", len(ch)), logx.Int("queue_cap", cap(ch)))
	}
}

// offerLatest sends cfg without blocking, evicting one stale entry if the
// buffer is full. It reports whether cfg was queued.
func offerLatest(ch chan *Config, cfg *Config) bool {
	for attempt := 0; attempt < 2; attempt++ {
		select {
		case ch <- cfg:
			return true
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
	return false
}

// Watch reloads the config whenever its file changes until ctx is done.
// The containing directory is watched so atomic-rename saves are seen. A
// watcher that fails or stops delivering is recreated with backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	deb := loop.NewDebouncer(reloadDebounce, nil)
	defer deb.Cancel()
	changed := func() { deb.Trigger(func() { m.reload(ctx) }) }

	retry := backoff.Sequence{Policy: backoff.Policy{
		Base:   250 * time.Millisecond,
		Factor: 2,
		Max:    5 * time.Second,
		Jitter: 0.25,
	}}
	for ctx.Err() == nil {
		err := m.watchOnce(ctx, changed, retry.Reset)
		if ctx.Err() != nil {
			break
		}
		d := retry.Next()
		m.log.Warn("config watcher restarting", logx.Err(err), logx.Duration("backoff", d))
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}
	return nil
}

var errWatcherClosed = errors.New("watcher channels closed")

// watchOnce runs a single fsnotify watcher until it breaks or ctx is done.
// started is called once the watcher is registered.
func (m *ConfigManager) watchOnce(ctx context.Context, changed, started func()) error {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	started()
	m.log.Debug("config watcher started", logx.String("dir", dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if ev.Op&reloadOps != 0 && strings.EqualFold(filepath.Base(ev.Name), file) {
				m.log.Trace("config file event", logx.String("op", ev.Op.String()))
				changed()
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return errWatcherClosed
			case err == nil:
			case errors.Is(err, fsnotify.ErrEventOverflow):
				// events were lost; the file may have changed
				m.log.Warn("config watch overflow", logx.Err(err))
				changed()
			case errors.Is(err, fsnotify.ErrClosed):
				return err
			default:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

// reload commits and publishes the file when it parses, differs from the
// current config and passes the validator. Any failure keeps the old config.
func (m *ConfigManager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed; keeping current", logx.Err(err))
		return
	}
	fp := fingerprint(cfg)
	if m.isCurrent(fp) {
		m.log.Debug("config unchanged")
		return
	}
	if m.validate != nil {
		vctx, cancel := context.WithTimeout(ctx, validatorTimeout)
		err := m.validate(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected; keeping current", logx.Err(err))
			return
		}
	}

	m.Commit(cfg)
	m.publish(cfg)
	m.log.Info("config reloaded", logx.String("fingerprint", strconv.FormatUint(fp, 16)))
}
