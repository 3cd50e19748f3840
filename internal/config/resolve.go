package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Settings is Config with defaults applied and durations parsed.
type Settings struct {
	BaseURL        string
	PushURL        string
	SessionToken   string
	RequestTimeout time.Duration

	Transport TransportSettings
	Poller    PollerSettings
	Toasts    ToastSettings
	Banner    BannerSettings
	Store     StoreSettings
	Storage   StorageSettings
	Debug     DebugSettings
}

type TransportSettings struct {
	Transports            []string
	ConnectTimeout        time.Duration
	BackoffBase           time.Duration
	BackoffFactor         float64
	BackoffMax            time.Duration
	BackoffJitter         float64
	FallbackAfter         int
	LostIndicatorAfter    int
	LostIndicatorCooldown time.Duration
	ProbeInterval         time.Duration
	StableAfter           time.Duration
	EmitRatePerSec        int
	LongPollWait          time.Duration
}

type PollerSettings struct {
	Interval          time.Duration
	ReconcileInterval time.Duration
	FreshnessInterval time.Duration
	Jitter            time.Duration
	InitialLookback   time.Duration
}

type ToastSettings struct {
	Duration          time.Duration
	MaxVisible        int
	DedupWindow       time.Duration
	PersistentUpdates bool
	SoundCommand      string
	SoundAsset        string
	ToneFallback      bool
}

type BannerSettings struct {
	MaxItems         int
	Timeout          time.Duration
	Retries          int
	RetryBase        time.Duration
	ErrorTTL         time.Duration
	NavigateDebounce time.Duration
	OpenCommand      string
}

type StoreSettings struct {
	Capacity        int
	FreshnessWindow time.Duration
}

type DebugSettings struct {
	Enabled       bool
	Addr          string
	Prefix        string
	Token         string
	AllowInsecure bool
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

type StorageSettings struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

// Resolve applies defaults and parses every duration string.
func Resolve(cfg *Config) (Settings, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	var (
		s   Settings
		err error
	)
	dur := func(path, raw string, def time.Duration) time.Duration {
		if err != nil {
			return 0
		}
		var d time.Duration
		d, err = ParseDurationOrDefault(path, raw, def)
		return d
	}

	s.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Server.BaseURL), "/")
	s.SessionToken = strings.TrimSpace(cfg.Server.SessionToken)
	s.RequestTimeout = dur("server.request_timeout", cfg.Server.RequestTimeout, 8*time.Second)
	s.PushURL = strings.TrimSpace(cfg.Server.PushURL)
	if s.PushURL == "" && s.BaseURL != "" {
		p, perr := DerivePushURL(s.BaseURL)
		if perr != nil {
			return Settings{}, perr
		}
		s.PushURL = p
	}

	t := cfg.Transport
	s.Transport = TransportSettings{
		Transports:            normalizeTransports(t.Transports),
		ConnectTimeout:        dur("transport.connect_timeout", t.ConnectTimeout, 8*time.Second),
		BackoffBase:           dur("transport.backoff_base", t.BackoffBase, time.Second),
		BackoffFactor:         floatOr(t.BackoffFactor, 2),
		BackoffMax:            dur("transport.backoff_max", t.BackoffMax, 30*time.Second),
		BackoffJitter:         t.BackoffJitter,
		FallbackAfter:         intOr(t.FallbackAfter, 5),
		LostIndicatorAfter:    intOr(t.LostIndicatorAfter, 2),
		LostIndicatorCooldown: dur("transport.lost_indicator_cooldown", t.LostIndicatorCooldown, 30*time.Second),
		ProbeInterval:         dur("transport.probe_interval", t.ProbeInterval, 60*time.Second),
		StableAfter:           dur("transport.stable_after", t.StableAfter, 30*time.Second),
		EmitRatePerSec:        intOr(t.EmitRatePerSec, 5),
		LongPollWait:          dur("transport.longpoll_wait", t.LongPollWait, 25*time.Second),
	}
	if t.BackoffJitter == 0 {
		s.Transport.BackoffJitter = 0.2
	}

	p := cfg.Poller
	s.Poller = PollerSettings{
		Interval:          dur("poller.interval", p.Interval, 30*time.Second),
		ReconcileInterval: dur("poller.reconcile_interval", p.ReconcileInterval, 5*time.Minute),
		FreshnessInterval: dur("poller.freshness_interval", p.FreshnessInterval, 2*time.Minute),
		Jitter:            dur("poller.jitter", p.Jitter, 20*time.Second),
		InitialLookback:   dur("poller.initial_lookback", p.InitialLookback, 0),
	}

	ts := cfg.Toasts
	s.Toasts = ToastSettings{
		Duration:          dur("toasts.duration", ts.Duration, 5*time.Second),
		MaxVisible:        intOr(ts.MaxVisible, 5),
		DedupWindow:       dur("toasts.dedup_window", ts.DedupWindow, 30*time.Second),
		PersistentUpdates: ts.PersistentUpdates,
		SoundCommand:      strings.TrimSpace(ts.Sound.Command),
		SoundAsset:        strings.TrimSpace(ts.Sound.Asset),
		ToneFallback:      ts.Sound.ToneFallback == nil || *ts.Sound.ToneFallback,
	}

	b := cfg.Banner
	s.Banner = BannerSettings{
		MaxItems:         intOr(b.MaxItems, 3),
		Timeout:          dur("banner.timeout", b.Timeout, 8*time.Second),
		Retries:          intOr(b.Retries, 2),
		RetryBase:        dur("banner.retry_base", b.RetryBase, 300*time.Millisecond),
		ErrorTTL:         dur("banner.error_ttl", b.ErrorTTL, 4*time.Second),
		NavigateDebounce: dur("banner.navigate_debounce", b.NavigateDebounce, 300*time.Millisecond),
		OpenCommand:      strings.TrimSpace(b.OpenCommand),
	}

	s.Store = StoreSettings{
		Capacity:        intOr(cfg.Store.Capacity, 50),
		FreshnessWindow: dur("store.freshness_window", cfg.Store.FreshnessWindow, 24*time.Hour),
	}

	s.Storage = StorageSettings{Driver: "file", Path: "./loopin_store"}
	if st := cfg.Storage; st != nil {
		if d := strings.ToLower(strings.TrimSpace(st.Driver)); d != "" {
			s.Storage.Driver = d
		}
		if p := strings.TrimSpace(st.Path); p != "" {
			s.Storage.Path = p
		}
		s.Storage.BusyTimeout = dur("storage.busy_timeout", st.BusyTimeout, 5*time.Second)
	}

	d := cfg.Debug
	s.Debug = DebugSettings{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Prefix:        strings.TrimSpace(d.Prefix),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		ReadTimeout:   dur("debug.read_timeout", d.ReadTimeout, 10*time.Second),
		WriteTimeout:  dur("debug.write_timeout", d.WriteTimeout, 60*time.Second),
		IdleTimeout:   dur("debug.idle_timeout", d.IdleTimeout, 60*time.Second),
	}
	if s.Debug.Addr == "" {
		s.Debug.Addr = "127.0.0.1:6061"
	}

	if err != nil {
		return Settings{}, err
	}
	return s, nil
}

// DerivePushURL maps http(s)://host/base to ws(s)://host/base/ws.
func DerivePushURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("server.base_url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("server.base_url: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

func normalizeTransports(in []string) []string {
	if len(in) == 0 {
		return []string{"websocket", "longpoll"}
	}
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func floatOr(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}
