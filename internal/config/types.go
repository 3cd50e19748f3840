package config

// Config is the agent configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s", "1m") or bare seconds ("30").
// Omitted or zero fields fall back to the defaults documented per section.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Transport TransportConfig `json:"transport,omitempty"`
	Poller    PollerConfig    `json:"poller,omitempty"`
	Toasts    ToastConfig     `json:"toasts,omitempty"`
	Banner    BannerConfig    `json:"banner,omitempty"`
	Store     StoreConfig     `json:"store,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
	Debug     DebugConfig     `json:"debug,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
}

// ServerConfig points the agent at the team-update backend.
//
// Example:
//
//	"server": { "base_url": "https://loopin.example.com" }
type ServerConfig struct {
	BaseURL string `json:"base_url" validate:"required,url"`
	// PushURL defaults to base_url with a ws(s) scheme and "/ws" path.
	PushURL string `json:"push_url,omitempty" validate:"omitempty,url"`
	// SessionToken overrides the persisted session token (do not log).
	SessionToken   string `json:"session_token,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
}

// TransportConfig controls the push connection and its reconnect policy.
//
// Defaults:
//   - transports: ["websocket", "longpoll"] (richest first)
//   - connect_timeout: "8s"
//   - backoff_base: "1s", backoff_factor: 2, backoff_max: "30s", backoff_jitter: 0.2
//   - fallback_after: 5 consecutive failures
//   - lost_indicator_after: 2, lost_indicator_cooldown: "30s"
//   - probe_interval: "60s", stable_after: "30s"
//   - emit_rate_per_sec: 5, longpoll_wait: "25s"
type TransportConfig struct {
	Transports     []string `json:"transports,omitempty" validate:"omitempty,unique,dive,oneof=websocket longpoll"`
	ConnectTimeout string   `json:"connect_timeout,omitempty"`

	BackoffBase   string  `json:"backoff_base,omitempty"`
	BackoffFactor float64 `json:"backoff_factor,omitempty" validate:"omitempty,gte=1"`
	BackoffMax    string  `json:"backoff_max,omitempty"`
	BackoffJitter float64 `json:"backoff_jitter,omitempty" validate:"gte=0,lte=1"`

	FallbackAfter         int    `json:"fallback_after,omitempty" validate:"gte=0"`
	LostIndicatorAfter    int    `json:"lost_indicator_after,omitempty" validate:"gte=0"`
	LostIndicatorCooldown string `json:"lost_indicator_cooldown,omitempty"`
	ProbeInterval         string `json:"probe_interval,omitempty"`
	StableAfter           string `json:"stable_after,omitempty"`

	EmitRatePerSec int    `json:"emit_rate_per_sec,omitempty" validate:"gte=0"`
	LongPollWait   string `json:"longpoll_wait,omitempty"`
}

// PollerConfig controls the fallback/reconciliation poller and the badge
// freshness check.
type PollerConfig struct {
	Interval          string `json:"interval,omitempty"`           // default "30s"
	ReconcileInterval string `json:"reconcile_interval,omitempty"` // default "5m"
	FreshnessInterval string `json:"freshness_interval,omitempty"` // default "2m"
	Jitter            string `json:"jitter,omitempty"`             // default "20s"
	// InitialLookback bounds the first poll when the local store is empty.
	// "0s" asks the server for its default window.
	InitialLookback string `json:"initial_lookback,omitempty"`
}

type ToastConfig struct {
	Duration          string      `json:"duration,omitempty"`    // default "5s"
	MaxVisible        int         `json:"max_visible,omitempty" validate:"gte=0"` // default 5
	DedupWindow       string      `json:"dedup_window,omitempty"`
	PersistentUpdates bool        `json:"persistent_updates,omitempty"`
	Sound             SoundConfig `json:"sound,omitempty"`
}

// SoundConfig configures the audio cue. Command receives Asset as its last
// argument (e.g. "paplay" + "/usr/share/sounds/chime.oga").
type SoundConfig struct {
	Command      string `json:"command,omitempty"`
	Asset        string `json:"asset,omitempty"`
	ToneFallback *bool  `json:"tone_fallback,omitempty"`
}

type BannerConfig struct {
	MaxItems         int    `json:"max_items,omitempty" validate:"gte=0"` // default 3
	Timeout          string `json:"timeout,omitempty"`   // default "8s"
	Retries          int    `json:"retries,omitempty" validate:"gte=0,lte=10"`   // default 2
	RetryBase        string `json:"retry_base,omitempty"`
	ErrorTTL         string `json:"error_ttl,omitempty"`
	NavigateDebounce string `json:"navigate_debounce,omitempty"`
	// OpenCommand opens a URL (e.g. "xdg-open"). Empty prints the URL.
	OpenCommand string `json:"open_command,omitempty"`
}

type StoreConfig struct {
	Capacity        int    `json:"capacity,omitempty" validate:"gte=0"`         // default 50
	FreshnessWindow string `json:"freshness_window,omitempty"` // default "24h"
}

// StorageConfig controls the durable local cache.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./loopin_store" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=file sqlite badger memory"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DebugConfig controls the optional pprof + metrics HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6061").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
