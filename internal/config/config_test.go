package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestParseYAMLAndResolveDefaults(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "loopin.yaml", `
server:
  base_url: https://loopin.example.com/
logging:
  level: debug
  console: true
`)
	m := NewConfigManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	s, err := Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.BaseURL != "https://loopin.example.com" {
		t.Fatalf("base url = %q", s.BaseURL)
	}
	if s.PushURL != "wss://loopin.example.com/ws" {
		t.Fatalf("push url = %q", s.PushURL)
	}
	if got := strings.Join(s.Transport.Transports, ","); got != "websocket,longpoll" {
		t.Fatalf("transports = %q", got)
	}
	if s.Transport.FallbackAfter != 5 || s.Transport.LostIndicatorAfter != 2 {
		t.Fatalf("thresholds = %+v", s.Transport)
	}
	if s.Store.Capacity != 50 || s.Store.FreshnessWindow != 24*time.Hour {
		t.Fatalf("store = %+v", s.Store)
	}
	if s.Toasts.Duration != 5*time.Second || !s.Toasts.ToneFallback {
		t.Fatalf("toasts = %+v", s.Toasts)
	}
	if s.Banner.MaxItems != 3 || s.Banner.Retries != 2 {
		t.Fatalf("banner = %+v", s.Banner)
	}
	if s.Storage.Driver != "file" {
		t.Fatalf("storage driver = %q", s.Storage.Driver)
	}
}

func TestParseRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cases := map[string]string{
		"unknown.json":  `{"server":{"base_url":"http://x"},"nope":1}`,
		"trailing.json": `{"server":{"base_url":"http://x"}}{}`,
	}
	for name, body := range cases {
		m := NewConfigManager(writeFile(t, dir, name, body))
		if _, err := m.Parse(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"ok", Config{Server: ServerConfig{BaseURL: "http://localhost:5000"}}, ""},
		{"missing base", Config{}, "base_url"},
		{"bad transport", Config{Server: ServerConfig{BaseURL: "http://x"}, Transport: TransportConfig{Transports: []string{"carrier-pigeon"}}}, "transports"},
		{"bad duration", Config{Server: ServerConfig{BaseURL: "http://x"}, Poller: PollerConfig{Interval: "soon"}}, "poller.interval"},
		{"jitter range", Config{Server: ServerConfig{BaseURL: "http://x"}, Transport: TransportConfig{BackoffJitter: 2}}, "backoff_jitter"},
		{"bad driver", Config{Server: ServerConfig{BaseURL: "http://x"}, Storage: &StorageConfig{Driver: "mongo"}}, "driver"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(&tc.cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestDerivePushURL(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"http://localhost:5000":      "ws://localhost:5000/ws",
		"https://a.example.com/loop/": "wss://a.example.com/loop/ws",
	}
	for in, want := range cases {
		got, err := DerivePushURL(in)
		if err != nil || got != want {
			t.Fatalf("DerivePushURL(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := DerivePushURL("ftp://x"); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestSummarizeNeverLogsTokens(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Server: ServerConfig{BaseURL: "http://x"}}
	newCfg := &Config{
		Server: ServerConfig{BaseURL: "http://x", SessionToken: "secret-session"},
		Debug:  DebugConfig{Enabled: true, Token: "secret-debug"},
		Toasts: ToastConfig{MaxVisible: 3},
	}
	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	want := "debug,server,toasts"
	if got := strings.Join(changed, ","); got != want {
		t.Fatalf("changed = %q, want %q", got, want)
	}
	if r := RestartRequired(changed); len(r) != 1 || r[0] != "server" {
		t.Fatalf("restart required = %v", r)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "loopin.json", `{"server":{"base_url":"http://x"},"logging":{"level":"info"}}`)
	m := NewConfigManager(p)
	m.SetValidator(ValidateHook)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// invalid change is rejected
	writeFile(t, dir, "loopin.json", `{"server":{"base_url":""},"logging":{"level":"info"}}`)
	select {
	case <-sub:
		t.Fatalf("invalid config was published")
	case <-time.After(600 * time.Millisecond):
	}

	writeFile(t, dir, "loopin.json", `{"server":{"base_url":"http://x"},"logging":{"level":"debug"}}`)
	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no config published")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{" 750ms ", 750 * time.Millisecond, false},
		{"30", 30 * time.Second, false},
		{"1m30s", 90 * time.Second, false},
		{"-1s", 0, true},
		{"-5", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("x", tc.raw)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("ParseDurationField(%q) = %v, %v; want %v (err %v)", tc.raw, got, err, tc.want, tc.wantErr)
		}
	}
	if d, _ := ParseDurationOrDefault("x", "", 3*time.Second); d != 3*time.Second {
		t.Fatalf("default not applied: %v", d)
	}
}

func TestPublishKeepsNewestForSlowSubscriber(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused.json")
	sub := m.Subscribe(1)
	first := &Config{Logging: LoggingConfig{Level: "info"}}
	second := &Config{Logging: LoggingConfig{Level: "debug"}}
	m.publish(first)
	m.publish(second)
	if got := <-sub; got != second {
		t.Fatalf("got level %q, want newest", got.Logging.Level)
	}
	m.Unsubscribe(sub)
	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatalf("channel should be closed")
	}
}
