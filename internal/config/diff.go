package config

import (
	"reflect"
	"sort"
	"strings"

	logx "loopin/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	// Server (never log session token)
	if strings.TrimSpace(oldCfg.Server.BaseURL) != strings.TrimSpace(newCfg.Server.BaseURL) ||
		strings.TrimSpace(oldCfg.Server.PushURL) != strings.TrimSpace(newCfg.Server.PushURL) ||
		strings.TrimSpace(oldCfg.Server.RequestTimeout) != strings.TrimSpace(newCfg.Server.RequestTimeout) ||
		(strings.TrimSpace(oldCfg.Server.SessionToken) != "") != (strings.TrimSpace(newCfg.Server.SessionToken) != "") {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.base_url", strings.TrimSpace(newCfg.Server.BaseURL)),
			logx.Bool("server.push_url_set", strings.TrimSpace(newCfg.Server.PushURL) != ""),
			logx.Bool("server.session_token_set", strings.TrimSpace(newCfg.Server.SessionToken) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Transport, newCfg.Transport) {
		changed = append(changed, "transport")
		attrs = append(attrs,
			logx.String("transport.order", strings.Join(newCfg.Transport.Transports, ",")),
			logx.Int("transport.fallback_after", newCfg.Transport.FallbackAfter),
			logx.String("transport.backoff_max", strings.TrimSpace(newCfg.Transport.BackoffMax)),
		)
	}

	if oldCfg.Poller != newCfg.Poller {
		changed = append(changed, "poller")
		attrs = append(attrs,
			logx.String("poller.interval", strings.TrimSpace(newCfg.Poller.Interval)),
			logx.String("poller.reconcile_interval", strings.TrimSpace(newCfg.Poller.ReconcileInterval)),
			logx.String("poller.freshness_interval", strings.TrimSpace(newCfg.Poller.FreshnessInterval)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Toasts, newCfg.Toasts) {
		changed = append(changed, "toasts")
		attrs = append(attrs,
			logx.String("toasts.duration", strings.TrimSpace(newCfg.Toasts.Duration)),
			logx.Int("toasts.max_visible", newCfg.Toasts.MaxVisible),
			logx.Bool("toasts.persistent_updates", newCfg.Toasts.PersistentUpdates),
			logx.Bool("toasts.sound_command_set", strings.TrimSpace(newCfg.Toasts.Sound.Command) != ""),
		)
	}

	if oldCfg.Banner != newCfg.Banner {
		changed = append(changed, "banner")
		attrs = append(attrs,
			logx.Int("banner.max_items", newCfg.Banner.MaxItems),
			logx.String("banner.timeout", strings.TrimSpace(newCfg.Banner.Timeout)),
		)
	}

	if oldCfg.Store != newCfg.Store {
		changed = append(changed, "store")
		attrs = append(attrs,
			logx.Int("store.capacity", newCfg.Store.Capacity),
			logx.String("store.freshness_window", strings.TrimSpace(newCfg.Store.FreshnessWindow)),
		)
	}

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Debug server (never log token)
	if oldCfg.Debug.Enabled != newCfg.Debug.Enabled ||
		strings.TrimSpace(oldCfg.Debug.Addr) != strings.TrimSpace(newCfg.Debug.Addr) ||
		strings.TrimSpace(oldCfg.Debug.Prefix) != strings.TrimSpace(newCfg.Debug.Prefix) ||
		oldCfg.Debug.AllowInsecure != newCfg.Debug.AllowInsecure ||
		strings.TrimSpace(oldCfg.Debug.ReadTimeout) != strings.TrimSpace(newCfg.Debug.ReadTimeout) ||
		strings.TrimSpace(oldCfg.Debug.WriteTimeout) != strings.TrimSpace(newCfg.Debug.WriteTimeout) ||
		strings.TrimSpace(oldCfg.Debug.IdleTimeout) != strings.TrimSpace(newCfg.Debug.IdleTimeout) ||
		(strings.TrimSpace(oldCfg.Debug.Token) != "") != (strings.TrimSpace(newCfg.Debug.Token) != "") {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
			logx.Bool("debug.allow_insecure", newCfg.Debug.AllowInsecure),
		)
	}

	// Storage. Nil means defaults.
	var oDriver, nDriver, oPath, nPath string
	if s := oldCfg.Storage; s != nil {
		oDriver, oPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.Path)
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.Path)
	}
	if oDriver != nDriver || oPath != nPath {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPath != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect on restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, c := range changed {
		switch c {
		case "server", "transport", "banner", "store", "storage":
			out = append(out, c)
		}
	}
	return out
}
