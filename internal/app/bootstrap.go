package app

import (
	"net/http"

	"loopin/internal/backoff"
	"loopin/internal/banner"
	"loopin/internal/config"
	debugsrv "loopin/internal/observability/debug"
	"loopin/internal/poller"
	"loopin/internal/session"
	"loopin/internal/sound"
	"loopin/internal/toast"
	"loopin/internal/transport"
	logx "loopin/pkg/logx"
)

// Settings to package config mapping. Each helper is pure so hot reload
// and startup share it.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSession(s config.Settings) session.Config {
	return session.Config{
		Toast:             toast.Config{Duration: s.Toasts.Duration, MaxVisible: s.Toasts.MaxVisible},
		PersistentUpdates: s.Toasts.PersistentUpdates,
		DedupWindow:       s.Toasts.DedupWindow,
		FreshnessWindow:   s.Store.FreshnessWindow,
		InitialLookback:   s.Poller.InitialLookback,
		NavigateDebounce:  s.Banner.NavigateDebounce,
	}
}

func mapSound(s config.Settings) sound.Config {
	return sound.Config{
		Command:      s.Toasts.SoundCommand,
		Asset:        s.Toasts.SoundAsset,
		ToneFallback: s.Toasts.ToneFallback,
	}
}

func mapPoller(s config.Settings) poller.Config {
	return poller.Config{
		Interval:          s.Poller.Interval,
		ReconcileInterval: s.Poller.ReconcileInterval,
		FreshnessInterval: s.Poller.FreshnessInterval,
		Jitter:            s.Poller.Jitter,
		RequestTimeout:    s.RequestTimeout,
	}
}

func mapBanner(s config.Settings) banner.Config {
	return banner.Config{
		MaxItems:         s.Banner.MaxItems,
		Timeout:          s.Banner.Timeout,
		Retries:          s.Banner.Retries,
		RetryBase:        s.Banner.RetryBase,
		ErrorTTL:         s.Banner.ErrorTTL,
		NavigateDebounce: s.Banner.NavigateDebounce,
	}
}

func mapDebug(s config.Settings) debugsrv.Config {
	d := s.Debug
	return debugsrv.Config{
		Enabled:       d.Enabled,
		Addr:          d.Addr,
		Prefix:        d.Prefix,
		Token:         d.Token,
		AllowInsecure: d.AllowInsecure,
		ReadTimeout:   d.ReadTimeout,
		WriteTimeout:  d.WriteTimeout,
		IdleTimeout:   d.IdleTimeout,
	}
}

// mapTransport builds the dialers in the configured preference order.
func mapTransport(s config.Settings, token string, log logx.Logger) transport.Config {
	t := s.Transport
	dialers := make([]transport.Dialer, 0, len(t.Transports))
	for _, name := range t.Transports {
		switch name {
		case "websocket":
			dialers = append(dialers, &transport.WebSocketDialer{
				URL:   s.PushURL,
				Token: token,
				Log:   log,
			})
		case "longpoll":
			dialers = append(dialers, &transport.LongPollDialer{
				BaseURL: s.BaseURL,
				Token:   token,
				Wait:    t.LongPollWait,
				// The server holds each poll up to Wait.
				HTTP: &http.Client{Timeout: t.LongPollWait + s.RequestTimeout},
				Log:  log,
			})
		}
	}
	return transport.Config{
		Dialers:        dialers,
		ConnectTimeout: t.ConnectTimeout,
		Backoff: backoff.Policy{
			Base:   t.BackoffBase,
			Factor: t.BackoffFactor,
			Max:    t.BackoffMax,
			Jitter: t.BackoffJitter,
		},
		FallbackAfter:         t.FallbackAfter,
		ProbeInterval:         t.ProbeInterval,
		LostIndicatorAfter:    t.LostIndicatorAfter,
		LostIndicatorCooldown: t.LostIndicatorCooldown,
		StableAfter:           t.StableAfter,
		EmitRatePerSec:        t.EmitRatePerSec,
	}
}
