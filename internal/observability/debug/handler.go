package debug

import (
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "loopin/pkg/logx"
)

const defaultPrefix = "/debug/pprof/"

// Handler routes /healthz, /metrics and the pprof tree under cfg.Prefix,
// all behind the token check when cfg.Token is set.
func (s *Service) Handler(cfg Config) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.health)
	if s.src.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.src.Gatherer, promhttp.HandlerOpts{}))
	}

	prefix := normalizePrefix(cfg.Prefix)
	root := strings.TrimSuffix(prefix, "/")
	mux.Handle(prefix, pprofIndex(prefix))
	for name, h := range map[string]http.HandlerFunc{
		"cmdline": hpprof.Cmdline,
		"profile": hpprof.Profile,
		"symbol":  hpprof.Symbol,
		"trace":   hpprof.Trace,
	} {
		mux.Handle(prefix+name, h)
	}
	mux.Handle(root, http.RedirectHandler(prefix, http.StatusPermanentRedirect))

	return requireToken(strings.TrimSpace(cfg.Token), mux)
}

func (s *Service) health(w http.ResponseWriter, _ *http.Request) {
	var doc any = map[string]string{"status": "ok"}
	if s.src.Health != nil {
		doc = s.src.Health()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		s.log.Debug("healthz encode failed", logx.Err(err))
	}
}

// requireToken accepts the token as "Authorization: Bearer" or ?token=.
// An empty token disables the check.
func requireToken(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	want := []byte(token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(v)
			}
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func normalizePrefix(prefix string) string {
	p := strings.Trim(strings.TrimSpace(prefix), "/")
	if p == "" {
		return defaultPrefix
	}
	return "/" + p + "/"
}

// pprofIndex serves pprof.Index, which only resolves profile names under
// /debug/pprof/, from an arbitrary prefix.
func pprofIndex(prefix string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = defaultPrefix + strings.TrimPrefix(r.URL.Path, prefix)
		hpprof.Index(w, r2)
	})
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
