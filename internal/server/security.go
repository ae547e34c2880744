package server

import (
	"fmt"
	"net/http"
	"strings"
)

type SecurityConfig struct {
	BaseURL         string
	StorageEndpoint string
}

func securityHeaders(cfg SecurityConfig) func(http.Handler) http.Handler {
	strictTransport := cfg.BaseURL != "" && hasHTTPS(cfg.BaseURL)

	connectSrc := "'self'"
	if live := liveOrigin(cfg.BaseURL); live != "" {
		connectSrc += " " + live
	}
	storageSuffix := ""
	if cfg.StorageEndpoint != "" {
		storageSuffix = " " + cfg.StorageEndpoint
		connectSrc += storageSuffix
	}

	csp := fmt.Sprintf(
		"default-src 'none'; img-src 'self' data:%s; connect-src %s; frame-ancestors 'none';",
		storageSuffix, connectSrc,
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Content-Security-Policy", csp)

			if strictTransport {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}

func hasHTTPS(baseURL string) bool {
	return len(baseURL) >= 8 && baseURL[:8] == "https://"
}

// liveOrigin maps the public base URL to the websocket origin players
// connect to for live reactions.
func liveOrigin(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimSuffix(strings.TrimPrefix(baseURL, "https://"), "/")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimSuffix(strings.TrimPrefix(baseURL, "http://"), "/")
	}
	return ""
}
