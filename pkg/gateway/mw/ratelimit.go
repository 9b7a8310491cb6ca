package mw

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/speechgate/speechgate/pkg/gateway/metrics"
	"github.com/speechgate/speechgate/pkg/gateway/ratelimit"
)

// rateLimitExempt lists routes that must stay reachable even for noisy
// clients: health probes and the metrics scrape endpoint.
var rateLimitExempt = map[string]struct{}{
	"/healthz": {},
	"/health":  {},
	"/metrics": {},
}

// RateLimit enforces a per-client sliding window on all API routes. The
// client key is the X-API-Key header when present, otherwise the remote
// host. Denied requests get a 429 with a JSON error body.
func RateLimit(limiter *ratelimit.Limiter, m *metrics.Metrics, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := rateLimitExempt[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		key := clientKey(r)
		allowed := limiter.Allow(key)
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(key)))
		if !allowed {
			m.RecordRateLimitHit(r.URL.Path)
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return "key:" + key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return "addr:" + r.RemoteAddr
	}
	return "addr:" + host
}
