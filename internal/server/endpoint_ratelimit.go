// endpoint_ratelimit.go - Per-endpoint rate limiting.
//
// Analyses are expensive (one engine run each), downloads are cheap, and
// everything else is the general API bucket. Probes are never limited.
package server

import (
	"net/http"
	"strings"
	"time"
)

// EndpointRateLimiter manages rate limits for different endpoint types.
type EndpointRateLimiter struct {
	analyzeLimiter  *rateLimiter
	downloadLimiter *rateLimiter
	apiLimiter      *rateLimiter
}

// NewEndpointRateLimiter builds per-minute limiters from cfg. A zero rate
// disables that category.
func NewEndpointRateLimiter(cfg RateLimitConfig) *EndpointRateLimiter {
	return &EndpointRateLimiter{
		analyzeLimiter:  newRateLimiter(cfg.AnalyzePerMinute, time.Minute),
		downloadLimiter: newRateLimiter(cfg.DownloadPerMinute, time.Minute),
		apiLimiter:      newRateLimiter(cfg.APIPerMinute, time.Minute),
	}
}

// limiterFor picks the bucket for a path. ok is false for exempt paths.
func (erl *EndpointRateLimiter) limiterFor(path string) (limiter *rateLimiter, limitType string, ok bool) {
	switch {
	case path == "/health" || path == "/live" || path == "/metrics":
		return nil, "", false
	case path == "/api/analyze":
		return erl.analyzeLimiter, "analyze", true
	case strings.HasPrefix(path, downloadPrefix):
		return erl.downloadLimiter, "download", true
	default:
		return erl.apiLimiter, "api", true
	}
}

// Middleware returns an HTTP middleware that applies endpoint-specific rate limits.
func (erl *EndpointRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter, limitType, ok := erl.limiterFor(r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ip := getClientIP(r)
		if !limiter.allow(ip) {
			Warn("rate_limit_exceeded", map[string]any{
				"ip":         ip,
				"path":       r.URL.Path,
				"method":     r.Method,
				"limit_type": limitType,
				"request_id": RequestIDFromContext(r.Context()),
			})

			w.Header().Set("Retry-After", "60")
			w.Header().Set("X-RateLimit-Limit-Type", limitType)
			http.Error(w, "Rate limit exceeded for "+limitType+" endpoints. Please try again later.", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
