package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"beliefcoach.app/cloud/internal/logger"
	"beliefcoach.app/cloud/internal/metrics"
)

// RetryAfterSeconds rounds up to whole seconds, never below one.
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// SetRetryAfter writes the Retry-After header for a rejected decision.
func SetRetryAfter(w http.ResponseWriter, d Decision) {
	w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds(d.RetryAfter)))
}

// ClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the peer.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects callers over limit requests per window, keyed by
// scope and client IP. Counter errors let the request through.
func Middleware(counter Counter, scope string, window time.Duration, limit int, deny func(http.ResponseWriter, *http.Request, Decision)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			d, err := counter.Allow(r.Context(), scope+":"+ip, window, limit)
			if err != nil {
				logger.Warn("Rate limit counter unavailable", map[string]interface{}{
					"scope": scope,
					"error": err.Error(),
				})
				next.ServeHTTP(w, r)
				return
			}
			if !d.Allowed {
				metrics.RateLimitedTotal.WithLabelValues(scope).Inc()
				logger.Warn("Rate limit exceeded", map[string]interface{}{
					"scope": scope,
					"ip":    ip,
				})
				SetRetryAfter(w, d)
				deny(w, r, d)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
