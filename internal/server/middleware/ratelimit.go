package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/promptfun/launchpad/internal/domain"
)

// RateLimitRule configures the fixed-window limit for a single endpoint.
// FailOpen controls what happens when the limiter backend is unreachable:
// true lets the request through, false rejects it with 429.
type RateLimitRule struct {
	MaxRequests int
	Window      time.Duration
	FailOpen    bool
}

// RateLimit returns middleware that applies a per-client fixed-window limit
// for one named endpoint using the provided domain.RateLimiter. Every
// response carries X-RateLimit-Limit and X-RateLimit-Remaining headers, and
// rejections carry Retry-After.
func RateLimit(limiter domain.RateLimiter, endpoint string, rule RateLimitRule, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || rule.MaxRequests <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			clientIP := extractClientIP(r)

			decision, err := limiter.Check(r.Context(), clientIP, endpoint, rule.MaxRequests, rule.Window)
			if err != nil {
				logger.WarnContext(r.Context(), "middleware: rate limiter unavailable",
					slog.String("endpoint", endpoint),
					slog.Bool("fail_open", rule.FailOpen),
					slog.String("error", err.Error()),
				)
				if rule.FailOpen {
					next.ServeHTTP(w, r)
					return
				}
				writeRateLimited(w, time.Second)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rule.MaxRequests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

			if !decision.Allowed {
				retry := time.Until(decision.ResetAt)
				if retry < time.Second {
					retry = time.Second
				}
				writeRateLimited(w, retry)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second).Seconds())))
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limit exceeded"}`))
}

// extractClientIP attempts to determine the real client IP from standard
// proxy headers, falling back to the direct remote address.
func extractClientIP(r *http.Request) string {
	// Check X-Forwarded-For first (may contain multiple IPs).
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		ip := strings.TrimSpace(parts[0])
		if ip != "" {
			return ip
		}
	}

	// Check X-Real-IP.
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fall back to RemoteAddr.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
