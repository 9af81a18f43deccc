package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/promptfun/launchpad/internal/domain"
)

// scriptedLimiter returns canned decisions so the middleware's behavior can
// be tested without a backend.
type scriptedLimiter struct {
	decision domain.RateLimitDecision
	err      error

	lastIdentifier string
	lastEndpoint   string
}

func (s *scriptedLimiter) Check(_ context.Context, identifier, endpoint string, _ int, _ time.Duration) (domain.RateLimitDecision, error) {
	s.lastIdentifier = identifier
	s.lastEndpoint = endpoint
	return s.decision, s.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitAllows(t *testing.T) {
	lim := &scriptedLimiter{decision: domain.RateLimitDecision{
		Allowed:   true,
		Remaining: 7,
		ResetAt:   time.Now().Add(time.Minute),
	}}
	h := RateLimit(lim, "trade", RateLimitRule{MaxRequests: 10, Window: time.Minute}, slog.New(slog.DiscardHandler))(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/trades", nil)
	req.RemoteAddr = "9.8.7.6:41000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "7", rec.Header().Get("X-RateLimit-Remaining"))
	require.Equal(t, "9.8.7.6", lim.lastIdentifier)
	require.Equal(t, "trade", lim.lastEndpoint)
}

func TestRateLimitRejects(t *testing.T) {
	lim := &scriptedLimiter{decision: domain.RateLimitDecision{
		Allowed:   false,
		Remaining: 0,
		ResetAt:   time.Now().Add(42 * time.Second),
	}}
	h := RateLimit(lim, "trade", RateLimitRule{MaxRequests: 10, Window: time.Minute}, slog.New(slog.DiscardHandler))(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/trades", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())
}

func TestRateLimitBackendDown(t *testing.T) {
	lim := &scriptedLimiter{err: errors.New("connection refused")}

	t.Run("fail open lets the request through", func(t *testing.T) {
		h := RateLimit(lim, "quote", RateLimitRule{MaxRequests: 10, Window: time.Minute, FailOpen: true}, slog.New(slog.DiscardHandler))(okHandler())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/quote", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("fail closed rejects", func(t *testing.T) {
		h := RateLimit(lim, "trade", RateLimitRule{MaxRequests: 10, Window: time.Minute, FailOpen: false}, slog.New(slog.DiscardHandler))(okHandler())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/trades", nil))
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
	})
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	require.Equal(t, "10.0.0.1", extractClientIP(req))

	req.Header.Set("X-Real-IP", "172.16.0.9")
	require.Equal(t, "172.16.0.9", extractClientIP(req))

	// X-Forwarded-For wins, first hop only.
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 172.16.0.9")
	require.Equal(t, "203.0.113.7", extractClientIP(req))
}

func TestRateLimitDisabledRule(t *testing.T) {
	// A zero MaxRequests rule is a no-op, as is a nil limiter.
	h := RateLimit(nil, "trade", RateLimitRule{}, slog.New(slog.DiscardHandler))(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/trades", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
