// Package memory provides process-local fallbacks for the Redis-backed
// limiter and signal bus, used by the memory storage mode and by tests.
// Windows are not shared across processes.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/promptfun/launchpad/internal/domain"
)

type window struct {
	count int
	start time.Time
}

// RateLimiter implements domain.RateLimiter with in-process fixed-window
// counters.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window

	// now is replaceable in tests to drive window expiry.
	now func() time.Time
}

// NewRateLimiter creates an empty in-process rate limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Check counts a request against the (identifier, endpoint) window and
// reports whether it is allowed. The counter resets when the window elapses.
func (rl *RateLimiter) Check(_ context.Context, identifier, endpoint string, maxRequests int, windowLen time.Duration) (domain.RateLimitDecision, error) {
	key := endpoint + ":" + identifier
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= windowLen {
		w = &window{start: now}
		rl.windows[key] = w
	}
	w.count++

	remaining := maxRequests - w.count
	if remaining < 0 {
		remaining = 0
	}

	return domain.RateLimitDecision{
		Allowed:   w.count <= maxRequests,
		Remaining: remaining,
		ResetAt:   w.start.Add(windowLen),
	}, nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
