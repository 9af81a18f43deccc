package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/promptfun/launchpad/internal/domain"
)

//go:embed scripts/fixed_window.lua
var fixedWindowLua string

// RateLimiter implements domain.RateLimiter with fixed-window counters
// backed by Redis and an atomic Lua script, so all engine instances share the
// same windows.
type RateLimiter struct {
	rdb         *redis.Client
	fixedWindow *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:         c.Underlying(),
		fixedWindow: redis.NewScript(fixedWindowLua),
	}
}

func rateLimitKey(identifier, endpoint string) string {
	return "ratelimit:" + endpoint + ":" + identifier
}

// Check counts a request against the (identifier, endpoint) window and
// reports whether it is allowed. The counter resets when the window elapses.
// Infrastructure errors are returned to the caller, whose policy decides
// whether to fail open or closed.
func (rl *RateLimiter) Check(ctx context.Context, identifier, endpoint string, maxRequests int, window time.Duration) (domain.RateLimitDecision, error) {
	result, err := rl.fixedWindow.Run(
		ctx,
		rl.rdb,
		[]string{rateLimitKey(identifier, endpoint)},
		maxRequests,
		window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return domain.RateLimitDecision{}, fmt.Errorf("redis: rate limit check %s/%s: %w", endpoint, identifier, err)
	}
	if len(result) < 3 {
		return domain.RateLimitDecision{}, fmt.Errorf("redis: rate limit check %s/%s: unexpected result length %d", endpoint, identifier, len(result))
	}

	return domain.RateLimitDecision{
		Allowed:   result[0] == 1,
		Remaining: int(result[1]),
		ResetAt:   time.Now().Add(time.Duration(result[2]) * time.Millisecond),
	}, nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
