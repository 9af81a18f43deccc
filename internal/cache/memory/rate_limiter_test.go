package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterFixedWindow(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	ctx := context.Background()
	const limit = 10
	window := time.Minute

	for i := 1; i <= limit; i++ {
		d, err := rl.Check(ctx, "1.2.3.4", "trade", limit, window)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d of %d must pass", i, limit)
		require.Equal(t, limit-i, d.Remaining)
	}

	// The 11th request in the same window is rejected.
	d, err := rl.Check(ctx, "1.2.3.4", "trade", limit, window)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 0, d.Remaining)
	require.Equal(t, now.Add(window), d.ResetAt)
}

func TestRateLimiterWindowResets(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := rl.Check(ctx, "1.2.3.4", "trade", 3, time.Minute)
		require.NoError(t, err)
	}
	d, err := rl.Check(ctx, "1.2.3.4", "trade", 3, time.Minute)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// The counter starts over once the window elapses.
	now = now.Add(time.Minute)
	d, err = rl.Check(ctx, "1.2.3.4", "trade", 3, time.Minute)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 2, d.Remaining)
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter()
	ctx := context.Background()

	// Exhaust one identifier.
	for i := 0; i < 2; i++ {
		_, err := rl.Check(ctx, "1.2.3.4", "trade", 1, time.Minute)
		require.NoError(t, err)
	}
	d, err := rl.Check(ctx, "1.2.3.4", "trade", 1, time.Minute)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// A different identifier and a different endpoint both have their own
	// windows.
	d, err = rl.Check(ctx, "5.6.7.8", "trade", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = rl.Check(ctx, "1.2.3.4", "quote", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}
