package policy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterMinuteWindow(t *testing.T) {
	limiter, err := NewMemoryLimiter(LimitConfig{PerMinute: 3, PerHour: 100}, 100)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be allowed", i+1)
	}

	res, err := limiter.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, "minute", res.Window)
	assert.Equal(t, 3, res.Limit)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestMemoryLimiterWindowReset(t *testing.T) {
	limiter, err := NewMemoryLimiter(LimitConfig{PerMinute: 1, PerHour: 100}, 100)
	require.NoError(t, err)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	res, err := limiter.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// Advance past the minute boundary: counter resets atomically.
	now = now.Add(61 * time.Second)
	res, err = limiter.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiterHourWindow(t *testing.T) {
	limiter, err := NewMemoryLimiter(LimitConfig{PerMinute: 1000, PerHour: 2}, 100)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := limiter.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, "hour", res.Window)
}

func TestMemoryLimiterPerUserIsolation(t *testing.T) {
	limiter, err := NewMemoryLimiter(LimitConfig{PerMinute: 1, PerHour: 100}, 100)
	require.NoError(t, err)
	ctx := context.Background()

	res, err := limiter.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// A different user has their own counters.
	res, err = limiter.Allow(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	const limit = 50
	const attempts = 200

	limiter, err := NewMemoryLimiter(LimitConfig{PerMinute: limit, PerHour: 10000}, 100)
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := limiter.Allow(ctx, "u1")
			if err == nil && res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Exactly the configured quota gets through, no matter the interleaving.
	assert.Equal(t, limit, allowed)
}

func TestJudgeAllowsUpToLimitInclusive(t *testing.T) {
	windows := redisWindows(LimitConfig{PerMinute: 60, PerHour: 1000})
	now := time.Now()

	// INCR returns this request's ordinal: the 60th request is the last
	// one in, the 61st is over.
	res := judge(windows, []int64{60, 60}, now)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	res = judge(windows, []int64{61, 61}, now)
	assert.False(t, res.Allowed)
	assert.Equal(t, "minute", res.Window)
	assert.Equal(t, 60, res.Limit)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestJudgeHourWindowDenies(t *testing.T) {
	windows := redisWindows(LimitConfig{PerMinute: 60, PerHour: 1000})

	res := judge(windows, []int64{5, 1001}, time.Now())
	assert.False(t, res.Allowed)
	assert.Equal(t, "hour", res.Window)
	assert.Equal(t, 1000, res.Limit)
}

func TestJudgeIgnoresDisabledWindows(t *testing.T) {
	windows := redisWindows(LimitConfig{PerMinute: 60})

	res := judge(windows, []int64{10, 0}, time.Now())
	assert.True(t, res.Allowed)
	assert.Equal(t, 50, res.Remaining)
}

func TestJudgeNoTwoOrdinalsShareTheLastSlot(t *testing.T) {
	// Post-increment ordinals are unique per window, so of two racing
	// requests at the boundary exactly one holds ordinal 60.
	windows := redisWindows(LimitConfig{PerMinute: 60, PerHour: 1000})
	now := time.Now()

	a := judge(windows, []int64{60, 60}, now)
	b := judge(windows, []int64{61, 61}, now)
	assert.True(t, a.Allowed)
	assert.False(t, b.Allowed)
}
