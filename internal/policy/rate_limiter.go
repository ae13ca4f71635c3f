package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LimitConfig defines the two quota windows.
type LimitConfig struct {
	PerMinute int
	PerHour   int
}

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Window     string // "minute" or "hour"
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter checks and atomically increments request quotas per user.
type Limiter interface {
	Allow(ctx context.Context, userID string) (*Result, error)
}

// windowCounter is one fixed window's state.
type windowCounter struct {
	windowStart time.Time
	count       int
}

// userCounters holds both windows for a single user behind one mutex, so
// a concurrent check-and-increment cannot race past the quota.
type userCounters struct {
	mu     sync.Mutex
	minute windowCounter
	hour   windowCounter
}

// MemoryLimiter is an in-process Limiter using fixed windows with a
// per-user lock. The counter table is LRU-bounded so an open user
// population cannot grow it without bound.
type MemoryLimiter struct {
	limits LimitConfig
	users  *lru.Cache[string, *userCounters]
	now    func() time.Time
}

// NewMemoryLimiter creates a MemoryLimiter tracking up to maxUsers
// concurrently active users.
func NewMemoryLimiter(limits LimitConfig, maxUsers int) (*MemoryLimiter, error) {
	if maxUsers <= 0 {
		maxUsers = 10000
	}
	users, err := lru.New[string, *userCounters](maxUsers)
	if err != nil {
		return nil, fmt.Errorf("create counter table: %w", err)
	}
	return &MemoryLimiter{
		limits: limits,
		users:  users,
		now:    time.Now,
	}, nil
}

// Allow checks both windows and increments them when the request passes.
// The (N+1)th request inside a window is denied; the Nth is allowed.
func (l *MemoryLimiter) Allow(_ context.Context, userID string) (*Result, error) {
	counters, ok := l.users.Get(userID)
	if !ok {
		counters = &userCounters{}
		// PeekOrAdd loses a race gracefully: whoever added first wins.
		if prev, found, _ := l.users.PeekOrAdd(userID, counters); found {
			counters = prev
		}
	}

	counters.mu.Lock()
	defer counters.mu.Unlock()

	now := l.now()

	if l.limits.PerMinute > 0 {
		if res := check(&counters.minute, now, time.Minute, l.limits.PerMinute, "minute"); !res.Allowed {
			return res, nil
		}
	}
	if l.limits.PerHour > 0 {
		if res := check(&counters.hour, now, time.Hour, l.limits.PerHour, "hour"); !res.Allowed {
			return res, nil
		}
	}

	// Both windows have headroom; count the request.
	counters.minute.count++
	counters.hour.count++

	remaining := l.limits.PerMinute - counters.minute.count
	if l.limits.PerMinute <= 0 {
		remaining = -1
	}
	return &Result{
		Allowed:   true,
		Window:    "minute",
		Limit:     l.limits.PerMinute,
		Remaining: remaining,
	}, nil
}

// check resets an elapsed window then reports whether another request fits.
func check(w *windowCounter, now time.Time, size time.Duration, limit int, name string) *Result {
	if now.Sub(w.windowStart) >= size {
		w.windowStart = now
		w.count = 0
	}
	if w.count >= limit {
		return &Result{
			Allowed:    false,
			Window:     name,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: w.windowStart.Add(size).Sub(now),
		}
	}
	return &Result{Allowed: true, Window: name, Limit: limit, Remaining: limit - w.count}
}

// RedisLimiter is a Limiter sharing counters across instances via Redis.
// Keys are aligned to window boundaries; INCR and EXPIRE run pipelined.
// Backend errors fail open so a cache outage cannot take down requests.
type RedisLimiter struct {
	rdb    *redis.Client
	limits LimitConfig
	logger *zap.Logger
}

// NewRedisLimiter creates a RedisLimiter.
func NewRedisLimiter(rdb *redis.Client, limits LimitConfig, logger *zap.Logger) *RedisLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{rdb: rdb, limits: limits, logger: logger}
}

// redisWindow is one fixed window's shape for the Redis backend.
type redisWindow struct {
	name     string
	duration time.Duration
	limit    int
}

func redisWindows(limits LimitConfig) []redisWindow {
	return []redisWindow{
		{"minute", time.Minute, limits.PerMinute},
		{"hour", time.Hour, limits.PerHour},
	}
}

// Allow increments both windows first, then judges the returned counts.
// INCR is atomic on the server, so two racing requests can never both
// observe the same ordinal; a denied request leaves its increment in
// place, which only makes the window stricter until it resets.
func (l *RedisLimiter) Allow(ctx context.Context, userID string) (*Result, error) {
	now := time.Now()
	windows := redisWindows(l.limits)

	pipe := l.rdb.Pipeline()
	incrs := make([]*redis.IntCmd, len(windows))
	for i, w := range windows {
		if w.limit <= 0 {
			continue
		}
		key := l.key(userID, w.name, now, w.duration)
		incrs[i] = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, w.duration)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open: a cache outage must not take down requests.
		l.logger.Warn("Rate limit increment failed, allowing request", zap.Error(err))
		return &Result{Allowed: true, Window: "minute", Limit: l.limits.PerMinute}, nil
	}

	counts := make([]int64, len(windows))
	for i, cmd := range incrs {
		if cmd != nil {
			counts[i] = cmd.Val()
		}
	}
	return judge(windows, counts, now), nil
}

// judge turns post-increment ordinals into a decision: the Nth request
// in a window of limit N is allowed, the (N+1)th is denied.
func judge(windows []redisWindow, counts []int64, now time.Time) *Result {
	for i, w := range windows {
		if w.limit <= 0 {
			continue
		}
		if counts[i] > int64(w.limit) {
			resetAt := now.Truncate(w.duration).Add(w.duration)
			return &Result{
				Allowed:    false,
				Window:     w.name,
				Limit:      w.limit,
				RetryAfter: resetAt.Sub(now),
			}
		}
	}

	res := &Result{Allowed: true, Window: "minute", Limit: windows[0].limit}
	if windows[0].limit > 0 {
		res.Remaining = windows[0].limit - int(counts[0])
	}
	return res
}

func (l *RedisLimiter) key(userID, window string, now time.Time, duration time.Duration) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", userID, window, now.Truncate(duration).Unix())
}
