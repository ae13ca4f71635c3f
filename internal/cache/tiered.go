// Package cache provides a two-tier cache for hot conversation history:
// an in-memory Ristretto tier backed by an optional shared Redis tier.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Tiered is the two-tier byte cache. The Redis tier is optional; when
// absent the cache degrades to in-memory only.
type Tiered struct {
	l1     *ristretto.Cache[string, []byte]
	l2     *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// Stats tracks hit and miss counts per tier.
type Stats struct {
	L1Hits   int64
	L1Misses int64
	L2Hits   int64
	L2Misses int64
}

// NewTiered creates the cache. maxCost bounds the number of in-memory
// entries (default 10,000); ttl defaults to 5 minutes.
func NewTiered(maxCost int64, ttl time.Duration, redisClient *redis.Client, logger *zap.Logger) (*Tiered, error) {
	if maxCost <= 0 {
		maxCost = 10000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l1, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}

	return &Tiered{
		l1:     l1,
		l2:     redisClient,
		ttl:    ttl,
		logger: logger.Named("cache"),
	}, nil
}

// Get checks the in-memory tier first, then Redis. A Redis hit is
// promoted back into memory.
func (c *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if val, found := c.l1.Get(key); found {
		c.record(func(s *Stats) { s.L1Hits++ })
		return val, true
	}
	c.record(func(s *Stats) { s.L1Misses++ })

	if c.l2 == nil {
		return nil, false
	}

	data, err := c.l2.Get(ctx, key).Bytes()
	if err != nil || len(data) == 0 {
		c.record(func(s *Stats) { s.L2Misses++ })
		return nil, false
	}

	c.record(func(s *Stats) { s.L2Hits++ })
	c.l1.SetWithTTL(key, data, 1, c.ttl)
	return data, true
}

// Set stores the value in both tiers. The Redis write is best effort.
// Every entry costs 1 so maxCost bounds the entry count regardless of
// value size.
func (c *Tiered) Set(ctx context.Context, key string, data []byte) {
	c.l1.SetWithTTL(key, data, 1, c.ttl)

	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("Redis cache write failed",
				zap.String("key", key), zap.Error(err))
		}
	}
}

// Delete removes the key from both tiers.
func (c *Tiered) Delete(ctx context.Context, key string) {
	c.l1.Del(key)

	if c.l2 != nil {
		if err := c.l2.Del(ctx, key).Err(); err != nil {
			c.logger.Warn("Redis cache delete failed",
				zap.String("key", key), zap.Error(err))
		}
	}
}

// Snapshot returns a copy of the current hit/miss counters.
func (c *Tiered) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Tiered) record(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

// Wait blocks until buffered in-memory writes have been applied.
func (c *Tiered) Wait() {
	c.l1.Wait()
}

// Close releases the in-memory tier. The Redis client is owned by the
// caller and is not closed here.
func (c *Tiered) Close() {
	c.l1.Close()
}
