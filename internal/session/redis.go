package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thinkxlife/brain/internal/jsonx"
)

const (
	sessionPrefix = "session:"
	userSetPrefix = "session_user:"
)

// RedisStore is a session Store backed by Redis. Records are stored as
// JSON values with a TTL; a per-user set tracks session ids for the
// concurrency cap.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Get loads a session record.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	data, err := s.rdb.Get(ctx, sessionPrefix+sessionID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var rec Record
	if err := jsonx.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &rec, nil
}

// Put stores the record with a TTL and registers it in the user's set.
func (s *RedisStore) Put(ctx context.Context, rec *Record, ttl time.Duration) error {
	data, err := jsonx.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, sessionPrefix+rec.SessionID, data, ttl)
	pipe.SAdd(ctx, userSetPrefix+rec.UserID, rec.SessionID)
	pipe.Expire(ctx, userSetPrefix+rec.UserID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Delete removes a session record.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	rec, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, sessionPrefix+sessionID)
	if rec != nil {
		pipe.SRem(ctx, userSetPrefix+rec.UserID, sessionID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// createScript prunes dangling ids from the user's session set, counts
// the survivors, and inserts the new session only under the cap. Running
// as a script makes the count and the insert atomic on the server.
var createScript = redis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
local count = 0
for _, id in ipairs(ids) do
	if redis.call('EXISTS', 'session:' .. id) == 1 then
		count = count + 1
	else
		redis.call('SREM', KEYS[1], id)
	end
end
local max = tonumber(ARGV[1])
if max > 0 and count >= max then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
redis.call('SADD', KEYS[1], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// Create inserts the record while enforcing the per-user cap.
func (s *RedisStore) Create(ctx context.Context, rec *Record, ttl time.Duration, maxPerUser int) error {
	data, err := jsonx.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	keys := []string{userSetPrefix + rec.UserID, sessionPrefix + rec.SessionID}
	created, err := createScript.Run(ctx, s.rdb, keys,
		maxPerUser, data, ttl.Milliseconds(), rec.SessionID).Int()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if created == 0 {
		return ErrTooManySessions
	}
	return nil
}

// ExpireBefore is a no-op: Redis evicts sessions via key TTL.
func (s *RedisStore) ExpireBefore(context.Context, time.Time) (int, error) {
	return 0, nil
}
