// Package redis provides the shared sliding-window store used by the
// admission controller when the API runs as more than one instance.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/grove/kv"
	"github.com/xraph/grove/kv/drivers/redisdriver"

	"github.com/xraph/payrelay/ratelimit"
)

// compile-time interface check
var _ ratelimit.Store = (*WindowStore)(nil)

// takeScript prunes the window, counts, admits if there is room and
// reports the reset time, all in one round trip. Scores are unix
// milliseconds. Hits at or before now-window are dropped, matching
// ratelimit.MemoryStore.
var takeScript = goredis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, member)
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, window)

local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
  reset = tonumber(oldest[2]) + window
end
return {tostring(allowed), tostring(count), tostring(reset)}
`)

// WindowStore implements ratelimit.Store on Redis sorted sets.
type WindowStore struct {
	kv  *kv.Store
	rdb goredis.UniversalClient
}

// New creates a WindowStore backed by a Grove KV store using the Redis driver.
func New(store *kv.Store) *WindowStore {
	return &WindowStore{
		kv:  store,
		rdb: redisdriver.UnwrapClient(store),
	}
}

// NewFromClient creates a WindowStore on an existing go-redis client.
// The caller keeps ownership of the client.
func NewFromClient(rdb goredis.UniversalClient) *WindowStore {
	return &WindowStore{rdb: rdb}
}

// Take implements ratelimit.Store.
func (s *WindowStore) Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (ratelimit.Decision, error) {
	nowMs := now.UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	vals, err := takeScript.Run(ctx, s.rdb, []string{key},
		nowMs, window.Milliseconds(), limit, member).StringSlice()
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("payrelay/redis: take %q: %w", key, err)
	}
	if len(vals) != 3 {
		return ratelimit.Decision{}, fmt.Errorf("payrelay/redis: take %q: unexpected reply %v", key, vals)
	}

	count, err := strconv.Atoi(vals[1])
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("payrelay/redis: parse count: %w", err)
	}
	resetMs, err := strconv.ParseInt(vals[2], 10, 64)
	if err != nil {
		return ratelimit.Decision{}, fmt.Errorf("payrelay/redis: parse reset: %w", err)
	}

	return ratelimit.Decision{
		Allowed:   vals[0] == "1",
		Limit:     limit,
		Remaining: max(limit-count, 0),
		Reset:     time.UnixMilli(resetMs).UTC(),
	}, nil
}

// Reset clears the window for key.
func (s *WindowStore) Reset(ctx context.Context, key string) error {
	err := s.rdb.Del(ctx, key).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return err
	}
	return nil
}

// Ping checks Redis connectivity.
func (s *WindowStore) Ping(ctx context.Context) error {
	if s.kv != nil {
		return s.kv.Ping(ctx)
	}
	return s.rdb.Ping(ctx).Err()
}

// Close closes the KV store. A store built with NewFromClient leaves the
// client open.
func (s *WindowStore) Close() error {
	if s.kv != nil {
		return s.kv.Close()
	}
	return nil
}
