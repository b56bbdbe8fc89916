package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a distributed fixed-window counter. The increment and
// window-expiry bookkeeping run inside one Lua script so concurrent hits on
// the same key never interleave.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// The script returns {count, pttl_ms}. A blocked key short-circuits with
// count = -1 and the remaining block TTL.
var hitScript = redis.NewScript(`
local blocked = redis.call('PTTL', KEYS[2])
if blocked > 0 then
  return {-1, blocked}
end
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// NewRedisLimiter wraps an existing client; the caller owns its lifecycle.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window}
}

func (l *RedisLimiter) Hit(ctx context.Context, key string) (Result, error) {
	raw, err := hitScript.Run(ctx, l.client, []string{counterKey(key), blockKey(key)}, l.window.Milliseconds()).Result()
	if err != nil {
		return Result{}, fmt.Errorf("redis rate limit hit: %w", err)
	}
	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 2 {
		return Result{}, fmt.Errorf("redis rate limit hit: unexpected reply %v", raw)
	}
	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	resetAt := time.Now().Add(time.Duration(ttlMs) * time.Millisecond)

	if count < 0 {
		// Blocked key.
		return deny(resetAt), nil
	}
	if int(count) > l.limit {
		return deny(resetAt), nil
	}
	return Result{Allowed: true, Remaining: clampRemaining(l.limit, int(count)), ResetAt: resetAt}, nil
}

func (l *RedisLimiter) Block(ctx context.Context, key string, d time.Duration) error {
	if err := l.client.Set(ctx, blockKey(key), "1", d).Err(); err != nil {
		return fmt.Errorf("redis rate limit block: %w", err)
	}
	return nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, counterKey(key), blockKey(key)).Err(); err != nil {
		return fmt.Errorf("redis rate limit reset: %w", err)
	}
	return nil
}

func counterKey(key string) string {
	return "ratelimit:hits:" + key
}

func blockKey(key string) string {
	return "ratelimit:block:" + key
}
