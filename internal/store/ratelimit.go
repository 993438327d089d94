// ratelimit.go -- fixed-window attempt counter with lockout, backed by Redis.
package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// allowScript counts one attempt and locks the key once the window limit is passed.
// KEYS[1] = counter key, KEYS[2] = lock key.
// ARGV[1] = max attempts, ARGV[2] = window ms, ARGV[3] = lockout ms.
// Returns 1 if allowed, 0 if locked out.
var allowScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
local n = redis.call('INCR', KEYS[1])
if n == 1 and tonumber(ARGV[2]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if n > tonumber(ARGV[1]) then
	redis.call('DEL', KEYS[1])
	if tonumber(ARGV[3]) > 0 then
		redis.call('SET', KEYS[2], 1, 'PX', ARGV[3])
	end
	return 0
end
return 1
`)

// RedisRateLimiter implements per-key attempt limits.
type RedisRateLimiter struct {
	rdb *redis.Client
}

// NewRedisRateLimiter wraps a shared Redis client.
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{rdb: rdb}
}

// Allow records an attempt for key ("action:subject") under policy.
// Returns ErrRateLimitExceeded if the key is locked out, nil if the attempt may proceed.
// A policy with MaxAttempts <= 0 never limits.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, policy RateLimit) error {
	if policy.MaxAttempts <= 0 {
		return nil
	}
	ok, err := allowScript.Run(ctx, l.rdb,
		[]string{"ratelimit:" + key, "ratelimit:lock:" + key},
		policy.MaxAttempts, policy.Window.Milliseconds(), policy.LockoutTTL.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("checking rate limit: %w", err)
	}
	if ok == 0 {
		return ErrRateLimitExceeded
	}
	return nil
}
