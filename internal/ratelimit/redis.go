package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow trims the key's sorted set to the current window and adds
// the request only when it is still under the limit. It returns
// {allowed, remaining, retry_after_ms}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	redis.call('PEXPIRE', key, window)
	return {1, limit - count - 1, 0}
end

local retry = window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
	retry = tonumber(oldest[2]) + window - now
end
return {0, 0, retry}
`)

// RedisLimiter shares one sliding window per key across every replica
// pointing at the same Redis.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	max    int
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter creates a limiter storing windows under prefix+key.
func NewRedisLimiter(client redis.Scripter, prefix string, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// Allow runs the window script atomically for key.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := slidingWindow.Run(ctx, l.client,
		[]string{l.prefix + key},
		l.now().UnixMilli(), l.window.Milliseconds(), l.max, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis sliding window: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("redis sliding window: unexpected reply %v", res)
	}

	return Decision{
		Allowed:    res[0] == 1,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}
