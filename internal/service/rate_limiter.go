package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// rateLimitScript is a sliding window counter over a sorted set.
var rateLimitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = now + window
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    end
    return {0, resetAt}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window + 10000)

return {1, now + window}
`)

// RateLimiter counts attempts per key in Redis. It fails closed: a Redis
// error denies the attempt.
type RateLimiter struct {
	client *redis.Client
	now    func() time.Time
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

func (rl *RateLimiter) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, resetAt time.Time) {
	now := rl.now()
	nowMs := now.UnixMilli()
	fullKey := fmt.Sprintf("ratelimit:%s", key)

	result, err := rateLimitScript.Run(
		ctx,
		rl.client,
		[]string{fullKey},
		nowMs,
		window.Milliseconds(),
		limit,
		fmt.Sprintf("%d-%d", nowMs, now.UnixNano()),
	).Int64Slice()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("rate limit check failed, denying attempt")
		return false, now.Add(window)
	}
	if len(result) != 2 {
		log.Warn().Str("key", key).Msg("unexpected rate limit result, denying attempt")
		return false, now.Add(window)
	}

	return result[0] == 1, time.UnixMilli(result[1])
}

// Reset clears the counter for key.
func (rl *RateLimiter) Reset(ctx context.Context, key string) {
	if err := rl.client.Del(ctx, fmt.Sprintf("ratelimit:%s", key)).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to reset rate limit")
	}
}
