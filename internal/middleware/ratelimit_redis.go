package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/chatline/chat-server/internal/audit"
	"github.com/chatline/chat-server/internal/auth"
	"github.com/chatline/chat-server/internal/config"
	apperrors "github.com/chatline/chat-server/internal/errors"
	chatredis "github.com/chatline/chat-server/internal/redis"
)

const rateLimitWindow = 60 * time.Second

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
    return {0, 0, resetAt}
end

redis.call('ZADD', key, now, member)
redis.call('EXPIRE', key, window + 10)

return {1, limit - count - 1, now + window}
`)

// RedisRateLimiter is a per-user sliding window shared by every server
// instance. It fails open: a Redis error lets the request through.
type RedisRateLimiter struct {
	client *redis.Client
}

func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

func (rl *RedisRateLimiter) Check(ctx context.Context, userID string, limit int) (allowed bool, remaining int, resetAt int64) {
	now := time.Now()
	window := int64(rateLimitWindow.Seconds())
	member := strconv.FormatInt(now.UnixNano(), 10)

	result, err := rateLimitScript.Run(ctx, rl.client, []string{chatredis.RateLimitKey(userID)}, now.Unix(), window, limit, member).Int64Slice()
	if err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("redis rate limit check failed, allowing request")
		return true, limit - 1, now.Unix() + window
	}
	if len(result) != 3 {
		log.Warn().Str("userId", userID).Msg("unexpected redis rate limit result")
		return true, limit - 1, now.Unix() + window
	}

	return result[0] == 1, int(result[1]), result[2]
}

type RedisRateLimitMiddleware struct {
	limiter *RedisRateLimiter
	limit   int
}

func NewRedisRateLimitMiddleware(redisClient *redis.Client, limitPerMin int) *RedisRateLimitMiddleware {
	if limitPerMin <= 0 {
		limitPerMin = config.DefaultRateLimitPerMin
	}
	return &RedisRateLimitMiddleware{
		limiter: NewRedisRateLimiter(redisClient),
		limit:   limitPerMin,
	}
}

// Handler must run after AuthGuard; unauthenticated requests pass through.
func (m *RedisRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := auth.FromContext(r.Context())
		if rc == nil {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, resetAt := m.limiter.Check(r.Context(), rc.UserID, m.limit)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

		if !allowed {
			audit.LogFromRequest(r, audit.Event{Type: audit.EventRateLimitExceed, UserID: rc.UserID})
			w.Header().Set("Retry-After", "60")
			writeError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}
