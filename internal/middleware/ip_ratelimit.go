package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chatline/chat-server/internal/audit"
	apperrors "github.com/chatline/chat-server/internal/errors"
)

type AttemptLimiter interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time)
}

// IPRateLimitMiddleware throttles unauthenticated endpoints per client IP.
type IPRateLimitMiddleware struct {
	limiter AttemptLimiter
	limit   int
	window  time.Duration
	prefix  string
}

func NewIPRateLimitMiddleware(limiter AttemptLimiter, limit int, window time.Duration, prefix string) *IPRateLimitMiddleware {
	return &IPRateLimitMiddleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
		prefix:  prefix,
	}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := audit.ClientIP(r)
		key := fmt.Sprintf("ip:%s:%s", m.prefix, ip)

		allowed, resetAt := m.limiter.CheckLimit(r.Context(), key, m.limit, m.window)
		if !allowed {
			secondsLeft := int(time.Until(resetAt).Seconds()) + 1
			w.Header().Set("Retry-After", fmt.Sprintf("%d", secondsLeft))
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]interface{}{"scope": m.prefix},
			})
			writeError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}
