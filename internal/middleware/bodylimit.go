package middleware

import (
	"net/http"

	apperrors "github.com/chatline/chat-server/internal/errors"
)

const (
	DefaultMaxBodySize = 1 << 20 // 1MB
)

// BodyLimitMiddleware caps request bodies. Upload routes mount it with the
// configured upload limit, everything else with the default.
type BodyLimitMiddleware struct {
	maxSize int64
}

func NewBodyLimitMiddleware(maxSize int64) *BodyLimitMiddleware {
	if maxSize <= 0 {
		maxSize = DefaultMaxBodySize
	}
	return &BodyLimitMiddleware{maxSize: maxSize}
}

func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && r.ContentLength > m.maxSize {
			writeError(w, apperrors.PayloadTooLarge())
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, m.maxSize)
		next.ServeHTTP(w, r)
	})
}
