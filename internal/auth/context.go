package auth

import (
	"context"
	"time"
)

type contextKey string

const requestContextKey contextKey = "requestContext"

// RequestContext is the identity resolved by a guard for one operation or
// one persistent connection.
type RequestContext struct {
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	// Refreshed is set when the identity came from a refresh rather than
	// the presented access token.
	Refreshed bool
}

func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

func FromContext(ctx context.Context) *RequestContext {
	if rc, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
		return rc
	}
	return nil
}
