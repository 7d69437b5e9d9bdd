// Package auth holds the verify-or-refresh decision shared by every
// transport guard.
package auth

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/chatline/chat-server/internal/audit"
	apperrors "github.com/chatline/chat-server/internal/errors"
	"github.com/chatline/chat-server/internal/metrics"
	"github.com/chatline/chat-server/internal/session"
	"github.com/chatline/chat-server/internal/token"
)

type SessionStore interface {
	Verify(accessToken string) (token.Claims, error)
	Refresh(ctx context.Context, refreshToken string) (*session.Session, error)
}

// Credentials are what a transport adapter managed to extract.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Transport    string
}

// TokenSink hands a refreshed pair back to the client over whatever side
// channel the transport has.
type TokenSink interface {
	PublishTokens(sess *session.Session)
}

type TokenSinkFunc func(sess *session.Session)

func (f TokenSinkFunc) PublishTokens(sess *session.Session) {
	f(sess)
}

// Authenticator is what transport adapters depend on.
type Authenticator interface {
	Authenticate(ctx context.Context, creds Credentials, sink TokenSink) (*RequestContext, error)
}

var _ Authenticator = (*Strategy)(nil)

type Strategy struct {
	store SessionStore
}

func NewStrategy(store SessionStore) *Strategy {
	return &Strategy{store: store}
}

// Authenticate verifies the access token and falls back to exactly one
// refresh when verification fails and a refresh token is present. Every
// failure is reported as the same Unauthorized error.
func (s *Strategy) Authenticate(ctx context.Context, creds Credentials, sink TokenSink) (*RequestContext, error) {
	if creds.AccessToken == "" {
		return nil, apperrors.Unauthorized()
	}

	claims, verifyErr := s.store.Verify(creds.AccessToken)
	if verifyErr == nil {
		return &RequestContext{
			UserID:    claims.SubjectID,
			IssuedAt:  claims.IssuedAt,
			ExpiresAt: claims.Expiry,
		}, nil
	}

	if creds.RefreshToken == "" {
		log.Debug().
			Err(verifyErr).
			Str("transport", creds.Transport).
			Msg("access token rejected, no refresh token")
		return nil, apperrors.Unauthorized()
	}

	sess, err := s.store.Refresh(ctx, creds.RefreshToken)
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues(creds.Transport, "failure").Inc()
		log.Warn().
			Err(err).
			AnErr("verifyErr", verifyErr).
			Str("transport", creds.Transport).
			Msg("token refresh failed")
		audit.Log(ctx, audit.Event{
			Type:      audit.EventAuthFailure,
			Transport: creds.Transport,
			Details:   map[string]interface{}{"stage": "refresh"},
		})
		return nil, apperrors.Unauthorized().WithCause(err)
	}

	metrics.TokenRefreshesTotal.WithLabelValues(creds.Transport, "success").Inc()
	if sink != nil {
		sink.PublishTokens(sess)
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventTokenRefresh,
		UserID:    sess.UserID,
		Transport: creds.Transport,
	})

	return &RequestContext{
		UserID:    sess.UserID,
		IssuedAt:  sess.AccessTokenIssuedAt,
		ExpiresAt: sess.AccessTokenExpiry,
		Refreshed: true,
	}, nil
}
