// Package session owns the access/refresh token pair lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatline/chat-server/internal/token"
	"github.com/chatline/chat-server/internal/util"
)

var ErrInvalidRefreshToken = errors.New("session: invalid refresh token")

type Session struct {
	UserID              string    `json:"userId"`
	AccessToken         string    `json:"accessToken"`
	RefreshToken        string    `json:"-"`
	AccessTokenIssuedAt time.Time `json:"-"`
	AccessTokenExpiry   time.Time `json:"accessTokenExpiry"`
}

type Store struct {
	codec      *token.Codec
	refresh    RefreshTokenStore
	refreshTTL time.Duration
}

func NewStore(codec *token.Codec, refresh RefreshTokenStore, refreshTTL time.Duration) *Store {
	return &Store{
		codec:      codec,
		refresh:    refresh,
		refreshTTL: refreshTTL,
	}
}

// Verify decodes an access token without touching the network.
func (s *Store) Verify(accessToken string) (token.Claims, error) {
	return s.codec.Verify(accessToken)
}

// Issue mints a fresh access/refresh pair for userID.
func (s *Store) Issue(ctx context.Context, userID string) (*Session, error) {
	accessToken, claims, err := s.codec.Issue(userID)
	if err != nil {
		return nil, err
	}

	refreshToken, err := util.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	if err := s.refresh.Save(ctx, util.HashToken(refreshToken), userID, s.refreshTTL); err != nil {
		return nil, fmt.Errorf("save refresh token: %w", err)
	}

	return &Session{
		UserID:              userID,
		AccessToken:         accessToken,
		RefreshToken:        refreshToken,
		AccessTokenIssuedAt: claims.IssuedAt,
		AccessTokenExpiry:   claims.Expiry,
	}, nil
}

// Refresh exchanges a refresh token for a new pair. The presented refresh
// token stays valid until its own TTL and previously issued access tokens
// are not revoked.
func (s *Store) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}

	userID, err := s.refresh.Lookup(ctx, util.HashToken(refreshToken))
	if err != nil {
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}
	if userID == "" {
		return nil, ErrInvalidRefreshToken
	}

	sess, err := s.Issue(ctx, userID)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("userId", userID).Msg("session refreshed")
	return sess, nil
}

// Revoke forgets a refresh token. Unknown tokens are not an error.
func (s *Store) Revoke(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := s.refresh.Delete(ctx, util.HashToken(refreshToken)); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}
