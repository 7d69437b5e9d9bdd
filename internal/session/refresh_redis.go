package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	redisclient "github.com/chatline/chat-server/internal/redis"
)

// RefreshTokenStore persists refresh-token hashes. Lookup returns "" with
// no error when the hash is unknown or expired.
type RefreshTokenStore interface {
	Save(ctx context.Context, tokenHash, userID string, ttl time.Duration) error
	Lookup(ctx context.Context, tokenHash string) (string, error)
	Delete(ctx context.Context, tokenHash string) error
}

type redisRefreshStore struct {
	client *redis.Client
}

func NewRedisRefreshStore(client *redis.Client) RefreshTokenStore {
	return &redisRefreshStore{client: client}
}

func (s *redisRefreshStore) Save(ctx context.Context, tokenHash, userID string, ttl time.Duration) error {
	return s.client.Set(ctx, redisclient.RefreshTokenKey(tokenHash), userID, ttl).Err()
}

func (s *redisRefreshStore) Lookup(ctx context.Context, tokenHash string) (string, error) {
	userID, err := s.client.Get(ctx, redisclient.RefreshTokenKey(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *redisRefreshStore) Delete(ctx context.Context, tokenHash string) error {
	return s.client.Del(ctx, redisclient.RefreshTokenKey(tokenHash)).Err()
}
