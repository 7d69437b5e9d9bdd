package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatline/chat-server/internal/token"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	codec := token.NewCodec("test-secret", 15*time.Minute)
	return NewStore(codec, NewRedisRefreshStore(client), 7*24*time.Hour), mr
}

func TestStore_Issue(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Issue(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, "user-1", sess.UserID)
	assert.NotEmpty(t, sess.AccessToken)
	assert.Len(t, sess.RefreshToken, 64)
	assert.True(t, sess.AccessTokenExpiry.After(time.Now()))

	claims, err := store.Verify(sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.SubjectID)
	assert.True(t, claims.IssuedAt.Equal(sess.AccessTokenIssuedAt))
	assert.False(t, sess.AccessTokenIssuedAt.IsZero())

	assert.Len(t, mr.Keys(), 1, "only the refresh token hash is stored")
	assert.NotContains(t, mr.Keys()[0], sess.RefreshToken)
}

func TestStore_Refresh(t *testing.T) {
	t.Run("mints a new pair for a valid refresh token", func(t *testing.T) {
		store, _ := newTestStore(t)
		ctx := context.Background()

		first, err := store.Issue(ctx, "user-1")
		require.NoError(t, err)

		second, err := store.Refresh(ctx, first.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, "user-1", second.UserID)
		assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	})

	t.Run("old refresh token remains usable after refresh", func(t *testing.T) {
		store, _ := newTestStore(t)
		ctx := context.Background()

		first, err := store.Issue(ctx, "user-1")
		require.NoError(t, err)
		_, err = store.Refresh(ctx, first.RefreshToken)
		require.NoError(t, err)

		_, err = store.Refresh(ctx, first.RefreshToken)
		assert.NoError(t, err)
	})

	t.Run("rejects unknown refresh token", func(t *testing.T) {
		store, _ := newTestStore(t)
		_, err := store.Refresh(context.Background(), "unknown")
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	})

	t.Run("rejects empty refresh token", func(t *testing.T) {
		store, _ := newTestStore(t)
		_, err := store.Refresh(context.Background(), "")
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	})

	t.Run("rejects expired refresh token", func(t *testing.T) {
		store, mr := newTestStore(t)
		ctx := context.Background()

		sess, err := store.Issue(ctx, "user-1")
		require.NoError(t, err)
		mr.FastForward(8 * 24 * time.Hour)

		_, err = store.Refresh(ctx, sess.RefreshToken)
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	})
}

func TestStore_Revoke(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Issue(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, store.Revoke(ctx, sess.RefreshToken))

	_, err = store.Refresh(ctx, sess.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	assert.NoError(t, store.Revoke(ctx, ""))
}
