package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chatline/chat-server/internal/errors"
	"github.com/chatline/chat-server/internal/model"
	"github.com/chatline/chat-server/internal/session"
	"github.com/chatline/chat-server/internal/util"
)

func newUserFixture() (*UserService, *mockUserRepo, *mockSessions, *mockLimiter) {
	users := new(mockUserRepo)
	sessions := new(mockSessions)
	limiter := new(mockLimiter)
	return NewUserService(users, sessions, newFakeBlobStore(), limiter), users, sessions, limiter
}

func TestUserService_SignUp(t *testing.T) {
	ctx := context.Background()

	t.Run("creates user and session", func(t *testing.T) {
		svc, users, sessions, _ := newUserFixture()
		users.On("Create", ctx, mock.MatchedBy(func(p model.CreateUserParams) bool {
			return p.Email == "alice@example.com" && p.Name == "Alice" &&
				util.CheckPasswordHash("correct horse", p.PasswordHash)
		})).Return(&model.User{ID: "u1", Email: "alice@example.com", Name: "Alice"}, nil)
		sessions.On("Issue", ctx, "u1").Return(&session.Session{UserID: "u1", AccessToken: "at", RefreshToken: "rt"}, nil)

		user, sess, err := svc.SignUp(ctx, SignUpParams{Email: " Alice@Example.com ", Password: "correct horse", Name: "Alice"})

		require.NoError(t, err)
		assert.Equal(t, "u1", user.ID)
		assert.Equal(t, "at", sess.AccessToken)
	})

	t.Run("duplicate email", func(t *testing.T) {
		svc, users, _, _ := newUserFixture()
		users.On("Create", ctx, mock.Anything).Return(nil, &pq.Error{Code: "23505"})

		_, _, err := svc.SignUp(ctx, SignUpParams{Email: "a@example.com", Password: "password1", Name: "A"})

		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeAlreadyExists))
	})

	t.Run("validates input", func(t *testing.T) {
		svc, _, _, _ := newUserFixture()

		_, _, err := svc.SignUp(ctx, SignUpParams{Email: "not-an-email", Password: "password1", Name: "A"})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))

		_, _, err = svc.SignUp(ctx, SignUpParams{Email: "a@example.com", Password: "short", Name: "A"})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))

		_, _, err = svc.SignUp(ctx, SignUpParams{Email: "a@example.com", Password: "password1", Name: " "})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeMissingRequired))
	})
}

func TestUserService_SignIn(t *testing.T) {
	ctx := context.Background()
	hash, err := util.HashPassword("password1")
	require.NoError(t, err)
	alice := &model.User{ID: "u1", Email: "a@example.com", PasswordHash: hash}

	t.Run("valid credentials reset the failure counter", func(t *testing.T) {
		svc, users, sessions, limiter := newUserFixture()
		limiter.On("CheckLimit", ctx, "signin:a@example.com", signInMaxFailures, signInFailWindow).Return(true)
		limiter.On("Reset", ctx, "signin:a@example.com").Return()
		users.On("FindByEmail", ctx, "a@example.com").Return(alice, nil)
		sessions.On("Issue", ctx, "u1").Return(&session.Session{UserID: "u1"}, nil)

		user, _, err := svc.SignIn(ctx, "A@example.com", "password1")

		require.NoError(t, err)
		assert.Equal(t, "u1", user.ID)
		limiter.AssertCalled(t, "Reset", ctx, "signin:a@example.com")
	})

	t.Run("wrong password and unknown email look the same", func(t *testing.T) {
		svc, users, _, limiter := newUserFixture()
		limiter.On("CheckLimit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true)
		users.On("FindByEmail", ctx, "a@example.com").Return(alice, nil)
		users.On("FindByEmail", ctx, "b@example.com").Return(nil, nil)

		_, _, errWrong := svc.SignIn(ctx, "a@example.com", "nope")
		_, _, errUnknown := svc.SignIn(ctx, "b@example.com", "nope")

		assert.True(t, apperrors.IsCode(errWrong, apperrors.ErrCodeUnauthorized))
		assert.Equal(t, errWrong.Error(), errUnknown.Error())
		limiter.AssertNotCalled(t, "Reset", mock.Anything, mock.Anything)
	})

	t.Run("throttled", func(t *testing.T) {
		svc, users, _, limiter := newUserFixture()
		limiter.On("CheckLimit", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false)

		_, _, err := svc.SignIn(ctx, "a@example.com", "password1")

		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRateLimitExceeded))
		users.AssertNotCalled(t, "FindByEmail", mock.Anything, mock.Anything)
	})
}

func TestUserService_Profile(t *testing.T) {
	ctx := context.Background()

	t.Run("Me not found", func(t *testing.T) {
		svc, users, _, _ := newUserFixture()
		users.On("FindByID", ctx, "u1").Return(nil, nil)

		_, err := svc.Me(ctx, "u1")

		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
	})

	t.Run("UpdateProfile trims the name", func(t *testing.T) {
		svc, users, _, _ := newUserFixture()
		users.On("UpdateName", ctx, "u1", "Bob").Return(&model.User{ID: "u1", Name: "Bob"}, nil)

		user, err := svc.UpdateProfile(ctx, "u1", "  Bob ")

		require.NoError(t, err)
		assert.Equal(t, "Bob", user.Name)
	})

	t.Run("UploadAvatar stores under the user's prefix", func(t *testing.T) {
		svc, users, _, _ := newUserFixture()
		users.On("UpdateAvatar", ctx, "u1", mock.MatchedBy(func(url string) bool {
			return len(url) > len("http://files.test/avatars/u1/")
		})).Return(&model.User{ID: "u1"}, nil)

		_, err := svc.UploadAvatar(ctx, "u1", "me.png", "image/png", []byte("png"))

		require.NoError(t, err)
	})

	t.Run("SearchUsers ignores short queries", func(t *testing.T) {
		svc, users, _, _ := newUserFixture()

		profiles, err := svc.SearchUsers(ctx, "u1", "a")

		require.NoError(t, err)
		assert.Empty(t, profiles)
		users.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("SignOut revokes the refresh token", func(t *testing.T) {
		svc, _, sessions, _ := newUserFixture()
		sessions.On("Revoke", ctx, "rt").Return(nil)

		require.NoError(t, svc.SignOut(ctx, "u1", "rt"))
	})
}

func TestRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	limiter := NewRateLimiter(client)
	ctx := context.Background()

	t.Run("denies once the limit is reached", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			allowed, _ := limiter.CheckLimit(ctx, "test:a", 3, time.Minute)
			assert.True(t, allowed, "attempt %d", i+1)
		}
		allowed, resetAt := limiter.CheckLimit(ctx, "test:a", 3, time.Minute)
		assert.False(t, allowed)
		assert.True(t, resetAt.After(time.Now()))
	})

	t.Run("keys are independent", func(t *testing.T) {
		allowed, _ := limiter.CheckLimit(ctx, "test:b", 1, time.Minute)
		assert.True(t, allowed)
		allowed, _ = limiter.CheckLimit(ctx, "test:c", 1, time.Minute)
		assert.True(t, allowed)
	})

	t.Run("reset clears the counter", func(t *testing.T) {
		allowed, _ := limiter.CheckLimit(ctx, "test:d", 1, time.Minute)
		assert.True(t, allowed)
		limiter.Reset(ctx, "test:d")
		allowed, _ = limiter.CheckLimit(ctx, "test:d", 1, time.Minute)
		assert.True(t, allowed)
	})

	t.Run("fails closed when redis is unavailable", func(t *testing.T) {
		broken := NewRateLimiter(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}))

		allowed, _ := broken.CheckLimit(ctx, "test:e", 10, time.Minute)

		assert.False(t, allowed)
	})
}
