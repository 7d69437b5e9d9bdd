package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_IssueAndVerify(t *testing.T) {
	codec := NewCodec("test-secret", 15*time.Minute)

	raw, issued, err := codec.Issue("user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	claims, err := codec.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.SubjectID)
	assert.Equal(t, issued.Expiry.Unix(), claims.Expiry.Unix())
	assert.Equal(t, 15*time.Minute, claims.Expiry.Sub(claims.IssuedAt))
}

func TestCodec_Verify(t *testing.T) {
	t.Run("expired token reports ErrExpired", func(t *testing.T) {
		codec := NewCodec("test-secret", time.Minute)
		codec.now = func() time.Time { return time.Now().Add(-time.Hour) }
		raw, _, err := codec.Issue("user-1")
		require.NoError(t, err)

		codec.now = time.Now
		_, err = codec.Verify(raw)
		assert.ErrorIs(t, err, ErrExpired)
	})

	t.Run("wrong secret reports ErrInvalid", func(t *testing.T) {
		raw, _, err := NewCodec("secret-a", time.Minute).Issue("user-1")
		require.NoError(t, err)

		_, err = NewCodec("secret-b", time.Minute).Verify(raw)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("garbage reports ErrInvalid", func(t *testing.T) {
		_, err := NewCodec("secret", time.Minute).Verify("not.a.jwt")
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("rejects other signing methods", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "chat-server",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		})
		raw, err := tok.SignedString([]byte("secret"))
		require.NoError(t, err)

		_, err = NewCodec("secret", time.Minute).Verify(raw)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("rejects token without subject", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Issuer:    "chat-server",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		})
		raw, err := tok.SignedString([]byte("secret"))
		require.NoError(t, err)

		_, err = NewCodec("secret", time.Minute).Verify(raw)
		assert.ErrorIs(t, err, ErrInvalid)
	})
}
