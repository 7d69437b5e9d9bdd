// Package token issues and verifies short-lived access tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrExpired = errors.New("token: expired")
	ErrInvalid = errors.New("token: invalid")
)

// Claims is the identity decoded from an access token. It is never
// persisted.
type Claims struct {
	SubjectID string
	IssuedAt  time.Time
	Expiry    time.Time
}

type Codec struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewCodec(secret string, ttl time.Duration) *Codec {
	return &Codec{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: "chat-server",
		now:    time.Now,
	}
}

// Issue signs a new HS256 access token for subjectID.
func (c *Codec) Issue(subjectID string) (string, Claims, error) {
	now := c.now().UTC().Truncate(time.Second)
	claims := Claims{
		SubjectID: subjectID,
		IssuedAt:  now,
		Expiry:    now.Add(c.ttl),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subjectID,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(claims.Expiry),
	})
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, claims, nil
}

// Verify checks signature and expiry. It returns ErrExpired for a well
// signed token past its expiry and ErrInvalid for everything else.
func (c *Codec) Verify(raw string) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)

	var rc jwt.RegisteredClaims
	_, err := parser.ParseWithClaims(raw, &rc, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if rc.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrInvalid)
	}

	claims := Claims{SubjectID: rc.Subject}
	if rc.IssuedAt != nil {
		claims.IssuedAt = rc.IssuedAt.Time
	}
	if rc.ExpiresAt != nil {
		claims.Expiry = rc.ExpiresAt.Time
	}
	return claims, nil
}
