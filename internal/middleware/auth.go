package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatline/chat-server/internal/auth"
	apperrors "github.com/chatline/chat-server/internal/errors"
	"github.com/chatline/chat-server/internal/session"
)

const (
	RefreshCookieName    = "refresh_token"
	NewAccessTokenHeader = "X-New-Access-Token"
	TransportHTTP        = "http"
)

type CookieConfig struct {
	MaxAge time.Duration
	Secure bool
}

// AuthGuard is the request/response adapter over the shared auth strategy.
// A refreshed pair is returned in the X-New-Access-Token header and the
// refresh_token cookie of the same response.
type AuthGuard struct {
	strategy auth.Authenticator
	cookies  CookieConfig
}

func NewAuthGuard(strategy auth.Authenticator, cookies CookieConfig) *AuthGuard {
	return &AuthGuard{strategy: strategy, cookies: cookies}
}

func (g *AuthGuard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accessToken, ok := BearerToken(r)
		if !ok {
			log.Debug().Str("path", r.URL.Path).Msg("auth guard: missing or malformed bearer token")
			writeError(w, apperrors.Unauthorized())
			return
		}

		creds := auth.Credentials{
			AccessToken:  accessToken,
			RefreshToken: RefreshTokenFromRequest(r),
			Transport:    TransportHTTP,
		}
		sink := auth.TokenSinkFunc(func(sess *session.Session) {
			w.Header().Set(NewAccessTokenHeader, sess.AccessToken)
			SetRefreshCookie(w, sess.RefreshToken, g.cookies)
		})

		rc, err := g.strategy.Authenticate(r.Context(), creds, sink)
		if err != nil {
			writeError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithRequestContext(r.Context(), rc)))
	})
}

// BearerToken extracts the token of an "Authorization: Bearer <token>"
// header. Any other shape is rejected.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

func RefreshTokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func SetRefreshCookie(w http.ResponseWriter, refreshToken string, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    refreshToken,
		Path:     "/",
		MaxAge:   int(cfg.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func ClearRefreshCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}
