package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/chatline/chat-server/internal/errors"
	"github.com/chatline/chat-server/internal/metrics"
	"github.com/chatline/chat-server/internal/middleware"
	"github.com/chatline/chat-server/internal/model"
	"github.com/chatline/chat-server/internal/service"
	"github.com/chatline/chat-server/internal/session"
)

type AccountService interface {
	SignUp(ctx context.Context, params service.SignUpParams) (*model.User, *session.Session, error)
	SignIn(ctx context.Context, email, password string) (*model.User, *session.Session, error)
	SignOut(ctx context.Context, userID, refreshToken string) error
}

type SessionRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*session.Session, error)
}

// AuthHandler owns the unauthenticated session endpoints. Sign-out is
// mounted separately behind the auth guard.
type AuthHandler struct {
	accounts AccountService
	sessions SessionRefresher
	cookies  middleware.CookieConfig
}

func NewAuthHandler(accounts AccountService, sessions SessionRefresher, cookies middleware.CookieConfig) *AuthHandler {
	return &AuthHandler{accounts: accounts, sessions: sessions, cookies: cookies}
}

type sessionResponse struct {
	User              *model.User `json:"user,omitempty"`
	AccessToken       string      `json:"accessToken"`
	AccessTokenExpiry time.Time   `json:"accessTokenExpiry"`
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, status int, user *model.User, sess *session.Session) {
	middleware.SetRefreshCookie(w, sess.RefreshToken, h.cookies)
	writeJSON(w, status, sessionResponse{
		User:              user,
		AccessToken:       sess.AccessToken,
		AccessTokenExpiry: sess.AccessTokenExpiry,
	})
}

// POST /v1/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, sess, err := h.accounts.SignUp(r.Context(), service.SignUpParams{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.writeSession(w, http.StatusCreated, user, sess)
}

// POST /v1/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, sess, err := h.accounts.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.writeSession(w, http.StatusOK, user, sess)
}

// POST /v1/auth/refresh
// Exchanges the refresh_token cookie for a new pair without presenting an
// access token, for clients that lost theirs.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := middleware.RefreshTokenFromRequest(r)
	if refreshToken == "" {
		writeError(w, apperrors.Unauthorized())
		return
	}

	sess, err := h.sessions.Refresh(r.Context(), refreshToken)
	if err != nil {
		log.Debug().Err(err).Msg("explicit refresh rejected")
		metrics.TokenRefreshesTotal.WithLabelValues(middleware.TransportHTTP, "failure").Inc()
		middleware.ClearRefreshCookie(w, h.cookies)
		writeError(w, apperrors.Unauthorized())
		return
	}
	metrics.TokenRefreshesTotal.WithLabelValues(middleware.TransportHTTP, "success").Inc()

	h.writeSession(w, http.StatusOK, nil, sess)
}

// POST /v1/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized())
		return
	}

	if refreshToken := middleware.RefreshTokenFromRequest(r); refreshToken != "" {
		if err := h.accounts.SignOut(r.Context(), uid, refreshToken); err != nil {
			writeError(w, err)
			return
		}
	}

	middleware.ClearRefreshCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// AuthRouteMiddleware wraps individual auth routes. Nil entries leave the
// route unwrapped.
type AuthRouteMiddleware struct {
	SignUp  func(http.Handler) http.Handler
	SignIn  func(http.Handler) http.Handler
	Refresh func(http.Handler) http.Handler
	// SignOut must resolve the caller's identity.
	SignOut func(http.Handler) http.Handler
}

// Routes are mounted under /v1/auth. Only sign-out needs a guard.
func (h *AuthHandler) Routes(mw AuthRouteMiddleware) chi.Router {
	r := chi.NewRouter()

	withOptional(r, mw.SignUp).Post("/signup", h.SignUp)
	withOptional(r, mw.SignIn).Post("/signin", h.SignIn)
	withOptional(r, mw.Refresh).Post("/refresh", h.Refresh)
	withOptional(r, mw.SignOut).Post("/signout", h.SignOut)

	return r
}

func withOptional(r chi.Router, mw func(http.Handler) http.Handler) chi.Router {
	if mw == nil {
		return r
	}
	return r.With(mw)
}
