package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/chatline/chat-server/internal/audit"
	apperrors "github.com/chatline/chat-server/internal/errors"
	"github.com/chatline/chat-server/internal/model"
	"github.com/chatline/chat-server/internal/repository"
	"github.com/chatline/chat-server/internal/session"
	"github.com/chatline/chat-server/internal/storage"
	"github.com/chatline/chat-server/internal/util"
)

const (
	minPasswordLength  = 8
	maxPasswordLength  = 72 // bcrypt input limit
	maxNameLength      = 64
	signInMaxFailures  = 10
	signInFailWindow   = 15 * time.Minute
	userSearchLimit    = 20
	minUserQueryLength = 2
)

type SessionIssuer interface {
	Issue(ctx context.Context, userID string) (*session.Session, error)
	Revoke(ctx context.Context, refreshToken string) error
}

// AttemptLimiter throttles repeated failures for one key.
type AttemptLimiter interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time)
	Reset(ctx context.Context, key string)
}

type SignUpParams struct {
	Email    string
	Password string
	Name     string
}

type UserService struct {
	users    repository.UserRepository
	sessions SessionIssuer
	blobs    storage.BlobStore
	limiter  AttemptLimiter
	now      func() time.Time
}

func NewUserService(
	users repository.UserRepository,
	sessions SessionIssuer,
	blobs storage.BlobStore,
	limiter AttemptLimiter,
) *UserService {
	return &UserService{
		users:    users,
		sessions: sessions,
		blobs:    blobs,
		limiter:  limiter,
		now:      time.Now,
	}
}

func (s *UserService) SignUp(ctx context.Context, params SignUpParams) (*model.User, *session.Session, error) {
	email, err := validEmail(params.Email)
	if err != nil {
		return nil, nil, err
	}
	if err := validPassword(params.Password); err != nil {
		return nil, nil, err
	}
	name, err := validUserName(params.Name)
	if err != nil {
		return nil, nil, err
	}

	hash, err := util.HashPassword(params.Password)
	if err != nil {
		log.Error().Err(err).Msg("failed to hash password")
		return nil, nil, apperrors.Internal("Failed to create account").WithCause(err)
	}

	user, err := s.users.Create(ctx, model.CreateUserParams{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: hash,
		Name:         name,
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, nil, apperrors.AlreadyExists("User")
		}
		log.Error().Err(err).Msg("failed to create user")
		return nil, nil, apperrors.Database(err)
	}

	sess, err := s.issue(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}

	audit.Log(ctx, audit.Event{Type: audit.EventSignUp, UserID: user.ID})
	return user, sess, nil
}

// SignIn checks credentials and opens a session. Unknown email and wrong
// password produce the same error.
func (s *UserService) SignIn(ctx context.Context, email, password string) (*model.User, *session.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, nil, apperrors.MissingRequired("email and password")
	}

	limitKey := "signin:" + email
	if s.limiter != nil {
		if ok, resetAt := s.limiter.CheckLimit(ctx, limitKey, signInMaxFailures, signInFailWindow); !ok {
			audit.Log(ctx, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]interface{}{"scope": "signin", "reset_at": resetAt},
			})
			return nil, nil, apperrors.RateLimitExceeded()
		}
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		log.Error().Err(err).Msg("failed to load user for sign in")
		return nil, nil, apperrors.Database(err)
	}
	if user == nil || !util.CheckPasswordHash(password, user.PasswordHash) {
		audit.Log(ctx, audit.Event{
			Type:    audit.EventLoginFailure,
			Details: map[string]interface{}{"known_user": user != nil},
		})
		return nil, nil, apperrors.New(apperrors.ErrCodeUnauthorized, "Invalid email or password")
	}

	if s.limiter != nil {
		s.limiter.Reset(ctx, limitKey)
	}

	sess, err := s.issue(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}

	audit.Log(ctx, audit.Event{Type: audit.EventLoginSuccess, UserID: user.ID})
	return user, sess, nil
}

func (s *UserService) SignOut(ctx context.Context, userID, refreshToken string) error {
	if err := s.sessions.Revoke(ctx, refreshToken); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to revoke refresh token")
		return apperrors.Internal("Failed to sign out").WithCause(err)
	}
	audit.Log(ctx, audit.Event{Type: audit.EventLogout, UserID: userID})
	return nil
}

func (s *UserService) Me(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to load user")
		return nil, apperrors.Database(err)
	}
	if user == nil {
		return nil, apperrors.NotFound("User")
	}
	return user, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID, name string) (*model.User, error) {
	name, err := validUserName(name)
	if err != nil {
		return nil, err
	}

	user, err := s.users.UpdateName(ctx, userID, name)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to update profile")
		return nil, apperrors.Database(err)
	}
	if user == nil {
		return nil, apperrors.NotFound("User")
	}
	return user, nil
}

func (s *UserService) UploadAvatar(ctx context.Context, userID, fileName, contentType string, data []byte) (*model.User, error) {
	if len(data) == 0 {
		return nil, apperrors.MissingRequired("avatar")
	}

	objectPath := fmt.Sprintf("avatars/%s/%s", userID, uniqueObjectName(s.now(), fileName))
	if err := s.blobs.Upload(ctx, objectPath, data, contentType); err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to upload avatar")
		return nil, apperrors.Storage(err)
	}

	user, err := s.users.UpdateAvatar(ctx, userID, s.blobs.PublicURL(objectPath))
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to update avatar")
		return nil, apperrors.Database(err)
	}
	if user == nil {
		return nil, apperrors.NotFound("User")
	}
	return user, nil
}

// SearchUsers matches name or email, excluding the caller.
func (s *UserService) SearchUsers(ctx context.Context, userID, query string) ([]model.Profile, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < minUserQueryLength {
		return []model.Profile{}, nil
	}

	profiles, err := s.users.Search(ctx, query, userID, userSearchLimit)
	if err != nil {
		log.Error().Err(err).Msg("failed to search users")
		return nil, apperrors.Database(err)
	}
	return profiles, nil
}

func (s *UserService) issue(ctx context.Context, userID string) (*session.Session, error) {
	sess, err := s.sessions.Issue(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to issue session")
		return nil, apperrors.Internal("Failed to create session").WithCause(err)
	}
	return sess, nil
}

func validEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperrors.MissingRequired("email")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperrors.InvalidInput("email", "must be a valid address")
	}
	return email, nil
}

func validPassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidInput("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	if len(password) > maxPasswordLength {
		return apperrors.InvalidInput("password", fmt.Sprintf("must be at most %d bytes", maxPasswordLength))
	}
	return nil
}

func validUserName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperrors.MissingRequired("name")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", apperrors.InvalidInput("name", fmt.Sprintf("must be at most %d characters", maxNameLength))
	}
	return name, nil
}
