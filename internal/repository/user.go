package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/chatline/chat-server/internal/model"
)

type UserRepository interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Create(ctx context.Context, params model.CreateUserParams) (*model.User, error)
	UpdateName(ctx context.Context, id, name string) (*model.User, error)
	UpdateAvatar(ctx context.Context, id, avatarURL string) (*model.User, error)
	Search(ctx context.Context, query, excludeID string, limit int) ([]model.Profile, error)
}

type userRepo struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = $1`, id)
	return HandleNotFound(&user, err)
}

func (r *userRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `SELECT * FROM users WHERE email = LOWER($1)`, email)
	return HandleNotFound(&user, err)
}

func (r *userRepo) Create(ctx context.Context, params model.CreateUserParams) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		INSERT INTO users (id, email, password_hash, name)
		VALUES ($1, LOWER($2), $3, $4)
		RETURNING *
	`, params.ID, params.Email, params.PasswordHash, params.Name)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepo) UpdateName(ctx context.Context, id, name string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		UPDATE users SET name = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING *
	`, id, name)
	return HandleNotFound(&user, err)
}

func (r *userRepo) UpdateAvatar(ctx context.Context, id, avatarURL string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		UPDATE users SET avatar_url = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING *
	`, id, avatarURL)
	return HandleNotFound(&user, err)
}

func (r *userRepo) Search(ctx context.Context, query, excludeID string, limit int) ([]model.Profile, error) {
	profiles := []model.Profile{}
	err := r.db.SelectContext(ctx, &profiles, `
		SELECT id, name, avatar_url FROM users
		WHERE id <> $1 AND (name ILIKE $2 ESCAPE '\' OR email ILIKE $2 ESCAPE '\')
		ORDER BY name ASC
		LIMIT $3
	`, excludeID, containsPattern(query), limit)
	return profiles, err
}
