package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/chatline/chat-server/internal/database"
	"github.com/chatline/chat-server/internal/model"
)

type ChatRepository interface {
	Create(ctx context.Context, params model.CreateChatParams) (*model.Chat, error)
	FindByID(ctx context.Context, id string) (*model.Chat, error)
	FindDirectBetween(ctx context.Context, userA, userB string) (*model.Chat, error)
	ListForUser(ctx context.Context, userID string) ([]model.Chat, error)
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
	FindMember(ctx context.Context, chatID, userID string) (*model.ChatMember, error)
	ListMembers(ctx context.Context, chatID string) ([]model.Profile, error)
	SetMemberDeleted(ctx context.Context, chatID, userID string, deleted bool) error
	AddMembers(ctx context.Context, chatID string, userIDs []string) error
	RemoveMember(ctx context.Context, chatID, userID string) error
	Rename(ctx context.Context, id, name string) (*model.Chat, error)
	UpdateAvatar(ctx context.Context, id, avatarURL string) (*model.Chat, error)
	Delete(ctx context.Context, id string) error
	DeleteAbandonedDirect(ctx context.Context) (int64, error)
}

type chatRepo struct {
	db *sqlx.DB
}

func NewChatRepository(db *sqlx.DB) ChatRepository {
	return &chatRepo{db: db}
}

const insertMemberSQL = `
	INSERT INTO chat_members (chat_id, user_id)
	VALUES ($1, $2)
	ON CONFLICT (chat_id, user_id) DO UPDATE SET is_deleted = FALSE
`

// Create fails with a unique violation when a direct chat for the same pair
// already exists.
func (r *chatRepo) Create(ctx context.Context, params model.CreateChatParams) (*model.Chat, error) {
	var directKey *string
	if params.Type == model.ChatTypeDirect && len(params.MemberIDs) == 2 {
		key := model.DirectKey(params.MemberIDs[0], params.MemberIDs[1])
		directKey = &key
	}

	var chat model.Chat
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &chat, `
			INSERT INTO chats (id, type, name, owner_id, direct_key)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING *
		`, params.ID, params.Type, params.Name, params.OwnerID, directKey); err != nil {
			return err
		}
		for _, userID := range params.MemberIDs {
			if _, err := tx.ExecContext(ctx, insertMemberSQL, chat.ID, userID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *chatRepo) FindByID(ctx context.Context, id string) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT * FROM chats WHERE id = $1`, id)
	return HandleNotFound(&chat, err)
}

// FindDirectBetween ignores soft deletes so a removed conversation can be
// restored instead of duplicated.
func (r *chatRepo) FindDirectBetween(ctx context.Context, userA, userB string) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.GetContext(ctx, &chat, `
		SELECT c.* FROM chats c
		JOIN chat_members a ON a.chat_id = c.id AND a.user_id = $1
		JOIN chat_members b ON b.chat_id = c.id AND b.user_id = $2
		WHERE c.type = 'direct'
		LIMIT 1
	`, userA, userB)
	return HandleNotFound(&chat, err)
}

func (r *chatRepo) ListForUser(ctx context.Context, userID string) ([]model.Chat, error) {
	chats := []model.Chat{}
	err := r.db.SelectContext(ctx, &chats, `
		SELECT c.* FROM chats c
		JOIN chat_members m ON m.chat_id = c.id
		WHERE m.user_id = $1 AND m.is_deleted = FALSE
		ORDER BY c.updated_at DESC
	`, userID)
	return chats, err
}

func (r *chatRepo) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM chat_members
			WHERE chat_id = $1 AND user_id = $2 AND is_deleted = FALSE
		)
	`, chatID, userID)
	return exists, err
}

func (r *chatRepo) FindMember(ctx context.Context, chatID, userID string) (*model.ChatMember, error) {
	var member model.ChatMember
	err := r.db.GetContext(ctx, &member, `
		SELECT * FROM chat_members WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID)
	return HandleNotFound(&member, err)
}

func (r *chatRepo) ListMembers(ctx context.Context, chatID string) ([]model.Profile, error) {
	profiles := []model.Profile{}
	err := r.db.SelectContext(ctx, &profiles, `
		SELECT u.id, u.name, u.avatar_url FROM users u
		JOIN chat_members m ON m.user_id = u.id
		WHERE m.chat_id = $1 AND m.is_deleted = FALSE
		ORDER BY m.joined_at ASC
	`, chatID)
	return profiles, err
}

func (r *chatRepo) SetMemberDeleted(ctx context.Context, chatID, userID string, deleted bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE chat_members SET is_deleted = $3
		WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID, deleted)
	return err
}

func (r *chatRepo) AddMembers(ctx context.Context, chatID string, userIDs []string) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for _, userID := range userIDs {
			if _, err := tx.ExecContext(ctx, insertMemberSQL, chatID, userID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *chatRepo) RemoveMember(ctx context.Context, chatID, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM chat_members WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID)
	return err
}

func (r *chatRepo) Rename(ctx context.Context, id, name string) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.GetContext(ctx, &chat, `
		UPDATE chats SET name = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING *
	`, id, name)
	return HandleNotFound(&chat, err)
}

func (r *chatRepo) UpdateAvatar(ctx context.Context, id, avatarURL string) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.GetContext(ctx, &chat, `
		UPDATE chats SET avatar_url = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING *
	`, id, avatarURL)
	return HandleNotFound(&chat, err)
}

func (r *chatRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM chats WHERE id = $1`, id)
	return err
}

// DeleteAbandonedDirect removes direct chats every member has soft-deleted.
func (r *chatRepo) DeleteAbandonedDirect(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM chats c
		WHERE c.type = 'direct'
		AND NOT EXISTS (
			SELECT 1 FROM chat_members m
			WHERE m.chat_id = c.id AND m.is_deleted = FALSE
		)
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
