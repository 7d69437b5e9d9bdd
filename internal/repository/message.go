package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/chatline/chat-server/internal/model"
)

type MessageRepository interface {
	Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error)
	FindByChat(ctx context.Context, chatID string, limit, offset int) ([]model.Message, error)
	Search(ctx context.Context, chatID, query string, limit int) ([]model.Message, error)
	MarkRead(ctx context.Context, chatID, readerID string) (int64, error)
	Delete(ctx context.Context, id string) error
}

type messageRepo struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) MessageRepository {
	return &messageRepo{db: db}
}

const messageColumns = `
	m.id, m.chat_id, m.user_id, u.name AS user_name, u.avatar_url,
	m.content, m.is_read, m.created_at
`

func (r *messageRepo) Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error) {
	var msg model.Message
	err := r.db.GetContext(ctx, &msg, `
		WITH m AS (
			INSERT INTO messages (id, chat_id, user_id, content)
			VALUES ($1, $2, $3, $4)
			RETURNING *
		)
		SELECT `+messageColumns+`
		FROM m JOIN users u ON u.id = m.user_id
	`, params.ID, params.ChatID, params.UserID, params.Content)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepo) FindByChat(ctx context.Context, chatID string, limit, offset int) ([]model.Message, error) {
	msgs := []model.Message{}
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT `+messageColumns+`
		FROM messages m JOIN users u ON u.id = m.user_id
		WHERE m.chat_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2 OFFSET $3
	`, chatID, limit, offset)
	return msgs, err
}

func (r *messageRepo) Search(ctx context.Context, chatID, query string, limit int) ([]model.Message, error) {
	msgs := []model.Message{}
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT `+messageColumns+`
		FROM messages m JOIN users u ON u.id = m.user_id
		WHERE m.chat_id = $1 AND m.content ILIKE $2 ESCAPE '\'
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $3
	`, chatID, containsPattern(query), limit)
	return msgs, err
}

// MarkRead flags every message in the chat not sent by readerID as read.
func (r *messageRepo) MarkRead(ctx context.Context, chatID, readerID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE chat_id = $1 AND user_id <> $2 AND is_read = FALSE
	`, chatID, readerID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Delete removes a message and, by cascade, its file rows.
func (r *messageRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id)
	return err
}
