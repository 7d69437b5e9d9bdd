package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/chatline/chat-server/internal/model"
)

type FileRepository interface {
	Create(ctx context.Context, params model.CreateFileParams) (*model.AttachedFile, error)
	FindByMessageIDs(ctx context.Context, messageIDs []string) ([]model.AttachedFile, error)
}

type fileRepo struct {
	db *sqlx.DB
}

func NewFileRepository(db *sqlx.DB) FileRepository {
	return &fileRepo{db: db}
}

func (r *fileRepo) Create(ctx context.Context, params model.CreateFileParams) (*model.AttachedFile, error) {
	var file model.AttachedFile
	err := r.db.GetContext(ctx, &file, `
		INSERT INTO message_files (id, message_id, file_name, file_url, content_type, size)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, params.ID, params.MessageID, params.FileName, params.FileURL, params.ContentType, params.Size)
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *fileRepo) FindByMessageIDs(ctx context.Context, messageIDs []string) ([]model.AttachedFile, error) {
	files := []model.AttachedFile{}
	if len(messageIDs) == 0 {
		return files, nil
	}
	err := r.db.SelectContext(ctx, &files, `
		SELECT * FROM message_files
		WHERE message_id = ANY($1)
		ORDER BY id ASC
	`, pq.Array(messageIDs))
	return files, err
}
