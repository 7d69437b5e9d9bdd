package model

import "time"

// Message is immutable once created. UserName and AvatarURL are read from
// the sender's profile, not stored on the row.
type Message struct {
	ID            string         `db:"id" json:"id"`
	ChatID        string         `db:"chat_id" json:"chatId"`
	UserID        string         `db:"user_id" json:"userId"`
	UserName      string         `db:"user_name" json:"userName"`
	AvatarURL     *string        `db:"avatar_url" json:"avatarUrl"`
	Content       string         `db:"content" json:"content"`
	IsRead        bool           `db:"is_read" json:"isRead"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
	AttachedFiles []AttachedFile `db:"-" json:"attachedFiles"`
}

type AttachedFile struct {
	ID          string    `db:"id" json:"id"`
	MessageID   string    `db:"message_id" json:"messageId"`
	FileName    string    `db:"file_name" json:"fileName"`
	FileURL     string    `db:"file_url" json:"fileUrl"`
	ContentType string    `db:"content_type" json:"contentType"`
	Size        int64     `db:"size" json:"size"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

type CreateMessageParams struct {
	ID      string
	ChatID  string
	UserID  string
	Content string
}

type CreateFileParams struct {
	ID          string
	MessageID   string
	FileName    string
	FileURL     string
	ContentType string
	Size        int64
}

// TypingEvent is never persisted; it only exists as a bus payload.
type TypingEvent struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}
