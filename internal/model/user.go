package model

import "time"

type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Name         string    `db:"name" json:"name"`
	AvatarURL    *string   `db:"avatar_url" json:"avatarUrl,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// Profile is the public view of a user shown to other chat members.
type Profile struct {
	ID        string  `db:"id" json:"id"`
	Name      string  `db:"name" json:"name"`
	AvatarURL *string `db:"avatar_url" json:"avatarUrl,omitempty"`
}

type CreateUserParams struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
}
