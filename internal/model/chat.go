package model

import "time"

type Chat struct {
	ID        string    `db:"id" json:"id"`
	Type      ChatType  `db:"type" json:"type"`
	Name      *string   `db:"name" json:"name,omitempty"`
	AvatarURL *string   `db:"avatar_url" json:"avatarUrl,omitempty"`
	OwnerID   *string   `db:"owner_id" json:"userUuid,omitempty"`
	DirectKey *string   `db:"direct_key" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

func (c *Chat) IsGroup() bool {
	return c.Type == ChatTypeGroup
}

func (c *Chat) IsOwner(userID string) bool {
	return c.OwnerID != nil && *c.OwnerID == userID
}

// DirectKey names the unordered user pair of a direct chat. The database
// keeps it unique so a pair has at most one direct chat.
func DirectKey(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}

// ChatMember is one row of the membership relation. IsDeleted marks a
// per-user soft delete of a direct chat.
type ChatMember struct {
	ChatID    string    `db:"chat_id" json:"chatId"`
	UserID    string    `db:"user_id" json:"userId"`
	IsDeleted bool      `db:"is_deleted" json:"isDeleted"`
	JoinedAt  time.Time `db:"joined_at" json:"joinedAt"`
}

type ChatDetails struct {
	Chat
	Members []Profile `json:"members"`
}

type CreateChatParams struct {
	ID        string
	Type      ChatType
	Name      *string
	OwnerID   *string
	MemberIDs []string
}
