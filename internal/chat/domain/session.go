package domain

import (
	"time"

	"gorm.io/datatypes"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a dashboard chat.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatSession is a conversation held with Memtex itself, as opposed to the
// provider conversations that get synced in.
type ChatSession struct {
	ID        string                    `json:"id" gorm:"primaryKey"`
	UserID    string                    `json:"userId" gorm:"index;not null"`
	Title     string                    `json:"title"`
	Messages  datatypes.JSONSlice[Turn] `json:"messages,omitempty"`
	CreatedAt time.Time                 `json:"createdAt"`
	UpdatedAt time.Time                 `json:"updatedAt"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}
