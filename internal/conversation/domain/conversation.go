package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Provider is an external chat source whose transcripts are ingested.
type Provider string

const (
	ProviderChatGPT Provider = "chatgpt"
	ProviderGemini  Provider = "gemini"
	ProviderClaude  Provider = "claude"
)

// Providers lists every valid provider in display order.
var Providers = []Provider{ProviderChatGPT, ProviderGemini, ProviderClaude}

var conversationTables = map[Provider]string{
	ProviderChatGPT: "chatgpt_conversations",
	ProviderGemini:  "gemini_conversations",
	ProviderClaude:  "claude_conversations",
}

// ParseProvider validates a provider tag at the boundary.
func ParseProvider(s string) (Provider, bool) {
	p := Provider(s)
	_, ok := conversationTables[p]
	return p, ok
}

// Table returns the conversation table for p. Callers must have validated p.
func (p Provider) Table() string {
	return conversationTables[p]
}

func (p Provider) String() string { return string(p) }

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is one synced transcript. Each provider has its own table
// with this shape; messages are kept as an ordered JSON array.
type Conversation struct {
	ID         string                       `json:"id" gorm:"primaryKey"`
	UserID     string                       `json:"userId" gorm:"not null"`
	ExternalID *string                      `json:"externalId,omitempty"`
	Title      string                       `json:"title"`
	Messages   datatypes.JSONSlice[Message] `json:"messages"`
	Imported   bool                         `json:"imported"`
	CreatedAt  time.Time                    `json:"createdAt"`
	UpdatedAt  time.Time                    `json:"updatedAt"`

	Provider Provider `json:"provider" gorm:"-"`
}

// SyncProvider records that a user has synced a provider. Rows are soft
// deleted through IsActive.
type SyncProvider struct {
	UserID     string    `json:"userId" gorm:"primaryKey"`
	Provider   Provider  `json:"provider" gorm:"primaryKey"`
	IsActive   bool      `json:"isActive" gorm:"not null;default:true"`
	SyncedAt   time.Time `json:"syncedAt"`
	LastSyncAt time.Time `json:"lastSyncAt"`
}

func (SyncProvider) TableName() string {
	return "sync_providers"
}
