package domain

import "time"

// ModelRawTruncation marks a summary that fell back to raw transcript text.
const ModelRawTruncation = "raw-truncation"

// ConversationSummary is the compressed long-term memory of one synced
// conversation. Vectorized flips true only after its vector is indexed.
type ConversationSummary struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	UserID         string    `json:"userId" gorm:"index;not null"`
	Provider       string    `json:"provider" gorm:"not null"`
	ConversationID string    `json:"conversationId" gorm:"index;not null"`
	Summary        string    `json:"summary" gorm:"type:text"`
	ModelUsed      string    `json:"modelUsed"`
	Vectorized     bool      `json:"vectorized" gorm:"index;not null;default:false"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (ConversationSummary) TableName() string {
	return "conversation_summaries"
}

// TopicSummary is an ad hoc long-term fact, usually a stored assistant answer.
type TopicSummary struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"userId" gorm:"index;not null"`
	Provider  *string   `json:"provider,omitempty"`
	Topic     string    `json:"topic"`
	Summary   string    `json:"summary" gorm:"type:text"`
	CreatedAt time.Time `json:"createdAt"`
}

func (TopicSummary) TableName() string {
	return "topic_summaries"
}
