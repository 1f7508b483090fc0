package usecase

import (
	"context"

	"memtex-backend/internal/conversation/domain"
)

// ValidationError is an input error rejected before any side effect.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

type SyncInput struct {
	UserID     string
	Provider   string
	Title      string
	ExternalID string
	Messages   []domain.Message
}

type SyncResult struct {
	Conversation *domain.Conversation
	// Created is false when an existing conversation with the same external id was returned.
	Created bool
}

// BatchItem is one conversation in a batch sync. ID and ExternalID are
// interchangeable; ID wins when both are set.
type BatchItem struct {
	ID         string           `json:"id"`
	ExternalID string           `json:"externalId"`
	Title      string           `json:"title"`
	Messages   []domain.Message `json:"messages"`
}

type BatchResult struct {
	Success        bool   `json:"success"`
	ConversationID string `json:"conversationId,omitempty"`
	Title          string `json:"title"`
	Error          string `json:"error,omitempty"`
}

// JobEnqueuer schedules summarization after a conversation is stored.
type JobEnqueuer interface {
	EnqueueSummary(ctx context.Context, conversationID, userID, provider string) (bool, error)
}

// ConversationUsecase is the ingest boundary for synced and imported chats.
type ConversationUsecase interface {
	Sync(ctx context.Context, in SyncInput) (*SyncResult, error)
	SyncBatch(ctx context.Context, userID, provider string, items []BatchItem) ([]BatchResult, error)
	Providers(ctx context.Context, userID string) ([]*domain.SyncProvider, error)
	List(ctx context.Context, userID, provider string, limit, offset int) ([]*domain.Conversation, error)
	// ListAll returns up to limit conversations per active provider.
	ListAll(ctx context.Context, userID string, limit int) (map[domain.Provider][]*domain.Conversation, error)
	Remove(ctx context.Context, userID, provider string) error
	// Get loads a conversation owned by userID, or nil.
	Get(ctx context.Context, userID, provider, id string) (*domain.Conversation, error)
}
