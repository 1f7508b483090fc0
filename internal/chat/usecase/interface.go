package usecase

import (
	"context"
	"errors"
	"iter"

	"memtex-backend/internal/chat/domain"
)

var (
	ErrEmptyMessage    = errors.New("message is required")
	ErrSessionNotFound = errors.New("chat session not found")
)

// MemoryStorer keeps useful answers as long-term memory.
type MemoryStorer interface {
	StoreMemory(ctx context.Context, userID, text, provider string) (bool, error)
}

// Exchange is one question being answered, tied to a session when the
// caller continues an existing one.
type Exchange struct {
	UserID    string
	Message   string
	SessionID string
	History   []domain.Turn
}

type ChatUsecase interface {
	// Begin validates the message and loads session history.
	Begin(ctx context.Context, userID, message, sessionID string) (*Exchange, error)
	Answer(ctx context.Context, ex *Exchange) iter.Seq2[string, error]
	// Finish persists both turns. created reports whether a new session was opened.
	Finish(ctx context.Context, ex *Exchange, answer string) (sessionID string, created bool, err error)

	ListSessions(ctx context.Context, userID string) ([]*domain.ChatSession, error)
	GetSession(ctx context.Context, userID, id string) (*domain.ChatSession, error)
	DeleteSession(ctx context.Context, userID, id string) error
}
