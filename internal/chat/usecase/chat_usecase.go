package usecase

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"memtex-backend/internal/chat/domain"
	"memtex-backend/internal/chat/repository"
	"memtex-backend/pkg/logger"
)

const (
	sessionListLimit = 50
	titleLength      = 60
	// answers are stored without a source provider tag
	memoryProvider = ""
)

type chatUsecase struct {
	sessions     repository.SessionRepository
	orchestrator *Orchestrator
	memory       MemoryStorer
	log          *logger.Logger
}

func NewChatUsecase(sessions repository.SessionRepository, orchestrator *Orchestrator, memory MemoryStorer, log *logger.Logger) ChatUsecase {
	return &chatUsecase{
		sessions:     sessions,
		orchestrator: orchestrator,
		memory:       memory,
		log:          log.With("service", "ChatUsecase"),
	}
}

func (u *chatUsecase) Begin(ctx context.Context, userID, message, sessionID string) (*Exchange, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	ex := &Exchange{UserID: userID, Message: message}
	if sessionID == "" {
		return ex, nil
	}

	s, err := u.sessions.FindByID(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat session: %w", err)
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	ex.SessionID = s.ID
	ex.History = s.Messages
	return ex, nil
}

func (u *chatUsecase) Answer(ctx context.Context, ex *Exchange) iter.Seq2[string, error] {
	return u.orchestrator.Stream(ctx, ex.UserID, ex.Message, ex.History)
}

func (u *chatUsecase) Finish(ctx context.Context, ex *Exchange, answer string) (string, bool, error) {
	turns := []domain.Turn{
		{Role: domain.RoleUser, Content: ex.Message},
		{Role: domain.RoleAssistant, Content: answer},
	}

	var (
		id      string
		created bool
	)
	if ex.SessionID != "" {
		s, err := u.sessions.FindByID(ctx, ex.UserID, ex.SessionID)
		if err != nil {
			return "", false, fmt.Errorf("failed to load chat session: %w", err)
		}
		if s == nil {
			return "", false, ErrSessionNotFound
		}
		s.Messages = append(s.Messages, turns...)
		if err := u.sessions.Save(ctx, s); err != nil {
			return "", false, fmt.Errorf("failed to save chat session: %w", err)
		}
		id = s.ID
	} else {
		s := &domain.ChatSession{
			UserID:   ex.UserID,
			Title:    sessionTitle(ex.Message),
			Messages: turns,
		}
		if err := u.sessions.Create(ctx, s); err != nil {
			return "", false, fmt.Errorf("failed to create chat session: %w", err)
		}
		id, created = s.ID, true
	}

	if answer != ExhaustedNotice && u.memory != nil {
		if _, err := u.memory.StoreMemory(ctx, ex.UserID, answer, memoryProvider); err != nil {
			u.log.Warn("failed to store answer as memory", "session_id", id, "error", err)
		}
	}
	return id, created, nil
}

func (u *chatUsecase) ListSessions(ctx context.Context, userID string) ([]*domain.ChatSession, error) {
	return u.sessions.List(ctx, userID, sessionListLimit)
}

func (u *chatUsecase) GetSession(ctx context.Context, userID, id string) (*domain.ChatSession, error) {
	s, err := u.sessions.FindByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (u *chatUsecase) DeleteSession(ctx context.Context, userID, id string) error {
	deleted, err := u.sessions.Delete(ctx, userID, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrSessionNotFound
	}
	return nil
}

func sessionTitle(message string) string {
	r := []rune(strings.Join(strings.Fields(message), " "))
	if len(r) > titleLength {
		return string(r[:titleLength]) + "..."
	}
	return string(r)
}
