package delivery

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"memtex-backend/internal/chat/domain"
	"memtex-backend/internal/chat/usecase"
	"memtex-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChat struct {
	chunks    []string
	streamErr error
	beginErr  error
	sessionID string
	finished  string
}

func (s *stubChat) Begin(ctx context.Context, userID, message, sessionID string) (*usecase.Exchange, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &usecase.Exchange{UserID: userID, Message: message, SessionID: sessionID}, nil
}

func (s *stubChat) Answer(ctx context.Context, ex *usecase.Exchange) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, c := range s.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if s.streamErr != nil {
			yield("", s.streamErr)
		}
	}
}

func (s *stubChat) Finish(ctx context.Context, ex *usecase.Exchange, answer string) (string, bool, error) {
	s.finished = answer
	if ex.SessionID != "" {
		return ex.SessionID, false, nil
	}
	return s.sessionID, true, nil
}

func (s *stubChat) ListSessions(ctx context.Context, userID string) ([]*domain.ChatSession, error) {
	return []*domain.ChatSession{{ID: "s1", UserID: userID, Title: "t"}}, nil
}

func (s *stubChat) GetSession(ctx context.Context, userID, id string) (*domain.ChatSession, error) {
	if id != "s1" {
		return nil, usecase.ErrSessionNotFound
	}
	return &domain.ChatSession{ID: "s1", UserID: userID, Messages: []domain.Turn{{Role: domain.RoleUser, Content: "hi"}}}, nil
}

func (s *stubChat) DeleteSession(ctx context.Context, userID, id string) error {
	if id != "s1" {
		return usecase.ErrSessionNotFound
	}
	return nil
}

func newRouter(uc usecase.ChatUsecase) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewChatHandler(uc, logger.Nop())
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("userID", "u1"); c.Next() })
	r.POST("/api/chat", h.Chat)
	r.GET("/api/chat/sessions", h.ListSessions)
	r.GET("/api/chat/sessions/:id", h.GetSession)
	r.DELETE("/api/chat/sessions/:id", h.DeleteSession)
	return r
}

func postChat(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestChatStreamsFramesAndNewSessionID(t *testing.T) {
	uc := &stubChat{chunks: []string{"Hello", " world"}, sessionID: "new-1"}
	w := postChat(newRouter(uc), `{"message":"hi"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	want := "data: {\"chunk\":\"Hello\"}\n\n" +
		"data: {\"chunk\":\" world\"}\n\n" +
		"data: {\"conversationId\":\"new-1\"}\n\n" +
		"data: [DONE]\n\n"
	assert.Equal(t, want, w.Body.String())
	assert.Equal(t, "Hello world", uc.finished)
}

func TestChatExistingSessionOmitsConversationFrame(t *testing.T) {
	uc := &stubChat{chunks: []string{"ok"}}
	w := postChat(newRouter(uc), `{"message":"hi","conversationId":"s1"}`)
	assert.NotContains(t, w.Body.String(), "conversationId")
	assert.True(t, strings.HasSuffix(w.Body.String(), "data: [DONE]\n\n"))
}

func TestChatStreamErrorFrame(t *testing.T) {
	uc := &stubChat{chunks: []string{"part"}, streamErr: errors.New("boom")}
	w := postChat(newRouter(uc), `{"message":"hi"}`)

	body := w.Body.String()
	assert.Contains(t, body, `data: {"error":"Stream interrupted"}`)
	assert.NotContains(t, body, "[DONE]")
	assert.Empty(t, uc.finished)
}

func TestChatValidation(t *testing.T) {
	w := postChat(newRouter(&stubChat{beginErr: usecase.ErrEmptyMessage}), `{"message":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Message is required"}`, w.Body.String())

	w = postChat(newRouter(&stubChat{beginErr: usecase.ErrSessionNotFound}), `{"message":"hi","conversationId":"x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = postChat(newRouter(&stubChat{}), `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionEndpoints(t *testing.T) {
	r := newRouter(&stubChat{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/chat/sessions", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"s1"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/chat/sessions/s1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"messages":[{"role":"user","content":"hi"}]`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/chat/sessions/zzz", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/chat/sessions/s1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/chat/sessions/zzz", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
