package delivery

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"memtex-backend/internal/chat/usecase"
	"memtex-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	usecase usecase.ChatUsecase
	log     *logger.Logger
}

func NewChatHandler(uc usecase.ChatUsecase, log *logger.Logger) *ChatHandler {
	return &ChatHandler{usecase: uc, log: log.With("service", "ChatHandler")}
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
}

// Chat streams a memory-grounded answer as server-sent events
// POST /api/chat
func (h *ChatHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message is required"})
		return
	}

	ctx := c.Request.Context()
	userID := c.GetString("userID")
	ex, err := h.usecase.Begin(ctx, userID, req.Message, req.ConversationID)
	switch {
	case errors.Is(err, usecase.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message is required"})
		return
	case errors.Is(err, usecase.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	case err != nil:
		h.log.Error("failed to start chat", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process chat"})
		return
	}

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	var answer strings.Builder
	for chunk, err := range h.usecase.Answer(ctx, ex) {
		if err != nil {
			h.log.Error("chat stream failed", "user_id", userID, "error", err)
			writeEvent(c, gin.H{"error": "Stream interrupted"})
			return
		}
		answer.WriteString(chunk)
		writeEvent(c, gin.H{"chunk": chunk})
	}
	if ctx.Err() != nil {
		return
	}

	id, created, err := h.usecase.Finish(ctx, ex, answer.String())
	if err != nil {
		h.log.Error("failed to persist chat", "user_id", userID, "error", err)
		writeEvent(c, gin.H{"error": "Failed to save conversation"})
		return
	}
	if created {
		writeEvent(c, gin.H{"conversationId": id})
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	w.Flush()
}

func writeEvent(c *gin.Context, payload gin.H) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", raw)
	c.Writer.Flush()
}

// ListSessions returns the caller's chat sessions without transcripts
// GET /api/chat/sessions
func (h *ChatHandler) ListSessions(c *gin.Context) {
	sessions, err := h.usecase.ListSessions(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		h.log.Error("failed to list sessions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": sessions})
}

// GetSession returns one session with its full transcript
// GET /api/chat/sessions/:id
func (h *ChatHandler) GetSession(c *gin.Context) {
	s, err := h.usecase.GetSession(c.Request.Context(), c.GetString("userID"), c.Param("id"))
	if errors.Is(err, usecase.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	if err != nil {
		h.log.Error("failed to load session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load conversation"})
		return
	}
	c.JSON(http.StatusOK, s)
}

// DeleteSession removes one session
// DELETE /api/chat/sessions/:id
func (h *ChatHandler) DeleteSession(c *gin.Context) {
	err := h.usecase.DeleteSession(c.Request.Context(), c.GetString("userID"), c.Param("id"))
	if errors.Is(err, usecase.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	if err != nil {
		h.log.Error("failed to delete session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
