package delivery

import (
	"context"
	"net/http"
	"time"

	"memtex-backend/internal/memory/domain"
	"memtex-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

const latestMemories = 20

// MemoryService is what the memory endpoints need from the usecase layer.
type MemoryService interface {
	StoreMemory(ctx context.Context, userID, text, provider string) (bool, error)
	Latest(ctx context.Context, userID string, limit int) ([]*domain.TopicSummary, error)
}

type MemoryHandler struct {
	service MemoryService
	log     *logger.Logger
}

func NewMemoryHandler(service MemoryService, log *logger.Logger) *MemoryHandler {
	return &MemoryHandler{service: service, log: log.With("service", "MemoryHandler")}
}

type memoryItem struct {
	Topic     string    `json:"topic"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"createdAt"`
}

type storeRequest struct {
	Text     string `json:"text" binding:"required"`
	Provider string `json:"provider"`
}

// List returns the latest stored memories of the caller
// GET /api/memory
func (h *MemoryHandler) List(c *gin.Context) {
	rows, err := h.service.Latest(c.Request.Context(), c.GetString("userID"), latestMemories)
	if err != nil {
		h.log.Error("failed to load memory", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load memory"})
		return
	}

	items := make([]memoryItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, memoryItem{Topic: r.Topic, Summary: r.Summary, CreatedAt: r.CreatedAt})
	}
	c.JSON(http.StatusOK, gin.H{"memories": items})
}

// Store saves an explicit memory
// POST /api/memory
func (h *MemoryHandler) Store(c *gin.Context) {
	var req storeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	stored, err := h.service.StoreMemory(c.Request.Context(), c.GetString("userID"), req.Text, req.Provider)
	if err != nil {
		h.log.Error("failed to store memory", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store memory"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stored": stored})
}
