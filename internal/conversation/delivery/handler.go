package delivery

import (
	"bufio"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"memtex-backend/internal/conversation/domain"
	"memtex-backend/internal/conversation/usecase"

	"github.com/gin-gonic/gin"
)

// SyncHandler serves the sync and import endpoints used by the extension.
type SyncHandler struct {
	usecase usecase.ConversationUsecase
}

func NewSyncHandler(uc usecase.ConversationUsecase) *SyncHandler {
	return &SyncHandler{usecase: uc}
}

type syncRequest struct {
	Title      string           `json:"title"`
	ID         string           `json:"id"`
	ExternalID string           `json:"externalId"`
	Messages   []domain.Message `json:"messages"`
}

type batchRequest struct {
	Conversations []usecase.BatchItem `json:"conversations"`
}

type importRequest struct {
	Provider string           `json:"provider"`
	Title    string           `json:"title"`
	Messages []domain.Message `json:"messages"`
}

func respondError(c *gin.Context, err error, fallback string) {
	var verr *usecase.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
}

// Sync stores one conversation
// POST /api/sync/:provider
func (h *SyncHandler) Sync(c *gin.Context) {
	provider := c.Param("provider")
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	externalID := req.ID
	if externalID == "" {
		externalID = req.ExternalID
	}
	res, err := h.usecase.Sync(c.Request.Context(), usecase.SyncInput{
		UserID:     c.GetString("userID"),
		Provider:   provider,
		Title:      req.Title,
		ExternalID: externalID,
		Messages:   req.Messages,
	})
	if err != nil {
		respondError(c, err, "Failed to sync conversation")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"conversationId": res.Conversation.ID,
		"provider":       provider,
	})
}

// SyncBatch stores many conversations, reporting per item
// POST /api/sync/:provider/batch
func (h *SyncHandler) SyncBatch(c *gin.Context) {
	provider := c.Param("provider")
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	results, err := h.usecase.SyncBatch(c.Request.Context(), c.GetString("userID"), provider, req.Conversations)
	if err != nil {
		respondError(c, err, "Failed to sync conversations")
		return
	}

	synced := 0
	for _, r := range results {
		if r.Success {
			synced++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"provider": provider,
		"total":    len(req.Conversations),
		"synced":   synced,
		"failed":   len(results) - synced,
		"results":  results,
	})
}

// Providers lists the caller's active providers
// GET /api/sync/providers
func (h *SyncHandler) Providers(c *gin.Context) {
	providers, err := h.usecase.Providers(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get providers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers})
}

// List returns one provider's conversations
// GET /api/sync/:provider/conversations?limit=20&offset=0
func (h *SyncHandler) List(c *gin.Context) {
	provider := c.Param("provider")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	convs, err := h.usecase.List(c.Request.Context(), c.GetString("userID"), provider, limit, offset)
	if err != nil {
		respondError(c, err, "Failed to get conversations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": provider, "conversations": convs})
}

// ListAll returns conversations grouped by active provider
// GET /api/sync/conversations/all?limit=20
func (h *SyncHandler) ListAll(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	convs, err := h.usecase.ListAll(c.Request.Context(), c.GetString("userID"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// Remove soft deletes a provider sync
// DELETE /api/sync/:provider
func (h *SyncHandler) Remove(c *gin.Context) {
	provider := c.Param("provider")
	err := h.usecase.Remove(c.Request.Context(), c.GetString("userID"), provider)
	if err != nil {
		if errors.Is(err, usecase.ErrSyncNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Sync not found"})
			return
		}
		respondError(c, err, "Failed to remove sync")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": provider + " sync removed"})
}

// Import accepts either a JSON message list or a multipart text file with
// one user message per line
// POST /api/import?provider=chatgpt
func (h *SyncHandler) Import(c *gin.Context) {
	var (
		provider string
		title    string
		messages []domain.Message
	)

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		provider = c.PostForm("provider")
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No data provided"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
			return
		}
		defer f.Close()

		title = fh.Filename
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			messages = append(messages, domain.Message{Role: domain.RoleUser, Content: line})
		}
		if err := scanner.Err(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
			return
		}
	} else {
		var req importRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Messages == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No data provided"})
			return
		}
		provider = req.Provider
		title = req.Title
		messages = req.Messages
	}

	if provider == "" {
		provider = c.Query("provider")
	}
	if provider == "" {
		provider = domain.ProviderChatGPT.String()
	}
	if title == "" {
		title = "Synced " + provider + " Chat"
	}

	res, err := h.usecase.Sync(c.Request.Context(), usecase.SyncInput{
		UserID:   c.GetString("userID"),
		Provider: provider,
		Title:    title,
		Messages: messages,
	})
	if err != nil {
		respondError(c, err, "Storage failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "conversationId": res.Conversation.ID, "provider": provider})
}
