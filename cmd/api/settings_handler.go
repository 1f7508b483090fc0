package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"memtex-backend/pkg/ai"

	"github.com/gin-gonic/gin"
)

// RuntimeSettings holds the local Ollama fallback target, adjustable while
// the server runs. The AI generator factory reads it through the getters.
type RuntimeSettings struct {
	mu            sync.RWMutex
	ollamaBaseURL string
	ollamaModel   string
}

func NewRuntimeSettings(ollamaBaseURL, ollamaModel string) *RuntimeSettings {
	return &RuntimeSettings{ollamaBaseURL: ollamaBaseURL, ollamaModel: ollamaModel}
}

func (s *RuntimeSettings) OllamaBaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ollamaBaseURL
}

func (s *RuntimeSettings) OllamaModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ollamaModel
}

func (s *RuntimeSettings) update(baseURL, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ollamaBaseURL = baseURL
	if model != "" {
		s.ollamaModel = model
	}
}

type SettingsHandler struct {
	settings *RuntimeSettings
}

func NewSettingsHandler(settings *RuntimeSettings) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

type updateOllamaRequest struct {
	OllamaBaseURL string `json:"ollama_base_url" binding:"required"`
	OllamaModel   string `json:"ollama_model,omitempty"`
}

// GetOllama returns current Ollama configuration
// GET /api/settings/ollama
func (h *SettingsHandler) GetOllama(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ollama_base_url": h.settings.OllamaBaseURL(),
		"ollama_model":    h.settings.OllamaModel(),
	})
}

// UpdateOllama updates Ollama configuration at runtime
// PUT /api/settings/ollama
func (h *SettingsHandler) UpdateOllama(c *gin.Context) {
	var req updateOllamaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ollama_base_url is required"})
		return
	}
	h.settings.update(req.OllamaBaseURL, req.OllamaModel)

	c.JSON(http.StatusOK, gin.H{
		"message":         "Ollama settings updated successfully",
		"ollama_base_url": h.settings.OllamaBaseURL(),
		"ollama_model":    h.settings.OllamaModel(),
	})
}

// TestOllama checks that the Ollama server is reachable and has the model
// POST /api/settings/ollama/test
func (h *SettingsHandler) TestOllama(c *gin.Context) {
	var req struct {
		OllamaBaseURL string `json:"ollama_base_url"`
		OllamaModel   string `json:"ollama_model"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.OllamaBaseURL == "" {
		req.OllamaBaseURL = h.settings.OllamaBaseURL()
	}
	if req.OllamaModel == "" {
		req.OllamaModel = h.settings.OllamaModel()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := ai.NewOllamaService(req.OllamaBaseURL, req.OllamaModel).Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"connected": false,
			"error":     err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"connected":       true,
		"ollama_base_url": req.OllamaBaseURL,
		"ollama_model":    req.OllamaModel,
	})
}
