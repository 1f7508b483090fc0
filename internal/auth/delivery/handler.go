package delivery

import (
	"errors"
	"net/http"

	authdto "memtex-backend/internal/auth/dto"
	"memtex-backend/internal/auth/usecase"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	authUsecase usecase.AuthUsecase
}

func NewAuthHandler(authUsecase usecase.AuthUsecase) *AuthHandler {
	return &AuthHandler{authUsecase: authUsecase}
}

// ListKeys returns the caller's API keys
// GET /api/user/keys
func (h *AuthHandler) ListKeys(c *gin.Context) {
	keys, err := h.authUsecase.ListAPIKeys(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := authdto.APIKeyListResponse{Keys: make([]authdto.APIKeyResponse, 0, len(keys))}
	for _, k := range keys {
		resp.Keys = append(resp.Keys, authdto.APIKeyResponse{Key: k.Key, CreatedAt: k.CreatedAt})
	}
	c.JSON(http.StatusOK, resp)
}

// CreateKey mints a new API key
// POST /api/user/keys
func (h *AuthHandler) CreateKey(c *gin.Context) {
	key, err := h.authUsecase.GenerateAPIKey(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, authdto.APIKeyResponse{Key: key.Key, CreatedAt: key.CreatedAt})
}

// DeleteKey revokes one of the caller's keys
// DELETE /api/user/keys/:key
func (h *AuthHandler) DeleteKey(c *gin.Context) {
	err := h.authUsecase.DeleteAPIKey(c.Request.Context(), c.GetString("userID"), c.Param("key"))
	if err != nil {
		if errors.Is(err, usecase.ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
