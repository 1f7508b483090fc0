package delivery

import (
	"errors"
	"net/http"
	"strings"

	"memtex-backend/internal/auth/usecase"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware accepts an x-api-key header first, then a Bearer JWT, and
// stores the caller's id under "userID".
func AuthMiddleware(authUsecase usecase.AuthUsecase) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey := c.GetHeader("x-api-key"); apiKey != "" {
			userID, err := authUsecase.ValidateAPIKey(c.Request.Context(), apiKey)
			if err != nil {
				if errors.Is(err, usecase.ErrInvalidAPIKey) {
					c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API Key"})
					return
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to validate api key"})
				return
			}
			c.Set("userID", userID)
			c.Set("authMethod", "api_key")
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		userID, err := authUsecase.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set("userID", userID)
		c.Set("authMethod", "jwt")
		c.Next()
	}
}
