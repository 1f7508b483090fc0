package api

import (
	"net/http"

	authDelivery "memtex-backend/internal/auth/delivery"
	authUsecase "memtex-backend/internal/auth/usecase"
	chatDelivery "memtex-backend/internal/chat/delivery"
	convDelivery "memtex-backend/internal/conversation/delivery"
	memoryDelivery "memtex-backend/internal/memory/delivery"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups the HTTP handlers mounted by SetupRoutes.
type Handlers struct {
	Auth     *authDelivery.AuthHandler
	Sync     *convDelivery.SyncHandler
	Chat     *chatDelivery.ChatHandler
	Memory   *memoryDelivery.MemoryHandler
	Settings *SettingsHandler
}

func SetupRoutes(r *gin.Engine, auth authUsecase.AuthUsecase, h Handlers) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		protected := api.Group("")
		protected.Use(authDelivery.AuthMiddleware(auth))

		// API keys for the browser extension
		keys := protected.Group("/user/keys")
		{
			keys.GET("", h.Auth.ListKeys)
			keys.POST("", h.Auth.CreateKey)
			keys.DELETE("/:key", h.Auth.DeleteKey)
		}

		sync := protected.Group("/sync")
		{
			sync.GET("/providers", h.Sync.Providers)
			sync.GET("/conversations/all", h.Sync.ListAll)
			sync.POST("/:provider", h.Sync.Sync)
			sync.POST("/:provider/batch", h.Sync.SyncBatch)
			sync.GET("/:provider/conversations", h.Sync.List)
			sync.DELETE("/:provider", h.Sync.Remove)
		}
		protected.POST("/import", h.Sync.Import)

		chat := protected.Group("/chat")
		{
			chat.POST("", h.Chat.Chat)
			chat.GET("/sessions", h.Chat.ListSessions)
			chat.GET("/sessions/:id", h.Chat.GetSession)
			chat.DELETE("/sessions/:id", h.Chat.DeleteSession)
		}

		memory := protected.Group("/memory")
		{
			memory.GET("", h.Memory.List)
			memory.POST("", h.Memory.Store)
		}

		// Runtime configuration of the local fallback model
		settings := protected.Group("/settings")
		{
			settings.GET("/ollama", h.Settings.GetOllama)
			settings.PUT("/ollama", h.Settings.UpdateOllama)
			settings.POST("/ollama/test", h.Settings.TestOllama)
		}
	}
}
