package server

import (
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/vietbot/chatbridge-backend/internal/handlers"
	"github.com/vietbot/chatbridge-backend/internal/middleware"
)

type RouterConfig struct {
	Env                 string
	AuthMiddleware      *middleware.AuthMiddleware
	ChatHandler         *handlers.ChatHandler
	CoreAIHandler       *handlers.CoreAIHandler
	PlatformHandler     *handlers.PlatformHandler
	BotHandler          *handlers.BotHandler
	ConversationHandler *handlers.ConversationHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins(),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))
	router.Use(otelgin.Middleware("chatbridge"))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api/v1")
	{
		chat := api.Group("/chat")
		chat.POST("/message", cfg.ChatHandler.PostMessage)
		chat.GET("/job/:id", cfg.ChatHandler.GetJob)
		chat.GET("/lock/:conversation_id", cfg.ChatHandler.GetLock)
		chat.GET("/health", cfg.ChatHandler.Health)
	}

	// ===============
	// || Admin     ||
	// ===============
	admin := router.Group("/api/v1/admin")
	admin.Use(cfg.AuthMiddleware.RequireToken())
	{
		// Core AI
		admin.POST("/core-ai", cfg.CoreAIHandler.Create)
		admin.GET("/core-ai", cfg.CoreAIHandler.List)
		admin.GET("/core-ai/:id", cfg.CoreAIHandler.Get)
		admin.PUT("/core-ai/:id", cfg.CoreAIHandler.Update)
		admin.POST("/core-ai/:id/deactivate", cfg.CoreAIHandler.Deactivate)
		admin.DELETE("/core-ai/:id", cfg.CoreAIHandler.Delete)
		// Platform
		admin.POST("/platform", cfg.PlatformHandler.Create)
		admin.GET("/platform", cfg.PlatformHandler.List)
		admin.GET("/platform/:id", cfg.PlatformHandler.Get)
		admin.PUT("/platform/:id", cfg.PlatformHandler.Update)
		admin.POST("/platform/:id/deactivate", cfg.PlatformHandler.Deactivate)
		admin.DELETE("/platform/:id", cfg.PlatformHandler.Delete)
		admin.POST("/platform/:id/actions", cfg.PlatformHandler.CreateAction)
		admin.GET("/platform/:id/actions", cfg.PlatformHandler.ListActions)
		admin.DELETE("/platform/:id/actions/:action_id", cfg.PlatformHandler.DeleteAction)
		// Bot
		admin.POST("/bot", cfg.BotHandler.Create)
		admin.GET("/bot", cfg.BotHandler.List)
		admin.GET("/bot/:id", cfg.BotHandler.Get)
		admin.PUT("/bot/:id", cfg.BotHandler.Update)
		admin.POST("/bot/:id/deactivate", cfg.BotHandler.Deactivate)
		admin.DELETE("/bot/:id", cfg.BotHandler.Delete)
		// Conversation
		admin.GET("/conversation", cfg.ConversationHandler.List)
		admin.GET("/conversation/:id", cfg.ConversationHandler.Get)
		admin.GET("/conversation/:id/messages", cfg.ConversationHandler.Messages)
		admin.PUT("/conversation/:id/status", cfg.ConversationHandler.UpdateStatus)
		admin.DELETE("/conversation/:id/lock", cfg.ConversationHandler.ReleaseLock)
		// Lock maintenance
		admin.POST("/locks/cleanup", cfg.ConversationHandler.CleanupLocks)
	}

	return router
}

func corsOrigins() []string {
	raw := strings.TrimSpace(os.Getenv("CORS_ALLOW_ORIGINS"))
	if raw == "" {
		return []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
