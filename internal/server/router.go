package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/driftnote/driftnote-backend/internal/http/handlers"
	"github.com/driftnote/driftnote-backend/internal/http/middleware"
)

type RouterConfig struct {
	ServiceName    string
	ContentHandler *handlers.ContentHandler
	SearchHandler  *handlers.SearchHandler
	ChatHandler    *handlers.ChatHandler
	HealthHandler  *handlers.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "driftnote"
	}
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.AttachTraceContext())

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", cfg.HealthHandler.HealthCheck)

	api := router.Group("/api")
	{
		// Content
		api.POST("/content/items", cfg.ContentHandler.SubmitItem)
		api.POST("/content/sources", cfg.ContentHandler.CreateSource)
		api.GET("/users/:id/sources", cfg.ContentHandler.ListSources)
		api.GET("/users/:id/chunks", cfg.ContentHandler.LatestChunks)
		// Search
		api.POST("/users/:id/search", cfg.SearchHandler.Search)
		// Chat
		api.POST("/conversations", cfg.ChatHandler.CreateConversation)
		api.POST("/conversations/:id/messages", cfg.ChatHandler.PostMessage)
		api.GET("/conversations/:id/messages", cfg.ChatHandler.History)
	}

	return router
}
