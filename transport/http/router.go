package http

import (
	"github.com/gin-gonic/gin"
	"github.com/layer-3/sessionauth"
)

// SetupRouter sets up the Gin router
func SetupRouter(client sessionauth.Client) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())

	// Create handlers
	handlers := NewSessionHandlers(client)

	router.GET("/health", handlers.Health)

	// Session routes
	sessions := router.Group("/v1/sessions/:alias")
	{
		sessions.POST("/request", handlers.Request)
		sessions.POST("/confirm", handlers.Confirm)
		sessions.GET("/:provider/:hash", handlers.Status)
	}

	return router
}
