package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes registers the generation endpoints and the health check. identity
// resolves the caller before the handlers run.
func SetupRoutes(router *gin.Engine, handler *Handler, identity gin.HandlerFunc) {
	router.HandleMethodNotAllowed = true
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": msgMethodNotAllowed})
	})

	router.GET("/healthz", handler.Health)

	apiGroup := router.Group("/api")
	apiGroup.Use(identity)
	{
		apiGroup.POST("/generate-cards", handler.GenerateCards)
		apiGroup.POST("/generate-reviewer", handler.GenerateReviewer)
	}
}
