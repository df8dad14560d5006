package admin

import (
	"github.com/gin-gonic/gin"

	"github.com/ubuygold/studygen/internal/auth"
	"github.com/ubuygold/studygen/internal/config"
	"github.com/ubuygold/studygen/internal/db"
	"github.com/ubuygold/studygen/internal/keypool"
)

func SetupRoutes(router *gin.Engine, dbService db.Service, usage UsageReader, pool *keypool.Pool, cfg *config.Config) {
	handler := NewHandler(dbService, usage, pool)

	adminGroup := router.Group("/admin")
	adminGroup.Use(auth.AdminAuthMiddleware(cfg.Admin.Password))
	{
		grantsGroup := adminGroup.Group("/grants")
		{
			grantsGroup.GET("", handler.ListGrantsHandler)
			grantsGroup.POST("", handler.CreateGrantHandler)
			grantsGroup.DELETE("/:userId", handler.DeleteGrantHandler)
		}

		adminGroup.GET("/keys", handler.ListKeysHandler)
		adminGroup.GET("/usage/:userId", handler.GetUsageHandler)
		adminGroup.GET("/reports/:day", handler.GetReportHandler)
	}
}
