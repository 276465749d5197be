package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/learnhub-io/learnhub/internal/app"
	"github.com/learnhub-io/learnhub/internal/handlers"
)

func registerHealthRoutes(r *gin.Engine, db *gorm.DB, cfg *app.Config) {
	if !cfg.Monitoring.Health.Enabled {
		r.GET("/health", disabledHealthHandler)
		return
	}

	handler := handlers.NewHealthHandler(db)
	r.GET("/health", handler.Check)
}

func disabledHealthHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"status":  "disabled",
	})
}
