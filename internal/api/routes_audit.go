package api

import (
	"github.com/gin-gonic/gin"

	"github.com/learnhub-io/learnhub/internal/handlers"
	"github.com/learnhub-io/learnhub/internal/middleware"
	"github.com/learnhub-io/learnhub/internal/services"
)

func registerAuditRoutes(api *gin.RouterGroup, svc *services.AuditService) error {
	handler, err := handlers.NewAuditHandler(svc)
	if err != nil {
		return err
	}

	api.GET("/admin/audit", middleware.RequireAdmin(), handler.List)
	return nil
}
