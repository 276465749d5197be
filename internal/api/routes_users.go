package api

import (
	"github.com/gin-gonic/gin"

	"github.com/learnhub-io/learnhub/internal/handlers"
	"github.com/learnhub-io/learnhub/internal/middleware"
)

func registerUserRoutes(api *gin.RouterGroup, handler *handlers.UserHandler) {
	users := api.Group("/admin/users")
	users.Use(middleware.RequireAdmin())
	{
		users.GET("", handler.List)
		users.POST("", handler.Create)
		users.GET("/:id", handler.Get)
		users.PATCH("/:id", handler.Update)
		users.POST("/:id/activate", handler.Activate)
		users.POST("/:id/deactivate", handler.Deactivate)
	}
}
