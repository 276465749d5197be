package api

import (
	"github.com/gin-gonic/gin"

	"github.com/learnhub-io/learnhub/internal/handlers"
)

func registerAuthRoutes(engine *gin.Engine, api *gin.RouterGroup, handler *handlers.AuthHandler) {
	auth := engine.Group("/api/auth")
	{
		auth.POST("/login", handler.Login)
		auth.POST("/refresh", handler.Refresh)
		auth.POST("/register", handler.Register)
		auth.POST("/forgot-password", handler.ForgotPassword)
		auth.POST("/reset-password", handler.ResetPassword)
	}

	api.GET("/auth/me", handler.Me)
	api.POST("/auth/logout", handler.Logout)
	api.POST("/auth/change-password", handler.ChangePassword)

	sessions := api.Group("/auth/sessions")
	{
		sessions.GET("", handler.ListSessions)
		sessions.DELETE("/:id", handler.RevokeSession)
	}
}
