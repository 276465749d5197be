package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/learnhub-io/learnhub/pkg/response"
)

// HealthHandler reports service liveness and database reachability.
type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// GET /health
func (h *HealthHandler) Check(c *gin.Context) {
	status := "ok"
	dbStatus := "ok"
	code := http.StatusOK

	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			ctx, cancel := contextWithTimeout(c, 2*time.Second)
			defer cancel()
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			status = "degraded"
			dbStatus = "unreachable"
			code = http.StatusServiceUnavailable
		}
	}

	response.Success(c, code, gin.H{
		"status":   status,
		"database": dbStatus,
	})
}
