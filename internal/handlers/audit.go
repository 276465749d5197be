package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/learnhub-io/learnhub/internal/services"
	apperrors "github.com/learnhub-io/learnhub/pkg/errors"
	"github.com/learnhub-io/learnhub/pkg/response"
)

// AuditHandler exposes the audit trail to administrators.
type AuditHandler struct {
	svc *services.AuditService
}

func NewAuditHandler(svc *services.AuditService) (*AuditHandler, error) {
	if svc == nil {
		return nil, errors.New("audit handler: audit service is required")
	}
	return &AuditHandler{svc: svc}, nil
}

// GET /admin/audit
func (h *AuditHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", 50)

	filters := services.AuditFilters{
		UserID: c.Query("user_id"),
		Action: c.Query("action"),
		Result: c.Query("result"),
	}

	if s := c.Query("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			filters.Since = &t
		}
	}
	if u := c.Query("until"); u != "" {
		if t, err := time.Parse(time.RFC3339, u); err == nil {
			filters.Until = &t
		}
	}

	logs, total, err := h.svc.List(requestContext(c), services.AuditListOptions{
		Page:     page,
		PageSize: perPage,
		Filters:  filters,
	})
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, logs, &response.Meta{
		Page:    page,
		PerPage: perPage,
		Total:   int(total),
	})
}
