package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/learnhub-io/learnhub/internal/auth"
	"github.com/learnhub-io/learnhub/internal/services"
	apperrors "github.com/learnhub-io/learnhub/pkg/errors"
	"github.com/learnhub-io/learnhub/pkg/response"
)

// UserHandler exposes the admin account-management surface.
type UserHandler struct {
	users    *services.UserService
	sessions *iauth.SessionService
}

func NewUserHandler(users *services.UserService, sessions *iauth.SessionService) (*UserHandler, error) {
	if users == nil || sessions == nil {
		return nil, errors.New("user handler: users and sessions are required")
	}
	return &UserHandler{users: users, sessions: sessions}, nil
}

// GET /admin/users
func (h *UserHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", 50)

	filters := services.UserFilters{
		Role:   c.Query("role"),
		Search: c.Query("search"),
	}
	if active := strings.TrimSpace(c.Query("active")); active != "" {
		v := active == "true"
		filters.Active = &v
	}

	users, total, err := h.users.List(requestContext(c), services.ListUsersOptions{
		Page:     page,
		PageSize: perPage,
		Filters:  filters,
	})
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, users, &response.Meta{
		Page:    page,
		PerPage: perPage,
		Total:   int(total),
	})
}

// GET /admin/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.users.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

type createUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	FullName string `json:"full_name" validate:"max=200"`
	Role     string `json:"role" validate:"omitempty,oneof=student admin"`
}

// POST /admin/users
func (h *UserHandler) Create(c *gin.Context) {
	var req createUserRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Create(requestContext(c), services.CreateUserInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Role:     req.Role,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, user)
}

type updateUserRequest struct {
	FullName *string `json:"full_name" validate:"omitempty,max=200"`
	Role     *string `json:"role" validate:"omitempty,oneof=student admin"`
}

// PATCH /admin/users/:id
func (h *UserHandler) Update(c *gin.Context) {
	var req updateUserRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Update(requestContext(c), c.Param("id"), services.UpdateUserInput{
		FullName: req.FullName,
		Role:     req.Role,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, user)
}

// POST /admin/users/:id/deactivate
// Deactivation revokes every active session so outstanding refresh tokens
// stop working immediately.
func (h *UserHandler) Deactivate(c *gin.Context) {
	ctx := requestContext(c)
	id := c.Param("id")

	if err := h.users.SetActive(ctx, id, false); err != nil {
		response.Error(c, err)
		return
	}

	revoked, err := h.sessions.RevokeUserSessions(ctx, id)
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"deactivated":      true,
		"sessions_revoked": revoked,
	})
}

// POST /admin/users/:id/activate
func (h *UserHandler) Activate(c *gin.Context) {
	if err := h.users.SetActive(requestContext(c), c.Param("id"), true); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"activated": true})
}
