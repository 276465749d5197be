package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/learnhub-io/learnhub/internal/auth"
	"github.com/learnhub-io/learnhub/internal/auth/providers"
	"github.com/learnhub-io/learnhub/internal/middleware"
	"github.com/learnhub-io/learnhub/internal/services"
	apperrors "github.com/learnhub-io/learnhub/pkg/errors"
	"github.com/learnhub-io/learnhub/pkg/metrics"
	"github.com/learnhub-io/learnhub/pkg/response"
)

// AuthHandler exposes the authentication surface: login, refresh, logout,
// registration, identity lookup, session management, and the password
// reset flow.
type AuthHandler struct {
	provider *providers.LocalProvider
	jwt      *iauth.JWTService
	sessions *iauth.SessionService
	reset    *iauth.PasswordResetService
	limiter  *iauth.RateLimiter
	users    *services.UserService
	audit    *services.AuditService
}

// NewAuthHandler wires the authentication handler from its collaborators.
func NewAuthHandler(
	provider *providers.LocalProvider,
	jwt *iauth.JWTService,
	sessions *iauth.SessionService,
	reset *iauth.PasswordResetService,
	limiter *iauth.RateLimiter,
	users *services.UserService,
	audit *services.AuditService,
) (*AuthHandler, error) {
	if provider == nil || jwt == nil || sessions == nil || reset == nil || limiter == nil || users == nil {
		return nil, errors.New("auth handler: all collaborators are required")
	}
	return &AuthHandler{
		provider: provider,
		jwt:      jwt,
		sessions: sessions,
		reset:    reset,
		limiter:  limiter,
		users:    users,
		audit:    audit,
	}, nil
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
}

// POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	ctx := requestContext(c)

	if decision := h.limiter.Check(ctx, email, iauth.ActionLogin); !decision.Allowed {
		metrics.AuthAttempts.WithLabelValues("rate_limited").Inc()
		h.recordAudit(c, services.AuditEntry{
			Email:  email,
			Action: services.AuditActionLogin,
			Result: services.AuditResultFailure,
			Metadata: map[string]any{
				"reason": "rate_limited",
			},
		})
		response.Error(c, apperrors.ErrRateLimit)
		return
	}

	user, err := h.provider.Authenticate(ctx, providers.AuthenticateInput{
		Email:     email,
		Password:  req.Password,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		// Unknown account, bad password, locked, and disabled all produce
		// the same response so nothing about the account leaks.
		h.limiter.Record(ctx, email, iauth.ActionLogin)
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		h.recordAudit(c, services.AuditEntry{
			Email:  email,
			Action: services.AuditActionLogin,
			Result: services.AuditResultFailure,
		})
		response.Error(c, apperrors.ErrInvalidCredentials)
		return
	}

	pair, _, err := h.sessions.CreateSession(ctx, user, iauth.SessionMetadata{
		IPAddress:  c.ClientIP(),
		DeviceInfo: c.Request.UserAgent(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, h.mapSessionError(err))
		return
	}

	h.limiter.Reset(ctx, email, iauth.ActionLogin)
	metrics.AuthAttempts.WithLabelValues("success").Inc()
	h.recordAudit(c, services.AuditEntry{
		UserID: &user.ID,
		Email:  user.Email,
		Action: services.AuditActionLogin,
		Result: services.AuditResultSuccess,
	})

	response.Success(c, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// POST /auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	identity := c.ClientIP()

	if decision := h.limiter.Check(ctx, identity, iauth.ActionRefresh); !decision.Allowed {
		response.Error(c, apperrors.ErrRateLimit)
		return
	}
	h.limiter.Record(ctx, identity, iauth.ActionRefresh)

	pair, session, err := h.sessions.RefreshSession(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, iauth.ErrSessionReused) {
			h.recordAudit(c, services.AuditEntry{
				Action: services.AuditActionReplay,
				Result: services.AuditResultFailure,
			})
		}
		response.Error(c, h.mapSessionError(err))
		return
	}

	ttl := h.jwt.AccessTokenTTL()
	expiresAt := session.LastUsedAt.Add(ttl)

	response.Success(c, http.StatusOK, refreshResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(ttl.Seconds()),
		ExpiresAt:    expiresAt.UnixMilli(),
	})
}

// POST /auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	sid := c.GetString(middleware.CtxSessionIDKey)
	if sid == "" {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	if err := h.sessions.RevokeSession(requestContext(c), sid); err != nil {
		response.Error(c, h.mapSessionError(err))
		return
	}

	userID := c.GetString(middleware.CtxUserIDKey)
	h.recordAudit(c, services.AuditEntry{
		UserID: &userID,
		Action: services.AuditActionLogout,
		Result: services.AuditResultSuccess,
	})

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	FullName string `json:"full_name" validate:"max=200"`
}

// POST /auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	identity := c.ClientIP()

	if decision := h.limiter.Record(ctx, identity, iauth.ActionRegister); !decision.Allowed {
		response.Error(c, apperrors.ErrRateLimit)
		return
	}

	user, err := h.provider.Register(ctx, providers.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		response.Error(c, apperrors.ErrConflict)
		return
	}

	h.recordAudit(c, services.AuditEntry{
		UserID: &user.ID,
		Email:  user.Email,
		Action: services.AuditActionRegister,
		Result: services.AuditResultSuccess,
	})

	pair, _, err := h.sessions.CreateSession(ctx, user, iauth.SessionMetadata{
		IPAddress:  c.ClientIP(),
		DeviceInfo: c.Request.UserAgent(),
	})
	if err != nil {
		response.Error(c, h.mapSessionError(err))
		return
	}

	response.Success(c, http.StatusCreated, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
	})
}

// GET /auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	user, err := h.users.GetByID(requestContext(c), userID)
	if err != nil {
		response.Error(c, apperrors.ErrInvalidToken)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user_id":   user.ID,
		"full_name": user.FullName,
		"email":     user.Email,
		"role":      user.Role,
	})
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// POST /auth/forgot-password
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	ctx := requestContext(c)

	if decision := h.limiter.Record(ctx, email, iauth.ActionForgotPassword); !decision.Allowed {
		response.Error(c, apperrors.ErrRateLimit)
		return
	}

	// The response is identical whether or not the account exists.
	_ = h.reset.RequestReset(ctx, email)

	h.recordAudit(c, services.AuditEntry{
		Email:  email,
		Action: services.AuditActionResetRequest,
		Result: services.AuditResultSuccess,
	})

	response.Success(c, http.StatusOK, gin.H{
		"message": "If an account exists for that address, a reset link has been sent.",
	})
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

// POST /auth/reset-password
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	err := h.reset.RedeemReset(requestContext(c), req.Token, req.NewPassword)
	if err != nil {
		h.recordAudit(c, services.AuditEntry{
			Action: services.AuditActionResetRedeem,
			Result: services.AuditResultFailure,
		})
		switch {
		case errors.Is(err, iauth.ErrResetTokenConsumed):
			response.Error(c, apperrors.ErrTokenConsumed)
		case errors.Is(err, iauth.ErrResetTokenInvalid):
			response.Error(c, apperrors.ErrInvalidToken)
		case errors.Is(err, iauth.ErrWeakPassword):
			response.Error(c, apperrors.NewBadRequest("password must be at least 8 characters"))
		default:
			response.Error(c, h.mapSessionError(err))
		}
		return
	}

	h.recordAudit(c, services.AuditEntry{
		Action: services.AuditActionResetRedeem,
		Result: services.AuditResultSuccess,
	})

	response.Success(c, http.StatusOK, gin.H{"message": "Password updated. Please sign in again."})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// POST /auth/change-password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	var req changePasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)

	if err := h.provider.ChangePassword(ctx, userID, req.CurrentPassword, req.NewPassword); err != nil {
		h.recordAudit(c, services.AuditEntry{
			UserID: &userID,
			Action: services.AuditActionPasswordChange,
			Result: services.AuditResultFailure,
		})
		if errors.Is(err, providers.ErrInvalidCredentials) {
			response.Error(c, apperrors.ErrInvalidCredentials)
			return
		}
		response.Error(c, apperrors.ErrInternalServer)
		return
	}

	// Existing refresh tokens were minted against the old credential; burn
	// them all and make every device sign in again.
	revoked, err := h.sessions.RevokeUserSessions(ctx, userID)
	if err != nil {
		response.Error(c, h.mapSessionError(err))
		return
	}

	h.recordAudit(c, services.AuditEntry{
		UserID: &userID,
		Action: services.AuditActionPasswordChange,
		Result: services.AuditResultSuccess,
		Metadata: map[string]any{
			"sessions_revoked": revoked,
		},
	})

	response.Success(c, http.StatusOK, gin.H{
		"message":          "Password updated. Please sign in again.",
		"sessions_revoked": revoked,
	})
}

// GET /auth/sessions
func (h *AuthHandler) ListSessions(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	if userID == "" {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	sessions, err := h.sessions.ListUserSessions(requestContext(c), userID)
	if err != nil {
		response.Error(c, h.mapSessionError(err))
		return
	}

	response.Success(c, http.StatusOK, sessions)
}

// DELETE /auth/sessions/:id
func (h *AuthHandler) RevokeSession(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserIDKey)
	sessionID := strings.TrimSpace(c.Param("id"))
	if sessionID == "" {
		response.Error(c, apperrors.NewBadRequest("session id is required"))
		return
	}

	ctx := requestContext(c)

	owner, err := h.sessions.SessionOwner(ctx, sessionID)
	if err != nil {
		response.Error(c, h.mapSessionError(err))
		return
	}
	if owner != "" && owner != userID {
		response.Error(c, apperrors.ErrForbidden)
		return
	}

	if err := h.sessions.RevokeSession(ctx, sessionID); err != nil {
		response.Error(c, h.mapSessionError(err))
		return
	}

	h.recordAudit(c, services.AuditEntry{
		UserID: &userID,
		Action: services.AuditActionSessionRevoke,
		Result: services.AuditResultSuccess,
		Metadata: map[string]any{
			"session_id": sessionID,
		},
	})

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// mapSessionError translates session layer sentinels into API errors. Replay,
// invalid, and revoked lineages all collapse into the same 401 so the caller
// learns nothing beyond "token no longer works".
func (h *AuthHandler) mapSessionError(err error) error {
	switch {
	case errors.Is(err, iauth.ErrSessionReused),
		errors.Is(err, iauth.ErrSessionExpired),
		errors.Is(err, iauth.ErrSessionInvalidToken):
		return apperrors.ErrInvalidToken
	case errors.Is(err, iauth.ErrStorageTimeout):
		return apperrors.ErrStorageTimeout
	default:
		return apperrors.ErrInternalServer
	}
}

func (h *AuthHandler) recordAudit(c *gin.Context, entry services.AuditEntry) {
	if h.audit == nil {
		return
	}
	entry.IPAddress = c.ClientIP()
	entry.UserAgent = c.Request.UserAgent()
	_ = h.audit.Log(requestContext(c), entry)
}
