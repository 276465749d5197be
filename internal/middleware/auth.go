package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/learnhub-io/learnhub/internal/auth"
	"github.com/learnhub-io/learnhub/internal/models"
	"github.com/learnhub-io/learnhub/pkg/errors"
	"github.com/learnhub-io/learnhub/pkg/response"
)

const (
	CtxClaimsKey    = "authClaims"
	CtxUserIDKey    = "userID"
	CtxUserRoleKey  = "userRole"
	CtxSessionIDKey = "sessionID"
)

// Auth enforces bearer-token authentication using the supplied JWT service.
// The check is a pure decode of the signed access token; no storage access.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrInvalidToken)
			c.Abort()
			return
		}

		// Propagate identity into request context
		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		c.Set(CtxUserRoleKey, claims.Role)
		if claims.SessionID != "" {
			c.Set(CtxSessionIDKey, claims.SessionID)
		}

		c.Next()
	}
}

// RequireAdmin rejects requests whose access token does not carry the admin role.
// Must run after Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get(CtxUserRoleKey)
		if role != models.RoleAdmin {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
