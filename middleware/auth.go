package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"marketplace-service/common/auth"
	apperrors "marketplace-service/common/errors"
	"marketplace-service/policy"
)

const (
	UserContextKey = "userID"
	RoleContextKey = "role"
)

// TokenParser is satisfied by auth.TokenValidator.
type TokenParser interface {
	ParseAndValidateToken(tokenStr string) (*auth.Claims, error)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	// Browsers cannot set headers on a websocket handshake.
	if c.IsWebsocket() {
		return c.Query("token")
	}
	return ""
}

// AuthMiddleware requires a valid bearer token and stores its user id and role on the context.
func AuthMiddleware(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			apperrors.Abort(c, apperrors.ErrMissingToken)
			return
		}
		claims, err := tokens.ParseAndValidateToken(raw)
		if err != nil {
			apperrors.Abort(c, apperrors.ErrInvalidToken.Wrap(err))
			return
		}
		c.Set(UserContextKey, claims.UserID)
		c.Set(RoleContextKey, claims.Role)
		c.Next()
	}
}

// OptionalAuth identifies the caller when a valid token is present and lets anonymous
// requests through otherwise.
func OptionalAuth(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := bearerToken(c); raw != "" {
			if claims, err := tokens.ParseAndValidateToken(raw); err == nil {
				c.Set(UserContextKey, claims.UserID)
				c.Set(RoleContextKey, claims.Role)
			}
		}
		c.Next()
	}
}

// RequireRoles restricts a route group to the listed roles. It must run after AuthMiddleware.
func RequireRoles(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		if !allowed[c.GetString(RoleContextKey)] {
			apperrors.Abort(c, apperrors.ErrRoleDenied)
			return
		}
		c.Next()
	}
}

// ActorFrom returns the authenticated caller, or the anonymous actor.
func ActorFrom(c *gin.Context) policy.Actor {
	return policy.Actor{UserID: c.GetString(UserContextKey), Role: c.GetString(RoleContextKey)}
}
