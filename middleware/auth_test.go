package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-service/common/auth"
	apperrors "marketplace-service/common/errors"
	"marketplace-service/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(v *auth.TokenValidator) *gin.Engine {
	r := gin.New()
	r.Use(apperrors.ErrorMiddleware())

	r.GET("/public", middleware.OptionalAuth(v), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": middleware.ActorFrom(c).UserID})
	})

	private := r.Group("/private", middleware.AuthMiddleware(v))
	private.GET("/me", func(c *gin.Context) {
		actor := middleware.ActorFrom(c)
		c.JSON(http.StatusOK, gin.H{"user_id": actor.UserID, "role": actor.Role})
	})
	private.GET("/admin", middleware.RequireRoles("admin"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func do(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	v := auth.NewTokenValidator("secret")
	r := setupRouter(v)
	seller, err := v.SignToken("u-1", "seller", time.Hour)
	require.NoError(t, err)
	adminTok, err := v.SignToken("u-2", "admin", time.Hour)
	require.NoError(t, err)

	t.Run("MissingToken", func(t *testing.T) {
		w := do(r, "/private/me", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "Token is required")
	})

	t.Run("InvalidToken", func(t *testing.T) {
		w := do(r, "/private/me", "garbage")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("ValidToken", func(t *testing.T) {
		w := do(r, "/private/me", seller)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"user_id":"u-1","role":"seller"}`, w.Body.String())
	})

	t.Run("RoleDenied", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, do(r, "/private/admin", seller).Code)
		assert.Equal(t, http.StatusNoContent, do(r, "/private/admin", adminTok).Code)
	})

	t.Run("OptionalAuth", func(t *testing.T) {
		assert.JSONEq(t, `{"user_id":""}`, do(r, "/public", "").Body.String())
		assert.JSONEq(t, `{"user_id":""}`, do(r, "/public", "garbage").Body.String())
		assert.JSONEq(t, `{"user_id":"u-1"}`, do(r, "/public", seller).Body.String())
	})
}
