package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndValidateToken(t *testing.T) {
	v := NewTokenValidator("test-secret")

	t.Run("Valid", func(t *testing.T) {
		tok, err := v.SignToken("user-1", "seller", time.Hour)
		require.NoError(t, err)

		claims, err := v.ParseAndValidateToken(tok)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.UserID)
		assert.Equal(t, "seller", claims.Role)
	})

	t.Run("Expired", func(t *testing.T) {
		tok, err := v.SignToken("user-1", "user", -time.Minute)
		require.NoError(t, err)

		_, err = v.ParseAndValidateToken(tok)
		assert.Error(t, err)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		tok, err := NewTokenValidator("other").SignToken("user-1", "user", time.Hour)
		require.NoError(t, err)

		_, err = v.ParseAndValidateToken(tok)
		assert.Error(t, err)
	})

	t.Run("MissingExpiry", func(t *testing.T) {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "user-1"}).SignedString([]byte("test-secret"))
		require.NoError(t, err)

		_, err = v.ParseAndValidateToken(tok)
		assert.Error(t, err)
	})

	t.Run("NoSecret", func(t *testing.T) {
		_, err := NewTokenValidator("  ").ParseAndValidateToken("x.y.z")
		assert.Error(t, err)
	})
}
