package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmail/backend/internal/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestManager(expiry time.Duration) *Manager {
	return NewManager(config.JWTConfig{Secret: testSecret, Issuer: "vmail", AccessExpiry: expiry})
}

func TestGenerateAndValidate(t *testing.T) {
	m := newTestManager(time.Hour)

	token, err := m.GenerateToken("bob", "bob@example.com")
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "bob", claims.UserID)
	assert.Equal(t, "bob@example.com", claims.Email)
	assert.Equal(t, "bob", claims.Subject)
}

func TestValidateToken(t *testing.T) {
	m := newTestManager(time.Hour)

	t.Run("过期令牌", func(t *testing.T) {
		expired := newTestManager(-time.Minute)
		token, err := expired.GenerateToken("bob", "bob@example.com")
		require.NoError(t, err)
		_, err = m.ValidateToken(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("错误密钥", func(t *testing.T) {
		other := NewManager(config.JWTConfig{Secret: "ffffffffffffffffffffffffffffffff", Issuer: "vmail", AccessExpiry: time.Hour})
		token, err := other.GenerateToken("bob", "bob@example.com")
		require.NoError(t, err)
		_, err = m.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("错误签发者", func(t *testing.T) {
		other := NewManager(config.JWTConfig{Secret: testSecret, Issuer: "someone-else", AccessExpiry: time.Hour})
		token, err := other.GenerateToken("bob", "bob@example.com")
		require.NoError(t, err)
		_, err = m.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("只有 sub 声明", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Issuer:    "vmail",
			Subject:   "carol",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		signed, err := token.SignedString([]byte(testSecret))
		require.NoError(t, err)

		claims, err := m.ValidateToken(signed)
		require.NoError(t, err)
		assert.Equal(t, "carol", claims.UserID)
	})

	t.Run("格式错误", func(t *testing.T) {
		_, err := m.ValidateToken("not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
