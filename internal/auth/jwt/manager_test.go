package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-test-secret-test-secret"

func TestManager_IssueAndValidate(t *testing.T) {
	manager := NewManager(testSecret, "gateway")

	token, err := manager.Issue(42, "alice", time.Minute)
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)

	userID, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
	assert.Equal(t, "alice", claims.Username)
}

func TestManager_ValidateToken_Invalid(t *testing.T) {
	manager := NewManager(testSecret, "gateway")

	t.Run("签名密钥不同", func(t *testing.T) {
		token, err := NewManager("another-secret-another-secret-1234", "gateway").Issue(1, "", time.Minute)
		require.NoError(t, err)

		_, err = manager.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("签发者不同", func(t *testing.T) {
		token, err := NewManager(testSecret, "someone-else").Issue(1, "", time.Minute)
		require.NoError(t, err)

		_, err = manager.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("令牌过期", func(t *testing.T) {
		issuer := NewManager(testSecret, "gateway")
		issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, err := issuer.Issue(1, "", time.Minute)
		require.NoError(t, err)

		_, err = manager.ValidateToken(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("Subject不是用户ID", func(t *testing.T) {
		claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "gateway",
			Subject:   "not-a-number",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = manager.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("格式错误", func(t *testing.T) {
		_, err := manager.ValidateToken("garbage")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
