package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	req := require.New(t)
	a := NewAuthenticator("super-secret-key", "nexus-im", time.Hour)

	token, err := a.GenerateToken(123, "testuser")
	req.NoError(err)
	req.NotEmpty(token)

	claims, err := a.ValidateToken(token)
	req.NoError(err)
	req.Equal(int64(123), claims.UserID)
	req.Equal("testuser", claims.Username)
	req.Equal("nexus-im", claims.Issuer)
	req.Equal("123", claims.Subject)
}

func TestExpiredToken(t *testing.T) {
	a := NewAuthenticator("super-secret-key", "nexus", -time.Minute)

	token, err := a.GenerateToken(1, "user")
	require.NoError(t, err)

	_, err = a.ValidateToken(token)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestInvalidToken(t *testing.T) {
	t.Run("should reject a foreign signature", func(t *testing.T) {
		token, err := NewAuthenticator("secret1", "nexus", time.Hour).GenerateToken(1, "user")
		require.NoError(t, err)

		_, err = NewAuthenticator("secret2", "nexus", time.Hour).ValidateToken(token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("should reject another issuer", func(t *testing.T) {
		token, err := NewAuthenticator("secret", "someone-else", time.Hour).GenerateToken(1, "user")
		require.NoError(t, err)

		_, err = NewAuthenticator("secret", "nexus", time.Hour).ValidateToken(token)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("should reject garbage", func(t *testing.T) {
		_, err := NewAuthenticator("secret", "nexus", time.Hour).ValidateToken("not.a.token")
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestPassword(t *testing.T) {
	req := require.New(t)

	hash, err := HashPassword("correct horse")
	req.NoError(err)
	req.NotEqual("correct horse", hash)

	req.NoError(ComparePassword(hash, "correct horse"))
	req.ErrorIs(ComparePassword(hash, "battery staple"), ErrPasswordMismatch)
}
