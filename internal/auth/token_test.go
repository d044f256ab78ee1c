package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("test-secret")
	id := uuid.New()

	token, err := IssueToken(secret, id, "guard@example.com", time.Hour)
	require.NoError(t, err)

	got, err := ParseToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestParseTokenRejects(t *testing.T) {
	secret := []byte("test-secret")
	id := uuid.New()

	t.Run("wrong secret", func(t *testing.T) {
		token, err := IssueToken([]byte("other"), id, "", time.Hour)
		require.NoError(t, err)
		_, err = ParseToken(secret, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := IssueToken(secret, id, "", -time.Minute)
		require.NoError(t, err)
		_, err = ParseToken(secret, token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("subject is not a uuid", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		require.NoError(t, err)
		_, err = ParseToken(secret, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseToken(secret, "not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
