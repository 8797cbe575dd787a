package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_MintAndVerify(t *testing.T) {
	v := NewVerifier("test-secret-that-is-at-least-32-chars!", "hanjaemi")

	t.Run("mint and verify", func(t *testing.T) {
		token, err := v.Mint("user-123", "test@example.com", 15*time.Minute)
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		claims, err := v.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "user-123", claims.UserID)
		assert.Equal(t, "test@example.com", claims.Email)
	})

	t.Run("garbage token fails", func(t *testing.T) {
		_, err := v.Verify("not-a-token")
		assert.Error(t, err)
	})

	t.Run("wrong secret fails", func(t *testing.T) {
		other := NewVerifier("another-secret-that-is-32-chars-long!!", "hanjaemi")
		token, err := other.Mint("user-456", "x@x.com", 15*time.Minute)
		require.NoError(t, err)

		_, err = v.Verify(token)
		assert.Error(t, err)
	})

	t.Run("wrong issuer fails", func(t *testing.T) {
		other := NewVerifier("test-secret-that-is-at-least-32-chars!", "someone-else")
		token, err := other.Mint("user-789", "x@x.com", 15*time.Minute)
		require.NoError(t, err)

		_, err = v.Verify(token)
		assert.Error(t, err)
	})

	t.Run("expired token fails", func(t *testing.T) {
		token, err := v.Mint("user-999", "x@x.com", -1*time.Second)
		require.NoError(t, err)

		_, err = v.Verify(token)
		assert.Error(t, err)
	})
}
