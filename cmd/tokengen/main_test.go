package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profilegate/internal/identity/gotrue"
	dErrors "profilegate/pkg/domain-errors"
)

func TestGeneratedTokenVerifies(t *testing.T) {
	out, err := generate("11111111-1111-1111-1111-111111111111", "a@example.com", "secret", time.Hour)
	require.NoError(t, err)

	claims, userID, err := gotrue.NewVerifier("secret").Verify(out.Token)
	require.NoError(t, err)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", userID.String())
	assert.Equal(t, "a@example.com", claims.Email)
	assert.Contains(t, out.Cookie, "sb-access-token=")
}

func TestNegativeTTLProducesExpiredToken(t *testing.T) {
	out, err := generate("", "a@example.com", "secret", -time.Minute)
	require.NoError(t, err)

	_, _, err = gotrue.NewVerifier("secret").Verify(out.Token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSessionExpired))
}

func TestInvalidUserID(t *testing.T) {
	_, err := generate("nope", "", "secret", time.Hour)
	assert.Error(t, err)
}
