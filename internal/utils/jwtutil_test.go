package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseToken(t *testing.T) {
	token, exp, err := GenerateToken("u1", "Administrador", "admin", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := ParseToken(token)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.UserId)
	require.Equal(t, "Administrador", claims.Name)
	require.Equal(t, "admin", claims.Role)
}

func TestParseRejectsGarbageAndExpiredTokens(t *testing.T) {
	_, err := ParseToken("not-a-token")
	require.Error(t, err)

	expired, _, err := GenerateToken("u1", "Administrador", "admin", -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(expired)
	require.Error(t, err)
}
