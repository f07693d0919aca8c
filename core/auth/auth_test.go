package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPasswordHash(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	require.NotEqual(t, "hunter2", hash)
	require.True(t, CheckPasswordHash("hunter2", hash))
	require.False(t, CheckPasswordHash("hunter3", hash))
}

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()

	m := NewTokenManager("secret", time.Hour)
	token, err := m.Generate(42, "calm")
	require.NoError(t, err)

	claims, err := m.Parse(token)
	require.NoError(t, err)
	require.Equal(t, int64(42), claims.UserID)
	require.Equal(t, "calm", claims.Username)
}

func TestTokenRejected(t *testing.T) {
	t.Parallel()

	m := NewTokenManager("secret", time.Hour)
	token, err := m.Generate(42, "calm")
	require.NoError(t, err)

	_, err = NewTokenManager("other", time.Hour).Parse(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Parse("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)

	expired := NewTokenManager("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Generate(42, "calm")
	require.NoError(t, err)
	_, err = m.Parse(old)
	require.ErrorIs(t, err, ErrInvalidToken)
}
