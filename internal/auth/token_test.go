package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := v.Sign("player-456", time.Hour)
	require.NoError(t, err)

	playerID, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "player-456", playerID)
}

func TestVerifyWithoutSecret(t *testing.T) {
	v := NewVerifier("")
	assert.False(t, v.Configured())

	_, err := v.Verify("anything")
	assert.True(t, errors.Is(err, ErrMissingSecret))
}

func TestVerifyWrongSecret(t *testing.T) {
	token, err := NewVerifier("one").Sign("p1", 0)
	require.NoError(t, err)

	_, err = NewVerifier("two").Verify(token)
	assert.Error(t, err)
}

func TestVerifyExpired(t *testing.T) {
	v := NewVerifier("s")
	token, err := v.Sign("p1", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.Error(t, err)
}

func TestVerifyFallsBackToSub(t *testing.T) {
	secret := []byte("s")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "from-sub"}).SignedString(secret)
	require.NoError(t, err)

	playerID, err := NewVerifier("s").Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "from-sub", playerID)
}

func TestVerifyRejectsMissingIdentity(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": "x"}).SignedString([]byte("s"))
	require.NoError(t, err)

	_, err = NewVerifier("s").Verify(token)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, err := NewVerifier("s").Verify("not-a-jwt")
	assert.Error(t, err)
}
