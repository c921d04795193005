package auth

import (
	"context"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTVerifierRoundTrip(t *testing.T) {
	token, err := Issue("secret", "user-1", time.Minute)
	require.NoError(t, err)

	userID, err := NewJWTVerifier("secret").Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestJWTVerifierRejectsWrongSecret(t *testing.T) {
	token, err := Issue("secret", "user-1", time.Minute)
	require.NoError(t, err)

	_, err = NewJWTVerifier("other").Resolve(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifierRejectsExpired(t *testing.T) {
	token, err := Issue("secret", "user-1", -time.Minute)
	require.NoError(t, err)

	_, err = NewJWTVerifier("secret").Resolve(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifierFallsBackToSubject(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "sub-7"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	userID, err := NewJWTVerifier("secret").Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "sub-7", userID)
}

func TestJWTVerifierRejectsNoneAlg(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"userId": "x"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewJWTVerifier("secret").Resolve(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
