package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	m := NewJWTManager(JWTConfig{Secret: "s3cret", Expiry: time.Hour, Issuer: "coursemarket-api"})

	token, jti, err := m.GenerateAccessToken(7, "student@example.com", "student", 2)
	require.NoError(t, err)
	assert.NotEmpty(t, jti)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, "student", claims.Role)
	assert.Equal(t, 2, claims.TokenVersion)
	assert.Equal(t, jti, claims.ID)
	assert.True(t, claims.IsAccess())
}

func TestValidateTokenRejections(t *testing.T) {
	m := NewJWTManager(JWTConfig{Secret: "s3cret", Expiry: time.Hour, Issuer: "coursemarket-api"})

	other := NewJWTManager(JWTConfig{Secret: "different", Expiry: time.Hour, Issuer: "coursemarket-api"})
	token, _, err := other.GenerateAccessToken(1, "a@example.com", "student", 0)
	require.NoError(t, err)
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewJWTManager(JWTConfig{Secret: "s3cret", Expiry: -time.Minute, Issuer: "coursemarket-api"})
	token, _, err = expired.GenerateAccessToken(1, "a@example.com", "student", 0)
	require.NoError(t, err)
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)

	foreign := NewJWTManager(JWTConfig{Secret: "s3cret", Expiry: time.Hour, Issuer: "someone-else"})
	token, _, err = foreign.GenerateAccessToken(1, "a@example.com", "student", 0)
	require.NoError(t, err)
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.ValidateToken(none)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
