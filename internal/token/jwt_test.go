package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestJWT_SessionToken_Roundtrip(t *testing.T) {
	j := NewJWT("secret", time.Hour)
	u := uuid.New()

	tokenString, sessionID, err := j.GenerateSessionToken(u)
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	gotUser, gotSession, err := j.ParseSessionToken(tokenString)
	require.NoError(t, err)
	require.Equal(t, u, gotUser)
	require.Equal(t, sessionID, gotSession)
}

func TestJWT_WrongSecret(t *testing.T) {
	j := NewJWT("secret", time.Hour)
	other := NewJWT("another", time.Hour)

	tokenString, _, err := j.GenerateSessionToken(uuid.New())
	require.NoError(t, err)

	_, _, err = other.ParseSessionToken(tokenString)
	require.Error(t, err)
}

func TestJWT_Expired(t *testing.T) {
	j := NewJWT("secret", -time.Minute)

	tokenString, _, err := j.GenerateSessionToken(uuid.New())
	require.NoError(t, err)

	_, _, err = j.ParseSessionToken(tokenString)
	require.Error(t, err)
}

func TestJWT_TokenType_Mismatch(t *testing.T) {
	j := &JWT{secretKey: "secret", ttl: time.Hour}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID:    uuid.New(),
		TokenType: "refresh",
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, _, err = j.ParseSessionToken(tokenString)
	require.Error(t, err)
}
