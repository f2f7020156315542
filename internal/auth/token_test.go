package auth

import (
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIDs(t *testing.T) (uuid.UUID, uuid.UUID) {
	t.Helper()

	tokenID, err := uuid.NewV4()
	require.NoError(t, err)
	userID, err := uuid.NewV4()
	require.NoError(t, err)

	return tokenID, userID
}

func TestSigner_RoundTrip(t *testing.T) {
	signer := NewSigner([]byte("secret"), "tests")
	tokenID, userID := newIDs(t)
	now := time.Now()

	signed, err := signer.GenerateJWT(tokenID, userID, "test@mail.com", now, now.Add(time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	claims, err := signer.ParseJWT(signed)
	require.NoError(t, err)

	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "test@mail.com", claims.Email)
	assert.Equal(t, "tests", claims.Issuer)

	gotID, err := claims.TokenID()
	require.NoError(t, err)
	assert.Equal(t, tokenID, gotID)
}

func TestSigner_ParseRejects(t *testing.T) {
	signer := NewSigner([]byte("secret"), "tests")
	tokenID, userID := newIDs(t)
	now := time.Now()

	expired, err := signer.GenerateJWT(tokenID, userID, "a@b.c", now.Add(-2*time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)

	otherKey, err := NewSigner([]byte("other"), "tests").GenerateJWT(tokenID, userID, "a@b.c", now, now.Add(time.Hour))
	require.NoError(t, err)

	otherIssuer, err := NewSigner([]byte("secret"), "elsewhere").GenerateJWT(tokenID, userID, "a@b.c", now, now.Add(time.Hour))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "tests",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not-a-token"},
		{name: "expired", token: expired},
		{name: "wrong key", token: otherKey},
		{name: "wrong issuer", token: otherIssuer},
		{name: "alg none", token: unsigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := signer.ParseJWT(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestClaims_TokenIDMalformed(t *testing.T) {
	c := &Claims{RegisteredClaims: jwt.RegisteredClaims{ID: "nope"}}

	_, err := c.TokenID()
	assert.ErrorIs(t, err, ErrMalformedClaims)
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("secret", 4)
	require.NoError(t, err)

	assert.NotEqual(t, "secret", hash)
	assert.True(t, CheckPasswordHash(hash, "secret"))
	assert.False(t, CheckPasswordHash(hash, "Secret"))
	assert.False(t, CheckPasswordHash("not-a-hash", "secret"))
}
