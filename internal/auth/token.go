package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
)

var ErrMalformedClaims = errors.New("malformed claims")

type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	jwt.RegisteredClaims
}

// TokenID returns the jti claim as a UUID.
func (c *Claims) TokenID() (uuid.UUID, error) {
	id, err := uuid.FromString(c.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: jti: %v", ErrMalformedClaims, err)
	}

	return id, nil
}

type Signer struct {
	key    []byte
	issuer string
}

func NewSigner(key []byte, issuer string) *Signer {
	return &Signer{
		key:    key,
		issuer: issuer,
	}
}

func (s *Signer) GenerateJWT(tokenID, userID uuid.UUID, email string, issuedAt, expiresAt time.Time) (string, error) {
	const op = "auth.GenerateJWT"

	claims := &Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID.String(),
			Issuer:    s.issuer,
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// ParseJWT verifies signature, algorithm, issuer and expiry and returns the claims.
func (s *Signer) ParseJWT(tokenStr string) (*Claims, error) {
	const op = "auth.ParseJWT"

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return s.key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("%s: token is not valid", op)
	}

	if claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("%s: %w: user_id", op, ErrMalformedClaims)
	}

	return claims, nil
}
