package models

import (
	"errors"
	"time"

	"github.com/gofrs/uuid"
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenRevoked  = errors.New("token revoked")
)

const TokenTypeBearer = "bearer"

// AccessToken is the server side record of an issued JWT, keyed by its jti.
// A JWT is only accepted while its record exists and is not revoked.
type AccessToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CreatedAt time.Time
	ExpiresAt time.Time
	Revoked   bool
	RevokedAt *time.Time
}

// Token is returned by login and refresh.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	User        User   `json:"user"`
}

// Identity is what the authentication gate resolves from a bearer token.
type Identity struct {
	User      User
	TokenID   uuid.UUID
	ExpiresAt time.Time
}
