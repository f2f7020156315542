package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"

	"github.com/ocornejot/api-jwt/internal/auth"
	"github.com/ocornejot/api-jwt/internal/models"
	"github.com/ocornejot/api-jwt/internal/storage"
)

type Service interface {
	Register(ctx context.Context, name, email, password string) (models.User, error)
	Login(ctx context.Context, email, password string) (models.Token, error)
	Logout(ctx context.Context, identity models.Identity) error
	Refresh(ctx context.Context, identity models.Identity) (models.Token, error)
	ResolveIdentity(ctx context.Context, rawToken string) (models.Identity, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	TokenTTL() time.Duration
}

type Config struct {
	Secret       []byte
	Issuer       string
	TokenTTL     time.Duration
	PasswordCost int
}

type service struct {
	storage storage.Storage
	signer  *auth.Signer
	cfg     Config

	// compared against when the email is unknown, so both login failures cost one bcrypt check
	dummyHash string
}

func NewService(st storage.Storage, cfg Config) (*service, error) {
	const op = "service.NewService"

	dummyHash, err := auth.HashPassword("not-a-real-password", cfg.PasswordCost)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &service{
		storage:   st,
		signer:    auth.NewSigner(cfg.Secret, cfg.Issuer),
		cfg:       cfg,
		dummyHash: dummyHash,
	}, nil
}

func (s *service) TokenTTL() time.Duration {
	return s.cfg.TokenTTL
}

func (s *service) Register(ctx context.Context, name, email, password string) (models.User, error) {
	const op = "service.Register"

	email = models.NormalizeEmail(email)

	passwordHash, err := auth.HashPassword(password, s.cfg.PasswordCost)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.CreateUser(ctx, name, email, passwordHash)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *service) Login(ctx context.Context, email, password string) (models.Token, error) {
	const op = "service.Login"

	email = models.NormalizeEmail(email)

	user, err := s.storage.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			auth.CheckPasswordHash(s.dummyHash, password)
			return models.Token{}, fmt.Errorf("%s: %w", op, models.ErrInvalidCredentials)
		}
		return models.Token{}, fmt.Errorf("%s: %w", op, err)
	}

	if ok := auth.CheckPasswordHash(user.PasswordHash, password); !ok {
		return models.Token{}, fmt.Errorf("%s: %w", op, models.ErrInvalidCredentials)
	}

	record, signed, err := s.newToken(user)
	if err != nil {
		return models.Token{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.CreateAccessToken(ctx, record); err != nil {
		return models.Token{}, fmt.Errorf("%s: %w", op, err)
	}

	return s.tokenResponse(signed, user), nil
}

func (s *service) Logout(ctx context.Context, identity models.Identity) error {
	const op = "service.Logout"

	if err := s.storage.RevokeAccessToken(ctx, identity.TokenID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Refresh swaps the presented token for a new one. The old token is unusable afterwards.
func (s *service) Refresh(ctx context.Context, identity models.Identity) (models.Token, error) {
	const op = "service.Refresh"

	record, signed, err := s.newToken(identity.User)
	if err != nil {
		return models.Token{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.RotateAccessToken(ctx, identity.TokenID, record); err != nil {
		return models.Token{}, fmt.Errorf("%s: %w", op, err)
	}

	return s.tokenResponse(signed, identity.User), nil
}

func (s *service) ResolveIdentity(ctx context.Context, rawToken string) (models.Identity, error) {
	const op = "service.ResolveIdentity"

	if rawToken == "" {
		return models.Identity{}, fmt.Errorf("%s: %w", op, models.ErrUnauthorized)
	}

	claims, err := s.signer.ParseJWT(rawToken)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w: %v", op, models.ErrInvalidToken, err)
	}

	tokenID, err := claims.TokenID()
	if err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w: %v", op, models.ErrInvalidToken, err)
	}

	record, err := s.storage.GetAccessToken(ctx, tokenID)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	if record.Revoked {
		return models.Identity{}, fmt.Errorf("%s: %w", op, models.ErrTokenRevoked)
	}

	if record.UserID != claims.UserID {
		return models.Identity{}, fmt.Errorf("%s: %w: subject mismatch", op, models.ErrInvalidToken)
	}

	user, err := s.storage.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return models.Identity{}, fmt.Errorf("%s: %w: %v", op, models.ErrUnauthorized, err)
		}
		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	return models.Identity{
		User:      user,
		TokenID:   tokenID,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

func (s *service) ListUsers(ctx context.Context) ([]models.User, error) {
	const op = "service.ListUsers"

	users, err := s.storage.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return users, nil
}

func (s *service) newToken(user models.User) (models.AccessToken, string, error) {
	tokenID, err := uuid.NewV4()
	if err != nil {
		return models.AccessToken{}, "", err
	}

	now := time.Now().UTC()
	record := models.AccessToken{
		ID:        tokenID,
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TokenTTL),
	}

	signed, err := s.signer.GenerateJWT(tokenID, user.ID, user.Email, record.CreatedAt, record.ExpiresAt)
	if err != nil {
		return models.AccessToken{}, "", err
	}

	return record, signed, nil
}

func (s *service) tokenResponse(signed string, user models.User) models.Token {
	return models.Token{
		AccessToken: signed,
		TokenType:   models.TokenTypeBearer,
		ExpiresIn:   int64(s.cfg.TokenTTL / time.Second),
		User:        user,
	}
}
