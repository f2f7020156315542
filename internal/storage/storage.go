package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/gofrs/uuid"
	"github.com/pressly/goose/v3"

	"github.com/ocornejot/api-jwt/internal/config"
	"github.com/ocornejot/api-jwt/internal/models"
	"github.com/ocornejot/api-jwt/internal/storage/migrations"
)

const (
	usersTable        = "users"
	accessTokensTable = "access_tokens"
)

type Storage interface {

	// Users
	CreateUser(ctx context.Context, name, email, passwordHash string) (models.User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)

	// Issued access tokens
	CreateAccessToken(ctx context.Context, token models.AccessToken) error
	GetAccessToken(ctx context.Context, tokenID uuid.UUID) (models.AccessToken, error)
	RevokeAccessToken(ctx context.Context, tokenID uuid.UUID) error
	// RotateAccessToken revokes oldID and stores next in one transaction.
	// It fails with models.ErrTokenRevoked when oldID is no longer active.
	RotateAccessToken(ctx context.Context, oldID uuid.UUID, next models.AccessToken) error

	Migrate(ctx context.Context) error
	Close()
}

// New opens the storage selected by cfg.Driver.
func New(ctx context.Context, cfg config.DB) (Storage, error) {
	const op = "storage.New"

	switch cfg.Driver {
	case config.DriverPostgres:
		st, err := NewPostgresStorage(ctx, cfg.DbURL)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return st, nil
	case config.DriverSQLite:
		st, err := NewSQLiteStorage(ctx, cfg.DbURL)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%s: unknown driver %q", op, cfg.Driver)
	}
}

func runMigrations(ctx context.Context, dialect goose.Dialect, db *sql.DB, dir string) error {
	const op = "storage.runMigrations"

	fsys, err := fs.Sub(migrations.FS, dir)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
