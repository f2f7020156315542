package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/ocornejot/api-jwt/internal/models"
)

const pgUniqueViolation = "23505"

type PostgresStorage struct {
	db         *pgxpool.Pool
	connConfig *pgx.ConnConfig
}

var _ Storage = (*PostgresStorage)(nil)

func NewPostgresStorage(ctx context.Context, DbURL string) (*PostgresStorage, error) {
	const op = "storage.NewPostgresStorage"

	poolConfig, err := pgxpool.ParseConfig(DbURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	conn, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &PostgresStorage{
		db:         conn,
		connConfig: poolConfig.ConnConfig,
	}, nil
}

// Migrate applies the embedded goose migrations through a short lived database/sql handle.
func (p *PostgresStorage) Migrate(ctx context.Context) error {
	const op = "storage.PostgresStorage.Migrate"

	db := stdlib.OpenDB(*p.connConfig)
	defer db.Close()

	if err := runMigrations(ctx, goose.DialectPostgres, db, "postgres"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (p *PostgresStorage) CreateUser(ctx context.Context, name, email, passwordHash string) (models.User, error) {
	const op = "storage.CreateUser"

	userID, err := uuid.NewV4()
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	var user models.User
	query := fmt.Sprintf(`INSERT INTO %s(id, name, email, password_hash) VALUES ($1, $2, $3, $4)
	RETURNING id, name, email, password_hash, created_at, updated_at;`, usersTable)

	err = p.db.QueryRow(ctx, query, userID, name, email, passwordHash).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			err = errors.Join(models.ErrUserAlreadyExists, err)
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (p *PostgresStorage) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	const op = "storage.GetUserByID"

	query := fmt.Sprintf("SELECT id, name, email, password_hash, created_at, updated_at FROM %s WHERE id=$1;", usersTable)

	user, err := p.scanUser(p.db.QueryRow(ctx, query, userID))
	if err != nil {
		return user, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (p *PostgresStorage) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	const op = "storage.GetUserByEmail"

	query := fmt.Sprintf("SELECT id, name, email, password_hash, created_at, updated_at FROM %s WHERE email=$1;", usersTable)

	user, err := p.scanUser(p.db.QueryRow(ctx, query, email))
	if err != nil {
		return user, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (p *PostgresStorage) scanUser(row pgx.Row) (models.User, error) {
	var user models.User

	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, errors.Join(models.ErrUserNotFound, err)
		}
		return models.User{}, err
	}

	return user, nil
}

func (p *PostgresStorage) ListUsers(ctx context.Context) ([]models.User, error) {
	const op = "storage.ListUsers"

	users := []models.User{}
	query := fmt.Sprintf("SELECT id, name, email, password_hash, created_at, updated_at FROM %s ORDER BY created_at, id;", usersTable)

	rows, err := p.db.Query(ctx, query)
	if err != nil {
		return users, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	for rows.Next() {
		var user models.User

		err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
		if err != nil {
			return users, fmt.Errorf("%s: %w", op, err)
		}

		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s (rows): %w", op, err)
	}

	return users, nil
}

func (p *PostgresStorage) CreateAccessToken(ctx context.Context, token models.AccessToken) error {
	const op = "storage.CreateAccessToken"

	if err := insertAccessTokenPg(ctx, p.db, token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (p *PostgresStorage) GetAccessToken(ctx context.Context, tokenID uuid.UUID) (models.AccessToken, error) {
	const op = "storage.GetAccessToken"

	var token models.AccessToken
	query := fmt.Sprintf(`SELECT id, user_id, created_at, expires_at, revoked, revoked_at
	FROM %s WHERE id=$1;`, accessTokensTable)

	err := p.db.QueryRow(ctx, query, tokenID).Scan(
		&token.ID,
		&token.UserID,
		&token.CreatedAt,
		&token.ExpiresAt,
		&token.Revoked,
		&token.RevokedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = errors.Join(models.ErrTokenNotFound, err)
		}
		return models.AccessToken{}, fmt.Errorf("%s: %w", op, err)
	}

	return token, nil
}

func (p *PostgresStorage) RevokeAccessToken(ctx context.Context, tokenID uuid.UUID) error {
	const op = "storage.RevokeAccessToken"

	revoked, err := revokeAccessTokenPg(ctx, p.db, tokenID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !revoked {
		if _, err := p.GetAccessToken(ctx, tokenID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%s: %w", op, models.ErrTokenRevoked)
	}

	return nil
}

func (p *PostgresStorage) RotateAccessToken(ctx context.Context, oldID uuid.UUID, next models.AccessToken) error {
	const op = "storage.RotateAccessToken"

	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	revoked, err := revokeAccessTokenPg(ctx, tx, oldID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !revoked {
		return fmt.Errorf("%s: %w", op, models.ErrTokenRevoked)
	}

	if err := insertAccessTokenPg(ctx, tx, next); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (p *PostgresStorage) Close() {
	p.db.Close()
}

// pgExecer is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgExecer interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
}

func insertAccessTokenPg(ctx context.Context, db pgExecer, token models.AccessToken) error {
	query := fmt.Sprintf(`INSERT INTO %s(id, user_id, created_at, expires_at, revoked, revoked_at)
	VALUES ($1, $2, $3, $4, $5, $6)`, accessTokensTable)

	_, err := db.Exec(ctx, query, token.ID, token.UserID, token.CreatedAt, token.ExpiresAt, token.Revoked, token.RevokedAt)

	return err
}

// revokeAccessTokenPg reports whether an active token was revoked by this call.
func revokeAccessTokenPg(ctx context.Context, db pgExecer, tokenID uuid.UUID) (bool, error) {
	query := fmt.Sprintf(`
      UPDATE %s
         SET revoked = TRUE,
             revoked_at = $2
       WHERE id = $1 AND revoked = FALSE
    `, accessTokensTable)

	tag, err := db.Exec(ctx, query, tokenID, time.Now().UTC())
	if err != nil {
		return false, err
	}

	return tag.RowsAffected() == 1, nil
}
