package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ocornejot/api-jwt/internal/models"
)

// SQLiteStorage implements Storage on an embedded SQLite database.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStorage opens dsn, which may be a file path or ":memory:".
func NewSQLiteStorage(ctx context.Context, dsn string) (*SQLiteStorage, error) {
	const op = "storage.NewSQLiteStorage"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// SQLite allows a single writer, and an in-memory database lives only as long as its connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	const op = "storage.SQLiteStorage.Migrate"

	if err := runMigrations(ctx, goose.DialectSQLite3, s.db, "sqlite"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *SQLiteStorage) CreateUser(ctx context.Context, name, email, passwordHash string) (models.User, error) {
	const op = "storage.CreateUser"

	userID, err := uuid.NewV4()
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	query := fmt.Sprintf(`INSERT INTO %s(id, name, email, password_hash, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`, usersTable)

	_, err = s.db.ExecContext(ctx, query, userID, name, email, passwordHash, now.Unix(), now.Unix())
	if err != nil {
		var liteErr *sqlite.Error
		if errors.As(err, &liteErr) && liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			err = errors.Join(models.ErrUserAlreadyExists, err)
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return models.User{
		ID:           userID,
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (s *SQLiteStorage) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	const op = "storage.GetUserByID"

	query := fmt.Sprintf("SELECT id, name, email, password_hash, created_at, updated_at FROM %s WHERE id = ?", usersTable)

	user, err := scanSQLiteUser(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		return user, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *SQLiteStorage) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	const op = "storage.GetUserByEmail"

	query := fmt.Sprintf("SELECT id, name, email, password_hash, created_at, updated_at FROM %s WHERE email = ?", usersTable)

	user, err := scanSQLiteUser(s.db.QueryRowContext(ctx, query, email))
	if err != nil {
		return user, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteUser(row rowScanner) (models.User, error) {
	var (
		user               models.User
		createdAt, updated int64
	)

	if err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &createdAt, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, errors.Join(models.ErrUserNotFound, err)
		}
		return models.User{}, err
	}

	user.CreatedAt = time.Unix(createdAt, 0).UTC()
	user.UpdatedAt = time.Unix(updated, 0).UTC()

	return user, nil
}

func (s *SQLiteStorage) ListUsers(ctx context.Context) ([]models.User, error) {
	const op = "storage.ListUsers"

	users := []models.User{}
	query := fmt.Sprintf("SELECT id, name, email, password_hash, created_at, updated_at FROM %s ORDER BY created_at, rowid", usersTable)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return users, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	for rows.Next() {
		user, err := scanSQLiteUser(rows)
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

func (s *SQLiteStorage) CreateAccessToken(ctx context.Context, token models.AccessToken) error {
	const op = "storage.CreateAccessToken"

	if err := insertAccessTokenSQLite(ctx, s.db, token); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *SQLiteStorage) GetAccessToken(ctx context.Context, tokenID uuid.UUID) (models.AccessToken, error) {
	const op = "storage.GetAccessToken"

	var (
		token                models.AccessToken
		createdAt, expiresAt int64
		revokedAt            sql.NullInt64
	)

	query := fmt.Sprintf(`SELECT id, user_id, created_at, expires_at, revoked, revoked_at
	FROM %s WHERE id = ?`, accessTokensTable)

	err := s.db.QueryRowContext(ctx, query, tokenID).Scan(
		&token.ID,
		&token.UserID,
		&createdAt,
		&expiresAt,
		&token.Revoked,
		&revokedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = errors.Join(models.ErrTokenNotFound, err)
		}
		return models.AccessToken{}, fmt.Errorf("%s: %w", op, err)
	}

	token.CreatedAt = time.Unix(createdAt, 0).UTC()
	token.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	if revokedAt.Valid {
		t := time.Unix(revokedAt.Int64, 0).UTC()
		token.RevokedAt = &t
	}

	return token, nil
}

func (s *SQLiteStorage) RevokeAccessToken(ctx context.Context, tokenID uuid.UUID) error {
	const op = "storage.RevokeAccessToken"

	revoked, err := revokeAccessTokenSQLite(ctx, s.db, tokenID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !revoked {
		if _, err := s.GetAccessToken(ctx, tokenID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%s: %w", op, models.ErrTokenRevoked)
	}

	return nil
}

func (s *SQLiteStorage) RotateAccessToken(ctx context.Context, oldID uuid.UUID, next models.AccessToken) error {
	const op = "storage.RotateAccessToken"

	err := withTx(ctx, s.db, func(ctx context.Context, tx dbtx) error {
		revoked, err := revokeAccessTokenSQLite(ctx, tx, oldID)
		if err != nil {
			return err
		}
		if !revoked {
			return models.ErrTokenRevoked
		}

		return insertAccessTokenSQLite(ctx, tx, next)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *SQLiteStorage) Close() {
	s.db.Close()
}

// withTx runs fn inside a transaction, committing on success and rolling back on error or panic.
func withTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx dbtx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, tx)
}

func insertAccessTokenSQLite(ctx context.Context, db dbtx, token models.AccessToken) error {
	query := fmt.Sprintf(`INSERT INTO %s(id, user_id, created_at, expires_at, revoked, revoked_at)
	VALUES (?, ?, ?, ?, ?, ?)`, accessTokensTable)

	var revokedAt sql.NullInt64
	if token.RevokedAt != nil {
		revokedAt = sql.NullInt64{Int64: token.RevokedAt.Unix(), Valid: true}
	}

	_, err := db.ExecContext(ctx, query,
		token.ID,
		token.UserID,
		token.CreatedAt.Unix(),
		token.ExpiresAt.Unix(),
		token.Revoked,
		revokedAt,
	)

	return err
}

// revokeAccessTokenSQLite reports whether an active token was revoked by this call.
func revokeAccessTokenSQLite(ctx context.Context, db dbtx, tokenID uuid.UUID) (bool, error) {
	query := fmt.Sprintf(`UPDATE %s SET revoked = 1, revoked_at = ? WHERE id = ? AND revoked = 0`, accessTokensTable)

	res, err := db.ExecContext(ctx, query, time.Now().Unix(), tokenID)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}
