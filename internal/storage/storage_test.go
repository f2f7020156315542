package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocornejot/api-jwt/internal/config"
	"github.com/ocornejot/api-jwt/internal/models"
)

func newSQLite(t *testing.T) Storage {
	t.Helper()

	ctx := context.Background()

	st, err := New(ctx, config.DB{Driver: config.DriverSQLite, DbURL: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(st.Close)

	require.NoError(t, st.Migrate(ctx))

	return st
}

func newPostgres(t *testing.T) Storage {
	t.Helper()

	dbURL := os.Getenv("AUTH_TEST_DB_URL")
	if dbURL == "" {
		t.Skip("AUTH_TEST_DB_URL not set")
	}

	ctx := context.Background()

	st, err := NewPostgresStorage(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	require.NoError(t, st.Migrate(ctx))

	_, err = st.db.Exec(ctx, "TRUNCATE access_tokens, users")
	require.NoError(t, err)

	return st
}

func TestSQLiteStorage(t *testing.T) {
	runStorageSuite(t, newSQLite)
}

func TestPostgresStorage(t *testing.T) {
	runStorageSuite(t, newPostgres)
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New(context.Background(), config.DB{Driver: "mongo"})
	require.Error(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	st := newSQLite(t)

	require.NoError(t, st.Migrate(context.Background()))
}

func runStorageSuite(t *testing.T, open func(t *testing.T) Storage) {
	t.Run("create and find user", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()

		created, err := st.CreateUser(ctx, "usuario 1", "test@mail.com", "hash")
		require.NoError(t, err)
		require.NotEqual(t, uuid.Nil, created.ID)
		assert.Equal(t, "test@mail.com", created.Email)
		assert.False(t, created.CreatedAt.IsZero())

		byEmail, err := st.GetUserByEmail(ctx, "test@mail.com")
		require.NoError(t, err)
		assert.Equal(t, created.ID, byEmail.ID)
		assert.Equal(t, "hash", byEmail.PasswordHash)

		byID, err := st.GetUserByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "usuario 1", byID.Name)
	})

	t.Run("duplicate email", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()

		_, err := st.CreateUser(ctx, "first", "dup@mail.com", "hash")
		require.NoError(t, err)

		_, err = st.CreateUser(ctx, "second", "dup@mail.com", "hash")
		require.ErrorIs(t, err, models.ErrUserAlreadyExists)

		users, err := st.ListUsers(ctx)
		require.NoError(t, err)
		assert.Len(t, users, 1)
	})

	t.Run("duplicate email in other case", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()

		_, err := st.CreateUser(ctx, "first", "case@mail.com", "hash")
		require.NoError(t, err)

		_, err = st.CreateUser(ctx, "second", "Case@Mail.com", "hash")
		require.ErrorIs(t, err, models.ErrUserAlreadyExists)
	})

	t.Run("missing user", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()

		_, err := st.GetUserByEmail(ctx, "nobody@mail.com")
		require.ErrorIs(t, err, models.ErrUserNotFound)

		_, err = st.GetUserByID(ctx, uuid.Must(uuid.NewV4()))
		require.ErrorIs(t, err, models.ErrUserNotFound)
	})

	t.Run("list users", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()

		users, err := st.ListUsers(ctx)
		require.NoError(t, err)
		assert.NotNil(t, users)
		assert.Empty(t, users)

		for _, email := range []string{"a@mail.com", "b@mail.com", "c@mail.com"} {
			_, err := st.CreateUser(ctx, "user", email, "hash")
			require.NoError(t, err)
		}

		users, err = st.ListUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 3)
	})

	t.Run("access token lifecycle", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()

		user, err := st.CreateUser(ctx, "user", "tok@mail.com", "hash")
		require.NoError(t, err)

		now := time.Now().UTC().Truncate(time.Second)
		first := models.AccessToken{
			ID:        uuid.Must(uuid.NewV4()),
			UserID:    user.ID,
			CreatedAt: now,
			ExpiresAt: now.Add(time.Hour),
		}
		require.NoError(t, st.CreateAccessToken(ctx, first))

		got, err := st.GetAccessToken(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.UserID)
		assert.False(t, got.Revoked)
		assert.Nil(t, got.RevokedAt)
		assert.True(t, got.ExpiresAt.Equal(first.ExpiresAt))

		second := first
		second.ID = uuid.Must(uuid.NewV4())
		require.NoError(t, st.RotateAccessToken(ctx, first.ID, second))

		got, err = st.GetAccessToken(ctx, first.ID)
		require.NoError(t, err)
		assert.True(t, got.Revoked)
		assert.NotNil(t, got.RevokedAt)

		third := first
		third.ID = uuid.Must(uuid.NewV4())
		require.ErrorIs(t, st.RotateAccessToken(ctx, first.ID, third), models.ErrTokenRevoked)

		_, err = st.GetAccessToken(ctx, third.ID)
		require.ErrorIs(t, err, models.ErrTokenNotFound, "failed rotation must not store the new token")

		require.NoError(t, st.RevokeAccessToken(ctx, second.ID))
		require.ErrorIs(t, st.RevokeAccessToken(ctx, second.ID), models.ErrTokenRevoked)
		require.ErrorIs(t, st.RevokeAccessToken(ctx, uuid.Must(uuid.NewV4())), models.ErrTokenNotFound)
	})
}
