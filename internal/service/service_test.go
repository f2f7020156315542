package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ocornejot/api-jwt/internal/auth"
	"github.com/ocornejot/api-jwt/internal/models"
	"github.com/ocornejot/api-jwt/internal/storage"
)

var errStorage = errors.New("storage unavailable")

// failingStorage wraps a real storage and fails the operations named in fail.
type failingStorage struct {
	storage.Storage
	fail map[string]bool
}

func (f *failingStorage) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	if f.fail["GetUserByEmail"] {
		return models.User{}, errStorage
	}
	return f.Storage.GetUserByEmail(ctx, email)
}

func (f *failingStorage) CreateAccessToken(ctx context.Context, token models.AccessToken) error {
	if f.fail["CreateAccessToken"] {
		return errStorage
	}
	return f.Storage.CreateAccessToken(ctx, token)
}

func testConfig() Config {
	return Config{
		Secret:       []byte("test-secret"),
		Issuer:       "tests",
		TokenTTL:     time.Hour,
		PasswordCost: bcrypt.MinCost,
	}
}

func setupTestService(t *testing.T) (*service, storage.Storage) {
	t.Helper()

	ctx := context.Background()

	st, err := storage.NewSQLiteStorage(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.Migrate(ctx))

	svc, err := NewService(st, testConfig())
	require.NoError(t, err)

	return svc, st
}

func TestService_Register(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "usuario 1", "test@mail.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "test@mail.com", user.Email)

	stored, err := st.GetUserByEmail(ctx, "test@mail.com")
	require.NoError(t, err)
	assert.NotEqual(t, "secret", stored.PasswordHash)
	assert.True(t, auth.CheckPasswordHash(stored.PasswordHash, "secret"))

	_, err = svc.Register(ctx, "usuario 2", "test@mail.com", "secret")
	require.ErrorIs(t, err, models.ErrUserAlreadyExists)

	users, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestService_EmailIsCaseInsensitive(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "usuario 1", " Test@Mail.com ", "secret")
	require.NoError(t, err)
	assert.Equal(t, "test@mail.com", user.Email)

	_, err = svc.Register(ctx, "usuario 2", "test@mail.com", "secret")
	require.ErrorIs(t, err, models.ErrUserAlreadyExists)

	token, err := svc.Login(ctx, "TEST@mail.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, token.User.ID)
}

func TestService_Login(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "usuario 1", "test@mail.com", "secret")
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{name: "successful login", email: "test@mail.com", password: "secret"},
		{name: "wrong password", email: "test@mail.com", password: "secreto", wantErr: models.ErrInvalidCredentials},
		{name: "unknown email", email: "ghost@mail.com", password: "secret", wantErr: models.ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := svc.Login(ctx, tt.email, tt.password)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.NotErrorIs(t, err, models.ErrUserNotFound, "must not reveal whether the email exists")
				return
			}

			require.NoError(t, err)
			assert.NotEmpty(t, token.AccessToken)
			assert.Equal(t, "bearer", token.TokenType)
			assert.Equal(t, int64(3600), token.ExpiresIn)
			assert.Equal(t, tt.email, token.User.Email)

			identity, err := svc.ResolveIdentity(ctx, token.AccessToken)
			require.NoError(t, err)
			assert.Equal(t, tt.email, identity.User.Email)
		})
	}
}

func TestService_LoginStorageFailures(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "usuario 1", "test@mail.com", "secret")
	require.NoError(t, err)

	for _, op := range []string{"GetUserByEmail", "CreateAccessToken"} {
		t.Run(op, func(t *testing.T) {
			svc.storage = &failingStorage{Storage: st, fail: map[string]bool{op: true}}

			_, err := svc.Login(ctx, "test@mail.com", "secret")
			require.ErrorIs(t, err, errStorage)
			assert.NotErrorIs(t, err, models.ErrInvalidCredentials)
		})
	}
}

func TestService_RefreshAndLogout(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "usuario 1", "test@mail.com", "secret")
	require.NoError(t, err)

	first, err := svc.Login(ctx, "test@mail.com", "secret")
	require.NoError(t, err)

	identity, err := svc.ResolveIdentity(ctx, first.AccessToken)
	require.NoError(t, err)

	second, err := svc.Refresh(ctx, identity)
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.Equal(t, identity.User.ID, second.User.ID)

	_, err = svc.ResolveIdentity(ctx, first.AccessToken)
	require.ErrorIs(t, err, models.ErrTokenRevoked)

	_, err = svc.Refresh(ctx, identity)
	require.ErrorIs(t, err, models.ErrTokenRevoked, "a token can be refreshed only once")

	next, err := svc.ResolveIdentity(ctx, second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, identity.User.Email, next.User.Email)

	require.NoError(t, svc.Logout(ctx, next))

	_, err = svc.ResolveIdentity(ctx, second.AccessToken)
	require.ErrorIs(t, err, models.ErrTokenRevoked)
}

func TestService_ResolveIdentityRejects(t *testing.T) {
	svc, st := setupTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "usuario 1", "test@mail.com", "secret")
	require.NoError(t, err)

	now := time.Now()
	signer := auth.NewSigner([]byte("test-secret"), "tests")

	// validly signed, but never recorded as issued
	unknownID := uuid.Must(uuid.NewV4())
	unrecorded, err := signer.GenerateJWT(unknownID, user.ID, user.Email, now, now.Add(time.Hour))
	require.NoError(t, err)

	// recorded for one user, claims another
	otherID := uuid.Must(uuid.NewV4())
	require.NoError(t, st.CreateAccessToken(ctx, models.AccessToken{
		ID: otherID, UserID: user.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	mismatched, err := signer.GenerateJWT(otherID, uuid.Must(uuid.NewV4()), user.Email, now, now.Add(time.Hour))
	require.NoError(t, err)

	forged, err := auth.NewSigner([]byte("wrong"), "tests").GenerateJWT(otherID, user.ID, user.Email, now, now.Add(time.Hour))
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "empty", token: "", wantErr: models.ErrUnauthorized},
		{name: "garbage", token: "abc.def.ghi", wantErr: models.ErrInvalidToken},
		{name: "forged", token: forged, wantErr: models.ErrInvalidToken},
		{name: "not issued", token: unrecorded, wantErr: models.ErrTokenNotFound},
		{name: "subject mismatch", token: mismatched, wantErr: models.ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ResolveIdentity(ctx, tt.token)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_TokenTTL(t *testing.T) {
	svc, _ := setupTestService(t)

	assert.Equal(t, time.Hour, svc.TokenTTL())
}
