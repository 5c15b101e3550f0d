package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lair-chat/server/internal/v1/storage"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func TestRegisterAndAuthenticateWithPassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", "Alice", "alice@example.com", "hunter22222")
	require.NoError(t, err)

	result, err := svc.AuthenticateWithPassword(ctx, "alice", "hunter22222", "cli")
	require.NoError(t, err)
	require.Equal(t, user.ID, result.User.ID)
	require.NotEmpty(t, result.Session.ID)
}

func TestAuthenticateWithPasswordRejectsWrongPassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "bob", "Bob", "", "correcthorse")
	require.NoError(t, err)

	_, err = svc.AuthenticateWithPassword(ctx, "bob", "wrong-password", "cli")
	require.Error(t, err)
}

func TestAuthenticateWithPasswordRejectsUnknownUser(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.AuthenticateWithPassword(context.Background(), "nobody", "whatever1", "cli")
	require.Error(t, err)
}

func TestAuthenticateWithToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "carol", "Carol", "", "correcthorse")
	require.NoError(t, err)
	first, err := svc.AuthenticateWithPassword(ctx, "carol", "correcthorse", "cli")
	require.NoError(t, err)

	result, err := svc.AuthenticateWithToken(ctx, first.Session.ID)
	require.NoError(t, err)
	require.Equal(t, first.User.ID, result.User.ID)
}

func TestLogoutRevokesToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "dan", "Dan", "", "correcthorse")
	require.NoError(t, err)
	result, err := svc.AuthenticateWithPassword(ctx, "dan", "correcthorse", "cli")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, result.Session.ID))

	_, err = svc.AuthenticateWithToken(ctx, result.Session.ID)
	require.Error(t, err)
}

func TestRegisterDuplicateUsernameConflicts(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "erin", "Erin", "", "correcthorse")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "erin", "Erin Two", "", "anotherpass")
	require.Error(t, err)
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Register(context.Background(), "frank", "Frank", "", "short")
	require.Error(t, err)
}
