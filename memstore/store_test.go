package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-rbac"
	"github.com/goliatone/go-auth-rbac/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func strPtr(s string) *string { return &s }

func TestRunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	boom := errors.New("boom")
	err := store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := store.Users().CreateTx(ctx, tx, &auth.User{Username: "alice", PasswordHash: "h", Role: auth.RoleUser})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.Users().GetByUsername(ctx, "alice")
	assert.True(t, auth.IsNotFound(err))

	err = store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := store.Users().CreateTx(ctx, tx, &auth.User{Username: "alice", PasswordHash: "h", Role: auth.RoleUser})
		return err
	})
	require.NoError(t, err)

	user, err := store.Users().GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.NotNil(t, user.CreatedAt)
}

func TestRollbackKeepsWritesOutsideTx(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	user, err := store.Users().CreateTx(ctx, nil, &auth.User{Username: "alice", PasswordHash: "h", Role: auth.RoleUser})
	require.NoError(t, err)

	started := make(chan struct{})
	done := make(chan error, 2)

	boom := errors.New("boom")
	err = store.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		go func() {
			close(started)
			_, err := store.Roles().CreateRole(ctx, &auth.Role{Name: "auditor"})
			done <- err
			_, err = store.Users().UpdateAvatar(ctx, user.ID, "/uploads/1_1.png")
			done <- err
		}()
		<-started
		time.Sleep(20 * time.Millisecond)

		_, err := store.Users().CreateTx(ctx, tx, &auth.User{Username: "bob", PasswordHash: "h", Role: auth.RoleUser})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, <-done)
	require.NoError(t, <-done)

	_, err = store.Users().GetByUsername(ctx, "bob")
	assert.True(t, auth.IsNotFound(err))

	roles, err := store.Roles().ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "auditor", roles[0].Name)

	got, err := store.Users().GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AvatarURL)
	assert.Equal(t, "/uploads/1_1.png", *got.AvatarURL)
}

func TestRunInTxHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := memstore.New().RunInTx(ctx, nil, func(context.Context, bun.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestUsersUnique(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	users := store.Users()

	_, err := users.CreateTx(ctx, nil, &auth.User{Username: "alice", Email: strPtr("a@example.com"), Role: auth.RoleUser})
	require.NoError(t, err)

	_, err = users.CreateTx(ctx, nil, &auth.User{Username: "alice", Role: auth.RoleUser})
	assert.True(t, auth.IsUniqueViolation(err))

	_, err = users.CreateTx(ctx, nil, &auth.User{Username: "bob", Email: strPtr("a@example.com"), Role: auth.RoleUser})
	assert.True(t, auth.IsUniqueViolation(err))

	bob, err := users.CreateTx(ctx, nil, &auth.User{Username: "bob", Role: auth.RoleUser})
	require.NoError(t, err)

	bob.Username = "alice"
	_, err = users.UpdateTx(ctx, nil, bob)
	assert.True(t, auth.IsUniqueViolation(err))
}

func TestUpdateKeepsPasswordHash(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	users := store.Users()

	user, err := users.CreateTx(ctx, nil, &auth.User{Username: "alice", PasswordHash: "secret-hash", Role: auth.RoleUser})
	require.NoError(t, err)

	user.PasswordHash = ""
	user.Role = auth.RoleAdmin
	_, err = users.UpdateTx(ctx, nil, user)
	require.NoError(t, err)

	stored, err := users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret-hash", stored.PasswordHash)
	assert.Equal(t, auth.RoleAdmin, stored.Role)
}

func TestMarkUsedOnlyOnce(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	now := time.Now()

	token, err := store.OneTimeTokens().CreateTx(ctx, nil, &auth.OneTimeToken{
		Token:     "abc",
		UserID:    1,
		Purpose:   auth.PurposePasswordReset,
		ExpiresAt: now.Add(time.Hour),
	})
	require.NoError(t, err)

	won, err := store.OneTimeTokens().MarkUsedTx(ctx, nil, token.ID)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.OneTimeTokens().MarkUsedTx(ctx, nil, token.ID)
	require.NoError(t, err)
	assert.False(t, won)

	stored, err := store.OneTimeTokens().GetByTokenTx(ctx, nil, "abc")
	require.NoError(t, err)
	assert.True(t, stored.Used)
}

func TestAuditFailureSwitch(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	store.FailAuditWrites = true

	_, err := store.AuditLogs().CreateTx(ctx, nil, &auth.AuditLog{AdminUsername: "root", Action: auth.AuditActionDeleteUser, TargetUsername: "bob"})
	assert.Error(t, err)

	logs, err := store.AuditLogs().List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
