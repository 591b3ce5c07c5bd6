package auth_test

import (
	"context"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	user := &auth.User{ID: 7, Username: "alice", Role: auth.RoleUser}

	token, err := env.codec.Encode(auth.NewSessionClaims(user, env.clock.Now(), time.Minute))
	require.NoError(t, err)

	for _, raw := range []string{token, "Bearer " + token, "bearer  " + token} {
		claims, err := env.guard.Authenticate(raw)
		require.NoError(t, err)
		assert.Equal(t, int64(7), claims.UserID())
	}

	_, err = env.guard.Authenticate("")
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)

	_, err = env.guard.Authenticate("Bearer ")
	assert.Error(t, err)

	_, err = env.guard.Authenticate("Bearer garbage")
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestGuardDecisions(t *testing.T) {
	env := newTestEnv(t)

	alice := claimsFor(&auth.User{ID: 1, Username: "alice", Role: auth.RoleUser})
	root := claimsFor(&auth.User{ID: 2, Username: "root", Role: auth.RoleAdmin})

	tests := []struct {
		name   string
		check  func() error
		expect error
	}{
		{"owner", func() error { return env.guard.AuthorizeOwnerOrAdmin(alice, 1) }, nil},
		{"other user", func() error { return env.guard.AuthorizeOwnerOrAdmin(alice, 2) }, auth.ErrForbidden},
		{"admin on other", func() error { return env.guard.AuthorizeOwnerOrAdmin(root, 1) }, nil},
		{"no claims", func() error { return env.guard.AuthorizeOwnerOrAdmin(nil, 1) }, auth.ErrUnauthenticated},
		{"user role change on self", func() error { return env.guard.AuthorizeRoleChange(alice) }, auth.ErrForbidden},
		{"admin role change", func() error { return env.guard.AuthorizeRoleChange(root) }, nil},
		{"require admin as user", func() error { return env.guard.RequireAdmin(alice) }, auth.ErrForbidden},
		{"require admin as admin", func() error { return env.guard.RequireAdmin(root) }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check()
			if tt.expect == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.expect)
		})
	}

	assert.Equal(t, 403, auth.HTTPStatus(auth.ErrForbidden))
}

func TestClaimsContext(t *testing.T) {
	ctx := context.Background()

	_, ok := auth.GetClaims(ctx)
	assert.False(t, ok)

	claims := claimsFor(&auth.User{ID: 3, Username: "carol", Role: auth.RoleUser})
	got, ok := auth.GetClaims(auth.WithClaimsContext(ctx, claims))
	require.True(t, ok)
	assert.Same(t, claims, got)

	_, ok = auth.GetClaims(auth.WithClaimsContext(ctx, nil))
	assert.False(t, ok)
}
