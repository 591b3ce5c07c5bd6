package auth_test

import (
	"fmt"
	"strings"
	"testing"

	auth "github.com/goliatone/go-auth-rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgon2HashRoundTrip(t *testing.T) {
	hasher := auth.NewArgon2Hasher(cheapArgon2)

	passwords := []string{"Secret123", "correct horse battery staple", "ünïcødé-päss", strings.Repeat("x", 128)}
	for i, password := range passwords {
		t.Run(fmt.Sprintf("password_%d", i), func(t *testing.T) {
			hash, err := hasher.HashPassword(password)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$"))

			ok, err := hasher.Verify(hash, password)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = hasher.Verify(hash, password+"!")
			require.NoError(t, err)
			assert.False(t, ok)

			assert.NoError(t, hasher.ComparePasswordAndHash(password, hash))
			assert.ErrorIs(t, hasher.ComparePasswordAndHash("not-"+password, hash), auth.ErrMismatchedHashAndPassword)
		})
	}
}

func TestArgon2HashesAreSalted(t *testing.T) {
	hasher := auth.NewArgon2Hasher(cheapArgon2)

	first, err := hasher.HashPassword("Secret123")
	require.NoError(t, err)
	second, err := hasher.HashPassword("Secret123")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestArgon2RejectsEmptyPassword(t *testing.T) {
	_, err := auth.NewArgon2Hasher(cheapArgon2).HashPassword("")
	assert.ErrorIs(t, err, auth.ErrNoEmptyString)
}

func TestArgon2MalformedHashIsSecurityError(t *testing.T) {
	hasher := auth.NewArgon2Hasher(cheapArgon2)

	tests := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"bcrypt", "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"},
		{"bad version", "$argon2id$v=18$m=8192,t=1,p=1$c29tZXNhbHQ$a2V5"},
		{"bad params", "$argon2id$v=19$m=x,t=1,p=1$c29tZXNhbHQ$a2V5"},
		{"zero params", "$argon2id$v=19$m=0,t=0,p=1$c29tZXNhbHQ$a2V5"},
		{"bad salt", "$argon2id$v=19$m=8192,t=1,p=1$!!!$a2V5"},
		{"missing key", "$argon2id$v=19$m=8192,t=1,p=1$c29tZXNhbHQ$"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := hasher.ComparePasswordAndHash("Secret123", tt.hash)
			require.Error(t, err)
			assert.True(t, auth.HasTextCode(err, auth.TextCodeSecurity))
			assert.Equal(t, 500, auth.HTTPStatus(err))
		})
	}
}

func TestPackageLevelHashHelpers(t *testing.T) {
	hash, err := auth.HashPassword("Secret123")
	require.NoError(t, err)
	assert.NoError(t, auth.ComparePasswordAndHash("Secret123", hash))
	assert.Error(t, auth.ComparePasswordAndHash("Secret124", hash))
}
