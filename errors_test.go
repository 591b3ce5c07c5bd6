package auth_test

import (
	"errors"
	"fmt"
	"testing"

	validation "github.com/go-ozzo/ozzo-validation"
	auth "github.com/goliatone/go-auth-rbac"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid credentials", auth.ErrInvalidCredentials, 401},
		{"token invalid", auth.ErrTokenInvalid, 401},
		{"token expired", auth.ErrTokenExpired, 401},
		{"token used", auth.ErrTokenAlreadyUsed, 401},
		{"unauthenticated", auth.ErrUnauthenticated, 401},
		{"forbidden", auth.ErrForbidden, 403},
		{"weak password", auth.ErrWeakPassword, 400},
		{"validation", auth.NewValidationError("bad", nil), 400},
		{"conflict", auth.NewConflictError("taken"), 409},
		{"not found", auth.NewNotFoundError("user"), 404},
		{"rate limited", auth.ErrRateLimited, 429},
		{"security", auth.NewSecurityError(errors.New("bad salt"), "corrupt"), 500},
		{"plain", errors.New("boom"), 500},
		{"wrapped rich", fmt.Errorf("outer: %w", auth.ErrForbidden), 403},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.HTTPStatus(tt.err))
		})
	}
}

func TestDatabaseError(t *testing.T) {
	assert.Nil(t, auth.DatabaseError(nil, "noop"))

	notFound := auth.NewNotFoundError("user")
	assert.Same(t, notFound, auth.DatabaseError(notFound, "lookup"))

	conflict := auth.DatabaseError(errors.New("UNIQUE constraint failed: users.email"), "insert")
	assert.Equal(t, 409, auth.HTTPStatus(conflict))
	assert.True(t, auth.HasTextCode(conflict, auth.TextCodeConflict))

	driver := auth.DatabaseError(errors.New("database is locked"), "insert")
	assert.Equal(t, 500, auth.HTTPStatus(driver))
	assert.True(t, auth.HasTextCode(driver, auth.TextCodeDatabase))

	var richErr *goerrors.Error
	require.True(t, goerrors.As(driver, &richErr))
	assert.Equal(t, goerrors.CategoryInternal, richErr.Category)
}

func TestFromValidation(t *testing.T) {
	assert.Nil(t, auth.FromValidation(nil))

	err := auth.FromValidation(validation.Errors{
		"username": errors.New("the length must be between 3 and 50"),
		"email":    nil,
	})

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, goerrors.CategoryValidation, richErr.Category)
	assert.Equal(t, auth.TextCodeValidation, richErr.TextCode)
	assert.Contains(t, richErr.Metadata, "username")
	assert.NotContains(t, richErr.Metadata, "email")
	assert.NotContains(t, richErr.Message, "email")

	assert.Nil(t, auth.FromValidation(validation.Errors{"email": nil}))
}

func TestTokenStateErrors(t *testing.T) {
	assert.True(t, auth.IsTokenStateError(auth.ErrTokenInvalid))
	assert.True(t, auth.IsTokenStateError(auth.ErrTokenExpired))
	assert.True(t, auth.IsTokenStateError(auth.ErrTokenAlreadyUsed))
	assert.False(t, auth.IsTokenStateError(auth.ErrInvalidCredentials))
	assert.False(t, auth.IsTokenStateError(errors.New("invalid token")))
}
