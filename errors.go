package auth

import (
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeTokenInvalid       = "TOKEN_INVALID"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenAlreadyUsed   = "TOKEN_ALREADY_USED"
	TextCodeUnauthenticated    = "UNAUTHENTICATED"
	TextCodeForbidden          = "FORBIDDEN"
	TextCodeValidation         = "VALIDATION_FAILED"
	TextCodeConflict           = "CONFLICT"
	TextCodeNotFound           = "NOT_FOUND"
	TextCodeDatabase           = "DATABASE_ERROR"
	TextCodeSecurity           = "SECURITY_ERROR"
	TextCodeRateLimited        = "RATE_LIMITED"
)

// TokenStateMessage is the only message clients see for token failures.
const TokenStateMessage = "invalid or expired token"

var (
	// ErrInvalidCredentials hides whether the username or the password was wrong
	ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized).
				WithTextCode(TextCodeInvalidCredentials)

	// ErrTokenInvalid covers bad signatures, parse failures and unknown tokens
	ErrTokenInvalid = goerrors.New("invalid token", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized).
			WithTextCode(TextCodeTokenInvalid)

	ErrTokenExpired = goerrors.New("token expired", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized).
			WithTextCode(TextCodeTokenExpired)

	// ErrTokenAlreadyUsed signals a replayed single-use token
	ErrTokenAlreadyUsed = goerrors.New("token already used", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized).
				WithTextCode(TextCodeTokenAlreadyUsed)

	ErrUnauthenticated = goerrors.New("not authenticated", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized).
				WithTextCode(TextCodeUnauthenticated)

	ErrForbidden = goerrors.New("insufficient privileges", goerrors.CategoryAuthz).
			WithCode(goerrors.CodeForbidden).
			WithTextCode(TextCodeForbidden)

	ErrWeakPassword = goerrors.New("password must be at least 8 characters", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithTextCode(TextCodeValidation)

	// ErrMismatchedHashAndPassword is returned when a password does not match its hash
	ErrMismatchedHashAndPassword = goerrors.New("password does not match", goerrors.CategoryAuth).
					WithCode(goerrors.CodeUnauthorized).
					WithTextCode(TextCodeInvalidCredentials)

	// ErrMalformedHash means stored data is corrupted, not that the user erred
	ErrMalformedHash = goerrors.New("stored password hash is malformed", goerrors.CategoryInternal).
				WithCode(goerrors.CodeInternal).
				WithTextCode(TextCodeSecurity)

	ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
				WithCode(goerrors.CodeBadRequest).
				WithTextCode(TextCodeValidation)

	ErrRateLimited = goerrors.New("too many requests", goerrors.CategoryRateLimit).
			WithCode(http.StatusTooManyRequests).
			WithTextCode(TextCodeRateLimited)
)

// NewValidationError creates a 400 error with optional field details
func NewValidationError(message string, fields map[string]any) *goerrors.Error {
	err := goerrors.New(message, goerrors.CategoryValidation).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(TextCodeValidation)
	if len(fields) > 0 {
		err = err.WithMetadata(fields)
	}
	return err
}

// NewNotFoundError creates a 404 error for the given resource
func NewNotFoundError(resource string) *goerrors.Error {
	return goerrors.New(resource+" not found", goerrors.CategoryNotFound).
		WithCode(goerrors.CodeNotFound).
		WithTextCode(TextCodeNotFound).
		WithMetadata(map[string]any{"resource": resource})
}

// NewConflictError creates a 409 error
func NewConflictError(message string) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryConflict).
		WithCode(goerrors.CodeConflict).
		WithTextCode(TextCodeConflict)
}

// NewSecurityError wraps an integrity failure that must never reach clients
func NewSecurityError(err error, message string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithCode(goerrors.CodeInternal).
		WithTextCode(TextCodeSecurity)
}

// DatabaseError wraps a storage failure. Rich errors pass through untouched
// so that not found and conflict keep their category.
func DatabaseError(err error, message string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	if IsUniqueViolation(err) {
		return goerrors.Wrap(err, goerrors.CategoryConflict, message).
			WithCode(goerrors.CodeConflict).
			WithTextCode(TextCodeConflict)
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithCode(goerrors.CodeInternal).
		WithTextCode(TextCodeDatabase)
}

// FromValidation converts ozzo validation errors into a validation error
// carrying one metadata entry per failing field.
func FromValidation(err error) error {
	if err == nil {
		return nil
	}
	fields := map[string]any{}
	if verrs, ok := err.(validation.Errors); ok {
		// Error() on Errors dereferences every entry, nil ones included
		err = verrs.Filter()
		if err == nil {
			return nil
		}
		for field, ferr := range err.(validation.Errors) {
			fields[field] = ferr.Error()
		}
	}
	return NewValidationError("invalid data: "+err.Error(), fields)
}

// IsUniqueViolation reports whether err comes from a unique constraint.
// The sqlite drivers only expose this through the message text.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

// HasTextCode reports whether err is a rich error with the given text code
func HasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// IsNotFound reports whether err belongs to the not found category
func IsNotFound(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryNotFound
}

// IsTokenStateError reports invalid, expired or already used token failures
func IsTokenStateError(err error) bool {
	return HasTextCode(err, TextCodeTokenInvalid) ||
		HasTextCode(err, TextCodeTokenExpired) ||
		HasTextCode(err, TextCodeTokenAlreadyUsed)
}

// HTTPStatus maps an error to the status code the API responds with
func HTTPStatus(err error) int {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return http.StatusInternalServerError
	}

	switch richErr.Category {
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
