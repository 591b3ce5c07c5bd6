package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Logger is the logging contract shared by every component.
// Args are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetPasswordResetTTL() time.Duration
	GetEmailVerificationTTL() time.Duration
	GetContextKey() string
	GetCookieName() string
	GetCookieSecure() bool
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// TokenPurpose scopes a one-time token to a single flow
type TokenPurpose string

const (
	PurposePasswordReset     TokenPurpose = "password_reset"
	PurposeEmailVerification TokenPurpose = "email_verification"
)

// Notification is a token dispatched to a user out of band
type Notification struct {
	Purpose  TokenPurpose
	Email    string
	Username string
	Token    string
}

// Notifier delivers one-time tokens. Delivery failures never fail the flow
// that produced the token.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	if f == nil {
		return nil
	}
	return f(ctx, n)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notification) error { return nil }

func normalizeNotifier(n Notifier) Notifier {
	if n == nil {
		return noopNotifier{}
	}
	return n
}

type defLogger struct{}

func (d defLogger) Debug(msg string, args ...any) {
	slog.Debug(prefix(msg), args...)
}

func (d defLogger) Info(msg string, args ...any) {
	slog.Info(prefix(msg), args...)
}

func (d defLogger) Warn(msg string, args ...any) {
	slog.Warn(prefix(msg), args...)
}

func (d defLogger) Error(msg string, args ...any) {
	slog.Error(prefix(msg), args...)
}

func prefix(s string) string {
	return fmt.Sprintf("AUTH %s", s)
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
