package auth

import (
	"context"
	"strconv"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// FinalizePasswordResetMessage redeems a reset token for a new password
type FinalizePasswordResetMessage struct {
	Token    string `json:"token" example:"350399bc-c095-4bdc-a59c-3352d44848e4" doc:"Reset token"`
	Password string `json:"new_password" example:"some_secret_word" doc:"New password"`
}

func (p FinalizePasswordResetMessage) Type() string { return "user.password_reset.finalize" }

// FinalizePasswordResetHandler applies a password reset. The password
// update, session revocation, audit entry and token retirement commit
// together or not at all.
type FinalizePasswordResetHandler struct {
	repo     RepositoryManager
	flow     *OneTimeTokenFlow
	sessions *RefreshRotator
	audit    *AuditCorrelator
	hasher   PasswordAuthenticator
	activity ActivitySink
	logger   Logger
}

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
func NewFinalizePasswordResetHandler(repo RepositoryManager, flow *OneTimeTokenFlow, sessions *RefreshRotator) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		repo:     repo,
		flow:     flow,
		sessions: sessions,
		audit:    NewAuditCorrelator(repo),
		hasher:   defaultHasher,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *FinalizePasswordResetHandler) WithActivitySink(sink ActivitySink) *FinalizePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	if logger != nil {
		h.logger = logger
		h.audit.WithLogger(logger)
	}
	return h
}

// WithPasswordAuthenticator overrides the password hasher.
func (h *FinalizePasswordResetHandler) WithPasswordAuthenticator(hasher PasswordAuthenticator) *FinalizePasswordResetHandler {
	if hasher != nil {
		h.hasher = hasher
	}
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	if len(event.Password) < MinPasswordLength {
		return ErrWeakPassword
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var userID int64

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := h.flow.Redeem(ctx, tx, event.Token, func(record *OneTimeToken) error {
			userID = record.UserID

			user, err := h.repo.Users().GetByIDTx(ctx, tx, record.UserID)
			if err != nil {
				if IsNotFound(err) {
					return ErrTokenInvalid
				}
				return DatabaseError(err, "failed to load user for password reset")
			}

			hash, err := h.hasher.HashPassword(event.Password)
			if err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
			}

			if err := h.repo.Users().UpdatePasswordTx(ctx, tx, user.ID, hash); err != nil {
				return DatabaseError(err, "failed to update user password")
			}

			if err := h.sessions.RevokeAllTx(ctx, tx, user.ID); err != nil {
				return err
			}

			return h.audit.Record(ctx, tx, user.Username, AuditActionResetPassword, user.Username)
		})
		return err
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to finalize password reset")
	}

	id := strconv.FormatInt(userID, 10)
	emitActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		Actor:     userActor(id),
		UserID:    id,
	})

	return nil
}
