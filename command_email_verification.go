package auth

import (
	"context"
	"strconv"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// RequestEmailVerificationMessage asks for a verification link
type RequestEmailVerificationMessage struct {
	UserID     int64
	OnResponse func(resp *RequestEmailVerificationResponse)
}

func (m RequestEmailVerificationMessage) Type() string { return "user.email_verification.request" }

// RequestEmailVerificationResponse reports the issued token, empty when
// the address was already verified.
type RequestEmailVerificationResponse struct {
	Token           string
	AlreadyVerified bool
}

// RequestEmailVerificationHandler issues verification tokens
type RequestEmailVerificationHandler struct {
	repo     RepositoryManager
	flow     *OneTimeTokenFlow
	notifier Notifier
	activity ActivitySink
	logger   Logger
}

// NewRequestEmailVerificationHandler creates a handler with sane defaults.
func NewRequestEmailVerificationHandler(repo RepositoryManager, flow *OneTimeTokenFlow) *RequestEmailVerificationHandler {
	return &RequestEmailVerificationHandler{
		repo:     repo,
		flow:     flow,
		notifier: noopNotifier{},
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithNotifier sets the channel used to deliver verification links.
func (h *RequestEmailVerificationHandler) WithNotifier(n Notifier) *RequestEmailVerificationHandler {
	h.notifier = normalizeNotifier(n)
	return h
}

// WithActivitySink sets the sink used to emit verification events.
func (h *RequestEmailVerificationHandler) WithActivitySink(sink ActivitySink) *RequestEmailVerificationHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RequestEmailVerificationHandler) WithLogger(logger Logger) *RequestEmailVerificationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RequestEmailVerificationHandler) Execute(ctx context.Context, event RequestEmailVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during email verification request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RequestEmailVerificationHandler) execute(ctx context.Context, event RequestEmailVerificationMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	resp := &RequestEmailVerificationResponse{}

	user, err := h.repo.Users().GetByID(ctx, event.UserID)
	if err != nil {
		return DatabaseError(err, "failed to retrieve user for email verification")
	}

	if user.EmailVerified {
		resp.AlreadyVerified = true
		h.respond(event, resp)
		return nil
	}

	if user.GetEmail() == "" {
		return NewValidationError("user has no email address", map[string]any{"email": "required"})
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		token, err := h.flow.Issue(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		resp.Token = token
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue verification token")
	}

	sendVerification(ctx, h.notifier, h.logger, user, resp.Token)

	id := strconv.FormatInt(user.ID, 10)
	emitActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventEmailVerificationSent,
		Actor:     userActor(id),
		UserID:    id,
	})

	h.respond(event, resp)
	return nil
}

func (h *RequestEmailVerificationHandler) respond(event RequestEmailVerificationMessage, resp *RequestEmailVerificationResponse) {
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}
}

// VerifyEmailMessage redeems a verification token
type VerifyEmailMessage struct {
	Token string `json:"token"`
}

func (m VerifyEmailMessage) Type() string { return "user.email_verification.finalize" }

// VerifyEmailHandler marks an address as verified
type VerifyEmailHandler struct {
	repo     RepositoryManager
	flow     *OneTimeTokenFlow
	activity ActivitySink
	logger   Logger
}

// NewVerifyEmailHandler creates a handler with sane defaults.
func NewVerifyEmailHandler(repo RepositoryManager, flow *OneTimeTokenFlow) *VerifyEmailHandler {
	return &VerifyEmailHandler{
		repo:     repo,
		flow:     flow,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit verification events.
func (h *VerifyEmailHandler) WithActivitySink(sink ActivitySink) *VerifyEmailHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *VerifyEmailHandler) WithLogger(logger Logger) *VerifyEmailHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *VerifyEmailHandler) Execute(ctx context.Context, event VerifyEmailMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during email verification",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerifyEmailHandler) execute(ctx context.Context, event VerifyEmailMessage) error {
	if event.Token == "" {
		return NewValidationError("token is required", map[string]any{"token": "required"})
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var userID int64

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := h.flow.Redeem(ctx, tx, event.Token, func(record *OneTimeToken) error {
			userID = record.UserID
			if err := h.repo.Users().MarkEmailVerifiedTx(ctx, tx, record.UserID); err != nil {
				if IsNotFound(err) {
					return ErrTokenInvalid
				}
				return DatabaseError(err, "failed to mark email verified")
			}
			return nil
		})
		return err
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to verify email")
	}

	id := strconv.FormatInt(userID, 10)
	emitActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventEmailVerified,
		Actor:     userActor(id),
		UserID:    id,
	})

	return nil
}

func sendVerification(ctx context.Context, notifier Notifier, logger Logger, user *User, token string) {
	err := normalizeNotifier(notifier).Notify(ctx, Notification{
		Purpose:  PurposeEmailVerification,
		Email:    user.GetEmail(),
		Username: user.Username,
		Token:    token,
	})
	if err != nil {
		normalizeLogger(logger).Warn("verification notification failed", "user_id", user.ID, "error", err)
	}
}
