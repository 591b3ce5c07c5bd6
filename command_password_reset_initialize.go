package auth

import (
	"context"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// InitializePasswordResetMessage starts account recovery for an email
type InitializePasswordResetMessage struct {
	Email      string `json:"email" example:"alice@example.com" doc:"Account email."`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset.request" }

// Validate only checks the shape of the address
func (p InitializePasswordResetMessage) Validate() error {
	if !strings.Contains(p.Email, "@") {
		return NewValidationError("invalid email address", map[string]any{"email": "must contain @"})
	}
	return nil
}

// InitializePasswordResetResponse carries the issued token, empty when no
// account matched. Callers must not expose the token to the requester.
type InitializePasswordResetResponse struct {
	Token string
}

// InitializePasswordResetHandler issues reset tokens
type InitializePasswordResetHandler struct {
	repo     RepositoryManager
	flow     *OneTimeTokenFlow
	notifier Notifier
	activity ActivitySink
	logger   Logger
}

// NewInitializePasswordResetHandler creates a handler with sane defaults.
func NewInitializePasswordResetHandler(repo RepositoryManager, flow *OneTimeTokenFlow) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		repo:     repo,
		flow:     flow,
		notifier: noopNotifier{},
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithNotifier sets the channel used to deliver reset links.
func (h *InitializePasswordResetHandler) WithNotifier(n Notifier) *InitializePasswordResetHandler {
	h.notifier = normalizeNotifier(n)
	return h
}

// WithActivitySink sets the sink used to emit reset events.
func (h *InitializePasswordResetHandler) WithActivitySink(sink ActivitySink) *InitializePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return err
	}

	resp := &InitializePasswordResetResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.repo.Users().GetByEmail(ctx, event.Email)
	if err != nil {
		if !IsNotFound(err) {
			return DatabaseError(err, "failed to retrieve user for password reset")
		}
		// no account: same outcome as success
		h.logger.Debug("password reset requested for unknown email")
		h.respond(event, resp)
		return nil
	}

	if user.GetEmail() == "" {
		h.respond(event, resp)
		return nil
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
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize password reset")
	}

	if err := h.notifier.Notify(ctx, Notification{
		Purpose:  PurposePasswordReset,
		Email:    user.GetEmail(),
		Username: user.Username,
		Token:    resp.Token,
	}); err != nil {
		h.logger.Warn("password reset notification failed", "user_id", user.ID, "error", err)
	}

	emitActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventPasswordResetRequest,
		Actor:     userActor(strconv.FormatInt(user.ID, 10)),
		UserID:    strconv.FormatInt(user.ID, 10),
	})

	h.respond(event, resp)
	return nil
}

func (h *InitializePasswordResetHandler) respond(event InitializePasswordResetMessage, resp *InitializePasswordResetResponse) {
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}
}
