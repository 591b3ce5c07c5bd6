package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// DefaultPhoneRegion is used to parse numbers given without a country code
const DefaultPhoneRegion = "US"

type RegisterUserMessage struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Password   string `json:"password"`
	OnResponse func(resp *RegisterUserResponse)
}

func (e RegisterUserMessage) Type() string { return "user.register" }

// Validate checks the registration payload
func (e RegisterUserMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Username, validation.Required, validation.Length(3, 50)),
		validation.Field(&e.Email, is.Email),
		validation.Field(&e.Phone, validation.By(ValidatePhone)),
		validation.Field(&e.Password, validation.Required, validation.Length(MinPasswordLength, 128)),
	)
}

// RegisterUserResponse holds the created user. VerificationToken is set
// when an email was given.
type RegisterUserResponse struct {
	User              *User
	VerificationToken string
}

type RegisterUserHandler struct {
	repo     RepositoryManager
	verify   *OneTimeTokenFlow
	hasher   PasswordAuthenticator
	notifier Notifier
	activity ActivitySink
	logger   Logger
}

// NewRegisterUserHandler creates a handler with sane defaults. verify may be
// nil, in which case no verification token is issued.
func NewRegisterUserHandler(repo RepositoryManager, verify *OneTimeTokenFlow) *RegisterUserHandler {
	return &RegisterUserHandler{
		repo:     repo,
		verify:   verify,
		hasher:   defaultHasher,
		notifier: noopNotifier{},
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithPasswordAuthenticator overrides the password hasher.
func (h *RegisterUserHandler) WithPasswordAuthenticator(hasher PasswordAuthenticator) *RegisterUserHandler {
	if hasher != nil {
		h.hasher = hasher
	}
	return h
}

// WithNotifier sets the channel used to deliver verification links.
func (h *RegisterUserHandler) WithNotifier(n Notifier) *RegisterUserHandler {
	h.notifier = normalizeNotifier(n)
	return h
}

// WithActivitySink sets the sink used to emit registration events.
func (h *RegisterUserHandler) WithActivitySink(sink ActivitySink) *RegisterUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RegisterUserHandler) WithLogger(logger Logger) *RegisterUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	event.Username = strings.TrimSpace(event.Username)
	event.Email = strings.TrimSpace(event.Email)

	if err := event.Validate(); err != nil {
		return FromValidation(err)
	}

	phone, err := NormalizePhone(event.Phone)
	if err != nil {
		return err
	}

	resp := &RegisterUserResponse{}
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		hash, err := h.hasher.HashPassword(event.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return richErr
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		user := &User{
			Username:     event.Username,
			PasswordHash: hash,
			Role:         RoleUser,
			Phone:        phone,
		}
		if event.Email != "" {
			email := event.Email
			user.Email = &email
		}

		created, err := h.repo.Users().CreateTx(ctx, tx, user)
		if err != nil {
			if IsUniqueViolation(err) || HasTextCode(err, TextCodeConflict) {
				return NewConflictError("username or email already exists")
			}
			return DatabaseError(err, "could not create user")
		}
		resp.User = created

		if created.GetEmail() != "" && h.verify != nil {
			token, err := h.verify.Issue(ctx, tx, created.ID)
			if err != nil {
				return err
			}
			resp.VerificationToken = token
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}

		return goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed")
	}

	if resp.VerificationToken != "" {
		sendVerification(ctx, h.notifier, h.logger, resp.User, resp.VerificationToken)
	}

	id := strconv.FormatInt(resp.User.ID, 10)
	emitActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventUserRegistered,
		Actor:     userActor(id),
		UserID:    id,
		Metadata:  map[string]any{"username": resp.User.Username},
	})

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

// ValidatePhone is an ozzo rule accepting empty values and numbers that
// parse as valid
func ValidatePhone(value any) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, err := parsePhone(s); err != nil {
		return errors.New("must be a valid phone number")
	}
	return nil
}

// NormalizePhone returns the E.164 form of raw, or nil when raw is empty
func NormalizePhone(raw string) (*string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	num, err := parsePhone(raw)
	if err != nil {
		return nil, NewValidationError("invalid phone number", map[string]any{"phone": raw})
	}
	formatted := phonenumbers.Format(num, phonenumbers.E164)
	return &formatted, nil
}

func parsePhone(raw string) (*phonenumbers.PhoneNumber, error) {
	num, err := phonenumbers.Parse(raw, DefaultPhoneRegion)
	if err != nil {
		return nil, err
	}
	if !phonenumbers.IsValidNumber(num) {
		return nil, goerrors.New("phone number is not valid", goerrors.CategoryValidation)
	}
	return num, nil
}
