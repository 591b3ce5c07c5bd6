package auth

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

const (
	// MaxAvatarSize is the largest accepted avatar upload
	MaxAvatarSize = 2 << 20
	// UploadsURLPrefix is the public path avatars are served from
	UploadsURLPrefix = "/uploads/"
)

// UpdateUserRequest is a partial profile update. Nil fields are left as is.
type UpdateUserRequest struct {
	Username *string   `json:"username,omitempty"`
	Email    *string   `json:"email,omitempty"`
	Role     *UserRole `json:"role,omitempty"`
	Phone    *string   `json:"phone,omitempty"`
}

// Validate checks the fields that are present
func (r UpdateUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.NilOrNotEmpty, validation.Length(3, 50)),
		validation.Field(&r.Email, is.Email),
		validation.Field(&r.Phone, validation.By(func(value any) error {
			if p, ok := value.(*string); ok && p != nil {
				return ValidatePhone(*p)
			}
			return nil
		})),
	)
}

// AvatarUpload is an image sent by the client
type AvatarUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// UserService implements account management on top of the store
type UserService struct {
	repo     RepositoryManager
	guard    *Guard
	sessions *RefreshRotator
	audit    *AuditCorrelator
	register *RegisterUserHandler
	hasher   PasswordAuthenticator
	uploads  string
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// NewUserService creates a service. register handles Register calls and
// uploadsDir receives avatar files.
func NewUserService(repo RepositoryManager, guard *Guard, sessions *RefreshRotator, register *RegisterUserHandler, uploadsDir string) *UserService {
	return &UserService{
		repo:     repo,
		guard:    guard,
		sessions: sessions,
		audit:    NewAuditCorrelator(repo),
		register: register,
		hasher:   defaultHasher,
		uploads:  uploadsDir,
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithLogger overrides the logger used by the service.
func (s *UserService) WithLogger(logger Logger) *UserService {
	if logger != nil {
		s.logger = logger
		s.audit.WithLogger(logger)
	}
	return s
}

// WithActivitySink sets the sink used to emit account events.
func (s *UserService) WithActivitySink(sink ActivitySink) *UserService {
	s.activity = normalizeActivitySink(sink)
	return s
}

// WithPasswordAuthenticator overrides the password hasher.
func (s *UserService) WithPasswordAuthenticator(hasher PasswordAuthenticator) *UserService {
	if hasher != nil {
		s.hasher = hasher
	}
	return s
}

// WithClock overrides the clock used for stats and file names.
func (s *UserService) WithClock(now func() time.Time) *UserService {
	if now != nil {
		s.now = now
		s.audit.now = now
	}
	return s
}

// Register creates an account with the user role
func (s *UserService) Register(ctx context.Context, msg RegisterUserMessage) (*RegisterUserResponse, error) {
	var resp *RegisterUserResponse
	prev := msg.OnResponse
	msg.OnResponse = func(r *RegisterUserResponse) {
		resp = r
		if prev != nil {
			prev(r)
		}
	}
	if err := s.register.Execute(ctx, msg); err != nil {
		return nil, err
	}
	return resp, nil
}

// Get returns the user with id
func (s *UserService) Get(ctx context.Context, id int64) (*User, error) {
	user, err := s.repo.Users().GetByID(ctx, id)
	if err != nil {
		return nil, DatabaseError(err, "failed to retrieve user")
	}
	return user, nil
}

// Update applies req to the user with id. Owners and admins may update a
// profile, only admins may set a role. A different email clears the
// verified flag.
func (s *UserService) Update(ctx context.Context, claims *SessionClaims, id int64, req UpdateUserRequest) (*User, error) {
	if err := s.guard.AuthorizeOwnerOrAdmin(claims, id); err != nil {
		return nil, err
	}

	if req.Role != nil {
		if err := s.guard.AuthorizeRoleChange(claims); err != nil {
			return nil, err
		}
		if !req.Role.IsValid() {
			return nil, NewValidationError("invalid role", map[string]any{"role": string(*req.Role)})
		}
	}

	if err := req.Validate(); err != nil {
		return nil, FromValidation(err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var updated *User
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := s.repo.Users().GetByIDTx(ctx, tx, id)
		if err != nil {
			return DatabaseError(err, "failed to retrieve user")
		}

		if req.Username != nil {
			user.Username = strings.TrimSpace(*req.Username)
		}

		if req.Email != nil && applyEmailChange(user, strings.TrimSpace(*req.Email)) {
			if _, err := s.repo.OneTimeTokens().RevokeByUserTx(ctx, tx, user.ID, PurposeEmailVerification); err != nil {
				return DatabaseError(err, "failed to revoke verification tokens")
			}
		}

		if req.Phone != nil {
			phone, err := NormalizePhone(*req.Phone)
			if err != nil {
				return err
			}
			user.Phone = phone
		}

		roleChanged := req.Role != nil && *req.Role != user.Role
		if req.Role != nil {
			user.Role = *req.Role
		}

		updated, err = s.repo.Users().UpdateTx(ctx, tx, user)
		if err != nil {
			if IsUniqueViolation(err) || HasTextCode(err, TextCodeConflict) {
				return NewConflictError("username or email already exists")
			}
			return DatabaseError(err, "failed to update user")
		}

		if roleChanged {
			return s.audit.Record(ctx, tx, claims.Username(), AuditActionUpdateRole, updated.Username)
		}
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user")
	}

	return updated, nil
}

// applyEmailChange sets email on user. Only a different address resets
// the verified flag, an empty one removes the address. It reports whether
// the address changed.
func applyEmailChange(user *User, email string) bool {
	if email == user.GetEmail() {
		return false
	}
	if email == "" {
		user.Email = nil
	} else {
		user.Email = &email
	}
	user.EmailVerified = false
	return true
}

// Delete removes the user, its tokens and records a DELETE_USER entry in a
// single transaction
func (s *UserService) Delete(ctx context.Context, claims *SessionClaims, id int64) error {
	if err := s.guard.AuthorizeOwnerOrAdmin(claims, id); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := s.repo.Users().GetByIDTx(ctx, tx, id)
		if err != nil {
			return DatabaseError(err, "failed to retrieve user")
		}

		if err := s.sessions.RevokeAllTx(ctx, tx, id); err != nil {
			return err
		}

		if _, err := s.repo.OneTimeTokens().DeleteByUserTx(ctx, tx, id); err != nil {
			return DatabaseError(err, "failed to delete one-time tokens")
		}

		if err := s.repo.Users().DeleteTx(ctx, tx, id); err != nil {
			return DatabaseError(err, "failed to delete user")
		}

		return s.audit.Record(ctx, tx, claims.Username(), AuditActionDeleteUser, user.Username)
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete user")
	}

	emitActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventUserDeleted,
		Actor:     userActor(claims.UserIDString()),
		UserID:    strconv.FormatInt(id, 10),
	})

	return nil
}

// UpdateAvatar stores an image for the requester and returns the updated user
func (s *UserService) UpdateAvatar(ctx context.Context, claims *SessionClaims, upload AvatarUpload) (*User, error) {
	if claims == nil {
		return nil, ErrUnauthenticated
	}

	if !strings.HasPrefix(strings.ToLower(upload.ContentType), "image/") {
		return nil, NewValidationError("avatar must be an image", map[string]any{"content_type": upload.ContentType})
	}

	if upload.Size > MaxAvatarSize {
		return nil, NewValidationError("avatar exceeds 2MiB", map[string]any{"size": upload.Size})
	}

	if upload.Content == nil {
		return nil, NewValidationError("avatar is required", map[string]any{"avatar": "required"})
	}

	if err := os.MkdirAll(s.uploads, 0o755); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to prepare uploads directory")
	}

	name := fmt.Sprintf("%d_%d%s", claims.UserID(), s.now().Unix(), avatarExt(upload))
	path := filepath.Join(s.uploads, name)

	if err := writeAvatar(path, upload.Content); err != nil {
		return nil, err
	}

	user, err := s.repo.Users().UpdateAvatar(ctx, claims.UserID(), UploadsURLPrefix+name)
	if err != nil {
		_ = os.Remove(path)
		return nil, DatabaseError(err, "failed to store avatar")
	}

	return user, nil
}

func writeAvatar(path string, content io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create avatar file")
	}

	n, err := io.Copy(f, io.LimitReader(content, MaxAvatarSize+1))
	closeErr := f.Close()

	if err == nil && n > MaxAvatarSize {
		_ = os.Remove(path)
		return NewValidationError("avatar exceeds 2MiB", map[string]any{"size": n})
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write avatar file")
	}
	return nil
}

func avatarExt(upload AvatarUpload) string {
	if ext := strings.ToLower(filepath.Ext(upload.Filename)); ext != "" {
		return ext
	}
	sub := strings.TrimPrefix(strings.ToLower(upload.ContentType), "image/")
	if i := strings.IndexAny(sub, ";+"); i >= 0 {
		sub = sub[:i]
	}
	if sub == "" {
		return ".img"
	}
	return "." + sub
}

// ChangePassword replaces the password after checking the current one. All
// refresh tokens of the user are revoked.
func (s *UserService) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	if len(next) < MinPasswordLength {
		return ErrWeakPassword
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := s.repo.Users().GetByIDTx(ctx, tx, userID)
		if err != nil {
			return DatabaseError(err, "failed to retrieve user")
		}

		if err := s.hasher.ComparePasswordAndHash(current, user.PasswordHash); err != nil {
			if HasTextCode(err, TextCodeSecurity) {
				return err
			}
			return NewValidationError("current password is incorrect", map[string]any{"current_password": "mismatch"})
		}

		hash, err := s.hasher.HashPassword(next)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		if err := s.repo.Users().UpdatePasswordTx(ctx, tx, userID, hash); err != nil {
			return DatabaseError(err, "failed to update password")
		}

		if err := s.sessions.RevokeAllTx(ctx, tx, userID); err != nil {
			return err
		}

		return s.audit.Record(ctx, tx, user.Username, AuditActionChangePassword, user.Username)
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to change password")
	}

	id := strconv.FormatInt(userID, 10)
	emitActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		Actor:     userActor(id),
		UserID:    id,
	})

	return nil
}

// LogoutAll revokes every refresh token of userID
func (s *UserService) LogoutAll(ctx context.Context, userID int64) error {
	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return err
	}

	id := strconv.FormatInt(userID, 10)
	emitActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType: ActivityEventLogoutAll,
		Actor:     userActor(id),
		UserID:    id,
	})
	return nil
}

// Stats returns user counts, new users are counted since midnight UTC
func (s *UserService) Stats(ctx context.Context) (*UserStats, error) {
	now := s.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	stats, err := s.repo.Users().Stats(ctx, midnight)
	if err != nil {
		return nil, DatabaseError(err, "failed to compute user stats")
	}
	return stats, nil
}
