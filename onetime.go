package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	// DefaultPasswordResetTTL bounds how long a reset link stays valid
	DefaultPasswordResetTTL = time.Hour
	// DefaultEmailVerificationTTL bounds how long a verification link stays valid
	DefaultEmailVerificationTTL = 24 * time.Hour
)

// OneTimeTokenFlow is the single-use, expiring, scoped token state machine
// shared by password reset and email verification:
//
//	Issue -> Consume (invalid | already used | expired) -> MarkUsed
//
// The apply step sits between Consume and MarkUsed and belongs to the caller,
// all three run on the same transaction.
type OneTimeTokenFlow struct {
	repo    RepositoryManager
	purpose TokenPurpose
	ttl     time.Duration
	now     func() time.Time
}

// NewOneTimeTokenFlow creates a flow for purpose with the given ttl
func NewOneTimeTokenFlow(repo RepositoryManager, purpose TokenPurpose, ttl time.Duration) *OneTimeTokenFlow {
	return &OneTimeTokenFlow{
		repo:    repo,
		purpose: purpose,
		ttl:     ttl,
		now:     time.Now,
	}
}

// NewPasswordResetFlow returns the recovery flow
func NewPasswordResetFlow(repo RepositoryManager, cfg Config) *OneTimeTokenFlow {
	ttl := DefaultPasswordResetTTL
	if cfg != nil && cfg.GetPasswordResetTTL() > 0 {
		ttl = cfg.GetPasswordResetTTL()
	}
	return NewOneTimeTokenFlow(repo, PurposePasswordReset, ttl)
}

// NewEmailVerificationFlow returns the verification flow
func NewEmailVerificationFlow(repo RepositoryManager, cfg Config) *OneTimeTokenFlow {
	ttl := DefaultEmailVerificationTTL
	if cfg != nil && cfg.GetEmailVerificationTTL() > 0 {
		ttl = cfg.GetEmailVerificationTTL()
	}
	return NewOneTimeTokenFlow(repo, PurposeEmailVerification, ttl)
}

// WithClock overrides the clock used for expiry.
func (f *OneTimeTokenFlow) WithClock(now func() time.Time) *OneTimeTokenFlow {
	if now != nil {
		f.now = now
	}
	return f
}

// Purpose returns the scope of tokens produced by the flow
func (f *OneTimeTokenFlow) Purpose() TokenPurpose {
	return f.purpose
}

// TTL returns how long issued tokens stay valid
func (f *OneTimeTokenFlow) TTL() time.Duration {
	return f.ttl
}

// Issue persists a new unused token for userID and returns its value
func (f *OneTimeTokenFlow) Issue(ctx context.Context, tx bun.IDB, userID int64) (string, error) {
	now := f.now()
	record := &OneTimeToken{
		Token:     uuid.NewString(),
		UserID:    userID,
		Purpose:   f.purpose,
		ExpiresAt: now.Add(f.ttl).UTC(),
		Used:      false,
		CreatedAt: now.UTC(),
	}

	if _, err := f.repo.OneTimeTokens().CreateTx(ctx, tx, record); err != nil {
		return "", DatabaseError(err, "failed to store "+string(f.purpose)+" token")
	}

	return record.Token, nil
}

// Consume validates token without changing it. A token issued for another
// purpose is reported as invalid.
func (f *OneTimeTokenFlow) Consume(ctx context.Context, tx bun.IDB, token string) (*OneTimeToken, error) {
	if token == "" {
		return nil, ErrTokenInvalid
	}

	record, err := f.repo.OneTimeTokens().GetByTokenTx(ctx, tx, token)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrTokenInvalid
		}
		return nil, DatabaseError(err, "failed to load "+string(f.purpose)+" token")
	}

	if record.Purpose != f.purpose {
		return nil, ErrTokenInvalid
	}

	if record.Used {
		return nil, ErrTokenAlreadyUsed
	}

	if record.IsExpired(f.now()) {
		return nil, ErrTokenExpired
	}

	return record, nil
}

// MarkUsed retires record. Losing a concurrent race is reported as
// ErrTokenAlreadyUsed so the surrounding transaction rolls back.
func (f *OneTimeTokenFlow) MarkUsed(ctx context.Context, tx bun.IDB, record *OneTimeToken) error {
	won, err := f.repo.OneTimeTokens().MarkUsedTx(ctx, tx, record.ID)
	if err != nil {
		return DatabaseError(err, "failed to retire "+string(f.purpose)+" token")
	}
	if !won {
		return ErrTokenAlreadyUsed
	}
	record.Used = true
	return nil
}

// Redeem runs consume, apply and mark used on tx. apply only runs for a
// valid token and its failure leaves the token unused.
func (f *OneTimeTokenFlow) Redeem(ctx context.Context, tx bun.IDB, token string, apply func(record *OneTimeToken) error) (*OneTimeToken, error) {
	record, err := f.Consume(ctx, tx, token)
	if err != nil {
		return nil, err
	}

	if err := apply(record); err != nil {
		return nil, err
	}

	if err := f.MarkUsed(ctx, tx, record); err != nil {
		return nil, err
	}

	return record, nil
}
