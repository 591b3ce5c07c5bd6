package auth

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DefaultRefreshTokenTTL is the lifetime of a refresh token
const DefaultRefreshTokenTTL = 7 * 24 * time.Hour

// RefreshRotator issues, validates and retires refresh tokens.
//
// A token moves from active to used exactly once. Rotate looks the token
// up, flips used with a conditional update and issues the new pair, all in
// one transaction. Concurrent rotations of the same token race on the
// conditional update and only one of them wins.
type RefreshRotator struct {
	repo     RepositoryManager
	issuer   AccessIssuer
	ttl      time.Duration
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// NewRefreshRotator creates a rotator that mints tokens valid for ttl
func NewRefreshRotator(repo RepositoryManager, issuer AccessIssuer, ttl time.Duration) *RefreshRotator {
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}
	return &RefreshRotator{
		repo:     repo,
		issuer:   issuer,
		ttl:      ttl,
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithLogger overrides the logger used by the rotator.
func (r *RefreshRotator) WithLogger(logger Logger) *RefreshRotator {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// WithActivitySink sets the sink used to emit rotation events.
func (r *RefreshRotator) WithActivitySink(sink ActivitySink) *RefreshRotator {
	r.activity = normalizeActivitySink(sink)
	return r
}

// WithClock overrides the clock used for expiry.
func (r *RefreshRotator) WithClock(now func() time.Time) *RefreshRotator {
	if now != nil {
		r.now = now
	}
	return r
}

// Create mints and stores a new refresh token for userID
func (r *RefreshRotator) Create(ctx context.Context, userID int64) (string, error) {
	var token string
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		token, err = r.CreateTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// CreateTx mints and stores a new refresh token on tx
func (r *RefreshRotator) CreateTx(ctx context.Context, tx bun.IDB, userID int64) (string, error) {
	now := r.now()
	record := &RefreshToken{
		Token:     uuid.NewString(),
		UserID:    userID,
		ExpiresAt: now.Add(r.ttl).UTC(),
		Used:      false,
		CreatedAt: now.UTC(),
	}

	if _, err := r.repo.RefreshTokens().CreateTx(ctx, tx, record); err != nil {
		return "", DatabaseError(err, "failed to store refresh token")
	}

	return record.Token, nil
}

// Rotate exchanges a refresh token for a new access and refresh pair.
// It fails with ErrTokenInvalid, ErrTokenAlreadyUsed or ErrTokenExpired.
func (r *RefreshRotator) Rotate(ctx context.Context, token string) (*TokenPair, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during token refresh")
	default:
	}

	if token == "" {
		return nil, ErrTokenInvalid
	}

	var pair *TokenPair
	var owner int64

	err := r.repo.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		record, err := r.repo.RefreshTokens().GetByTokenTx(ctx, tx, token)
		if err != nil {
			if IsNotFound(err) {
				return ErrTokenInvalid
			}
			return DatabaseError(err, "failed to load refresh token")
		}
		owner = record.UserID

		if record.Used {
			return ErrTokenAlreadyUsed
		}

		if record.IsExpired(r.now()) {
			return ErrTokenExpired
		}

		// mark used before anything is issued
		won, err := r.repo.RefreshTokens().MarkUsedTx(ctx, tx, record.ID)
		if err != nil {
			return DatabaseError(err, "failed to retire refresh token")
		}
		if !won {
			return ErrTokenAlreadyUsed
		}

		user, err := r.repo.Users().GetByIDTx(ctx, tx, record.UserID)
		if err != nil {
			if IsNotFound(err) {
				return ErrTokenInvalid
			}
			return DatabaseError(err, "failed to load token owner")
		}

		access, err := r.issuer.IssueAccess(user)
		if err != nil {
			return err
		}

		refresh, err := r.CreateTx(ctx, tx, user.ID)
		if err != nil {
			return err
		}

		pair = &TokenPair{
			AccessToken:  access,
			RefreshToken: refresh,
			ExpiresIn:    int64(r.issuer.AccessTTL() / time.Second),
			TokenType:    TokenTypeBearer,
		}
		return nil
	})

	if err != nil {
		if HasTextCode(err, TextCodeTokenAlreadyUsed) {
			r.logger.Warn("refresh token replay detected", "user_id", owner)
			emitActivity(ctx, r.activity, r.logger, ActivityEvent{
				EventType: ActivityEventTokenReplay,
				Actor:     userActor(strconv.FormatInt(owner, 10)),
				UserID:    strconv.FormatInt(owner, 10),
			})
		}
		return nil, err
	}

	emitActivity(ctx, r.activity, r.logger, ActivityEvent{
		EventType: ActivityEventTokenRefreshed,
		Actor:     userActor(strconv.FormatInt(owner, 10)),
		UserID:    strconv.FormatInt(owner, 10),
	})

	return pair, nil
}

// RevokeAll deletes every refresh token owned by userID
func (r *RefreshRotator) RevokeAll(ctx context.Context, userID int64) error {
	return r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return r.RevokeAllTx(ctx, tx, userID)
	})
}

// RevokeAllTx deletes every refresh token owned by userID on tx
func (r *RefreshRotator) RevokeAllTx(ctx context.Context, tx bun.IDB, userID int64) error {
	n, err := r.repo.RefreshTokens().DeleteByUserTx(ctx, tx, userID)
	if err != nil {
		return DatabaseError(err, "failed to revoke refresh tokens")
	}
	r.logger.Debug("refresh tokens revoked", "user_id", userID, "count", n)
	return nil
}

// PurgeExpired removes expired refresh tokens and returns how many went
func (r *RefreshRotator) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := r.repo.RefreshTokens().DeleteExpired(ctx, r.now().UTC())
	if err != nil {
		return 0, DatabaseError(err, "failed to purge refresh tokens")
	}
	return n, nil
}
