package repository

import (
	"context"
	"time"

	auth "github.com/goliatone/go-auth-rbac"
	"github.com/uptrace/bun"
)

type refreshTokens struct {
	db *bun.DB
}

var _ auth.RefreshTokens = (*refreshTokens)(nil)

// NewRefreshTokensRepository returns the bun refresh token repository
func NewRefreshTokensRepository(db *bun.DB) auth.RefreshTokens {
	return &refreshTokens{db: db}
}

func (r *refreshTokens) CreateTx(ctx context.Context, tx bun.IDB, token *auth.RefreshToken) (*auth.RefreshToken, error) {
	if _, err := tx.NewInsert().Model(token).Returning("*").Exec(ctx); err != nil {
		return nil, err
	}
	return token, nil
}

func (r *refreshTokens) GetByTokenTx(ctx context.Context, tx bun.IDB, token string) (*auth.RefreshToken, error) {
	record := &auth.RefreshToken{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "refresh token")
	}
	return record, nil
}

// MarkUsedTx only matches rows that are still unused, so of two
// concurrent callers one sees a single affected row and the other none
func (r *refreshTokens) MarkUsedTx(ctx context.Context, tx bun.IDB, id int64) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*auth.RefreshToken)(nil)).
		Set("used = ?", true).
		Where("id = ?", id).
		Where("used = ?", false).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *refreshTokens) DeleteByUserTx(ctx context.Context, tx bun.IDB, userID int64) (int64, error) {
	res, err := tx.NewDelete().
		Model((*auth.RefreshToken)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *refreshTokens) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*auth.RefreshToken)(nil)).
		Where("expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
