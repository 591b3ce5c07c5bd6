package repository

import (
	"context"

	auth "github.com/goliatone/go-auth-rbac"
	"github.com/uptrace/bun"
)

type oneTimeTokens struct {
	db *bun.DB
}

var _ auth.OneTimeTokens = (*oneTimeTokens)(nil)

// NewOneTimeTokensRepository returns the bun password reset and email
// verification token repository
func NewOneTimeTokensRepository(db *bun.DB) auth.OneTimeTokens {
	return &oneTimeTokens{db: db}
}

func (r *oneTimeTokens) CreateTx(ctx context.Context, tx bun.IDB, token *auth.OneTimeToken) (*auth.OneTimeToken, error) {
	if _, err := tx.NewInsert().Model(token).Returning("*").Exec(ctx); err != nil {
		return nil, err
	}
	return token, nil
}

func (r *oneTimeTokens) GetByTokenTx(ctx context.Context, tx bun.IDB, token string) (*auth.OneTimeToken, error) {
	record := &auth.OneTimeToken{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "token")
	}
	return record, nil
}

func (r *oneTimeTokens) MarkUsedTx(ctx context.Context, tx bun.IDB, id int64) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*auth.OneTimeToken)(nil)).
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

func (r *oneTimeTokens) DeleteByUserTx(ctx context.Context, tx bun.IDB, userID int64) (int64, error) {
	res, err := tx.NewDelete().
		Model((*auth.OneTimeToken)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *oneTimeTokens) RevokeByUserTx(ctx context.Context, tx bun.IDB, userID int64, purpose auth.TokenPurpose) (int64, error) {
	res, err := tx.NewUpdate().
		Model((*auth.OneTimeToken)(nil)).
		Set("used = ?", true).
		Where("user_id = ?", userID).
		Where("purpose = ?", purpose).
		Where("used = ?", false).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
