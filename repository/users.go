package repository

import (
	"context"
	"time"

	auth "github.com/goliatone/go-auth-rbac"
	"github.com/uptrace/bun"
)

type users struct {
	db *bun.DB
}

var _ auth.Users = (*users)(nil)

// NewUsersRepository returns the bun users repository
func NewUsersRepository(db *bun.DB) auth.Users {
	return &users{db: db}
}

func (r *users) GetByID(ctx context.Context, id int64) (*auth.User, error) {
	return r.GetByIDTx(ctx, r.db, id)
}

func (r *users) GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*auth.User, error) {
	return r.getBy(ctx, tx, "id", id)
}

func (r *users) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	return r.getBy(ctx, r.db, "username", username)
}

func (r *users) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.getBy(ctx, r.db, "email", email)
}

func (r *users) getBy(ctx context.Context, tx bun.IDB, column string, value any) (*auth.User, error) {
	record := &auth.User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return record, nil
}

func (r *users) CreateTx(ctx context.Context, tx bun.IDB, user *auth.User) (*auth.User, error) {
	if user.Role == "" {
		user.Role = auth.RoleUser
	}
	if _, err := tx.NewInsert().Model(user).Returning("*").Exec(ctx); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *users) UpdateTx(ctx context.Context, tx bun.IDB, user *auth.User) (*auth.User, error) {
	res, err := tx.NewUpdate().
		Model(user).
		Column("username", "email", "role", "phone", "email_verified", "avatar_url").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if err := mustAffect(res, "user"); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *users) UpdatePasswordTx(ctx context.Context, tx bun.IDB, id int64, passwordHash string) error {
	res, err := tx.NewUpdate().
		Model((*auth.User)(nil)).
		Set("password_hash = ?", passwordHash).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return mustAffect(res, "user")
}

func (r *users) MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, id int64) error {
	res, err := tx.NewUpdate().
		Model((*auth.User)(nil)).
		Set("email_verified = ?", true).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return mustAffect(res, "user")
}

func (r *users) UpdateAvatar(ctx context.Context, id int64, avatarURL string) (*auth.User, error) {
	res, err := r.db.NewUpdate().
		Model((*auth.User)(nil)).
		Set("avatar_url = ?", avatarURL).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if err := mustAffect(res, "user"); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *users) DeleteTx(ctx context.Context, tx bun.IDB, id int64) error {
	res, err := tx.NewDelete().
		Model((*auth.User)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return mustAffect(res, "user")
}

func (r *users) Stats(ctx context.Context, since time.Time) (*auth.UserStats, error) {
	total, err := r.db.NewSelect().Model((*auth.User)(nil)).Count(ctx)
	if err != nil {
		return nil, err
	}

	admins, err := r.db.NewSelect().
		Model((*auth.User)(nil)).
		Where("role = ?", auth.RoleAdmin).
		Count(ctx)
	if err != nil {
		return nil, err
	}

	recent, err := r.db.NewSelect().
		Model((*auth.User)(nil)).
		Where("created_at >= ?", since.UTC().Format("2006-01-02 15:04:05")).
		Count(ctx)
	if err != nil {
		return nil, err
	}

	return &auth.UserStats{
		TotalUsers: total,
		AdminUsers: admins,
		NewToday:   recent,
	}, nil
}
