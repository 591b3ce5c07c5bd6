package repository

import (
	"context"

	auth "github.com/goliatone/go-auth-rbac"
	"github.com/uptrace/bun"
)

type roles struct {
	db *bun.DB
}

var _ auth.RoleRepository = (*roles)(nil)

// NewRolesRepository returns the bun role and permission catalog
func NewRolesRepository(db *bun.DB) auth.RoleRepository {
	return &roles{db: db}
}

func (r *roles) ListRoles(ctx context.Context) ([]*auth.Role, error) {
	var records []*auth.Role
	if err := r.db.NewSelect().Model(&records).Order("id").Scan(ctx); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *roles) GetRole(ctx context.Context, id int64) (*auth.Role, error) {
	record := &auth.Role{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "role")
	}
	return record, nil
}

func (r *roles) CreateRole(ctx context.Context, role *auth.Role) (*auth.Role, error) {
	if _, err := r.db.NewInsert().Model(role).Returning("*").Exec(ctx); err != nil {
		return nil, err
	}
	return role, nil
}

func (r *roles) UpdateRole(ctx context.Context, role *auth.Role) (*auth.Role, error) {
	res, err := r.db.NewUpdate().
		Model(role).
		Column("name", "description").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if err := mustAffect(res, "role"); err != nil {
		return nil, err
	}
	return role, nil
}

// DeleteRole removes the role and its permission links together
func (r *roles) DeleteRole(ctx context.Context, id int64) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*auth.RolePermission)(nil)).
			Where("role_id = ?", id).
			Exec(ctx); err != nil {
			return err
		}

		res, err := tx.NewDelete().
			Model((*auth.Role)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return err
		}
		return mustAffect(res, "role")
	})
}

func (r *roles) ListPermissions(ctx context.Context) ([]*auth.Permission, error) {
	var records []*auth.Permission
	if err := r.db.NewSelect().Model(&records).Order("id").Scan(ctx); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *roles) UpdatePermission(ctx context.Context, permission *auth.Permission) (*auth.Permission, error) {
	res, err := r.db.NewUpdate().
		Model(permission).
		Column("name", "description").
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if err := mustAffect(res, "permission"); err != nil {
		return nil, err
	}
	return permission, nil
}

func (r *roles) ListRolePermissions(ctx context.Context) ([]*auth.RolePermission, error) {
	var records []*auth.RolePermission
	if err := r.db.NewSelect().Model(&records).Order("role_id", "permission_id").Scan(ctx); err != nil {
		return nil, err
	}
	return records, nil
}
