package auth

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
)

// RoleCatalog manages the role and permission catalog. The catalog is
// display data, guard decisions only look at the role in the claims.
type RoleCatalog struct {
	repo   RepositoryManager
	guard  *Guard
	logger Logger
}

// NewRoleCatalog creates a catalog backed by repo
func NewRoleCatalog(repo RepositoryManager, guard *Guard) *RoleCatalog {
	return &RoleCatalog{
		repo:   repo,
		guard:  guard,
		logger: defLogger{},
	}
}

// WithLogger overrides the logger used by the catalog.
func (c *RoleCatalog) WithLogger(logger Logger) *RoleCatalog {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// RoleInput is the payload to create or update a role
type RoleInput struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// Validate checks the role payload
func (r RoleInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(2, 50)),
	)
}

// PermissionInput is the payload to update a permission
type PermissionInput struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// Validate checks the permission payload
func (p PermissionInput) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required, validation.Length(2, 100)),
	)
}

func (c *RoleCatalog) ListRoles(ctx context.Context) ([]*Role, error) {
	roles, err := c.repo.Roles().ListRoles(ctx)
	if err != nil {
		return nil, DatabaseError(err, "failed to list roles")
	}
	return roles, nil
}

func (c *RoleCatalog) ListPermissions(ctx context.Context) ([]*Permission, error) {
	perms, err := c.repo.Roles().ListPermissions(ctx)
	if err != nil {
		return nil, DatabaseError(err, "failed to list permissions")
	}
	return perms, nil
}

func (c *RoleCatalog) ListRolePermissions(ctx context.Context) ([]*RolePermission, error) {
	links, err := c.repo.Roles().ListRolePermissions(ctx)
	if err != nil {
		return nil, DatabaseError(err, "failed to list role permissions")
	}
	return links, nil
}

// CreateRole adds a role, a duplicate name is a conflict
func (c *RoleCatalog) CreateRole(ctx context.Context, claims *SessionClaims, in RoleInput) (*Role, error) {
	if err := c.guard.RequireAdmin(claims); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return nil, FromValidation(err)
	}

	role, err := c.repo.Roles().CreateRole(ctx, &Role{Name: in.Name, Description: in.Description})
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, NewConflictError("role already exists")
		}
		return nil, DatabaseError(err, "failed to create role")
	}

	c.logger.Info("role created", "role", role.Name, "by", claims.Username())
	return role, nil
}

func (c *RoleCatalog) UpdateRole(ctx context.Context, claims *SessionClaims, id int64, in RoleInput) (*Role, error) {
	if err := c.guard.RequireAdmin(claims); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return nil, FromValidation(err)
	}

	role, err := c.repo.Roles().GetRole(ctx, id)
	if err != nil {
		return nil, DatabaseError(err, "failed to retrieve role")
	}

	role.Name = in.Name
	role.Description = in.Description

	role, err = c.repo.Roles().UpdateRole(ctx, role)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, NewConflictError("role already exists")
		}
		return nil, DatabaseError(err, "failed to update role")
	}
	return role, nil
}

func (c *RoleCatalog) DeleteRole(ctx context.Context, claims *SessionClaims, id int64) error {
	if err := c.guard.RequireAdmin(claims); err != nil {
		return err
	}
	if err := c.repo.Roles().DeleteRole(ctx, id); err != nil {
		return DatabaseError(err, "failed to delete role")
	}
	c.logger.Info("role deleted", "role_id", id, "by", claims.Username())
	return nil
}

func (c *RoleCatalog) UpdatePermission(ctx context.Context, claims *SessionClaims, id int64, in PermissionInput) (*Permission, error) {
	if err := c.guard.RequireAdmin(claims); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return nil, FromValidation(err)
	}

	perm, err := c.repo.Roles().UpdatePermission(ctx, &Permission{ID: id, Name: in.Name, Description: in.Description})
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, NewConflictError("permission already exists")
		}
		return nil, DatabaseError(err, "failed to update permission")
	}
	return perm, nil
}
