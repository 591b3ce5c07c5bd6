package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager is the credential store. Methods with a Tx suffix run on
// the given transaction; the others use the store's own connection.
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	RefreshTokens() RefreshTokens
	OneTimeTokens() OneTimeTokens
	AuditLogs() AuditLogs
	Roles() RoleRepository
}

// Users persists user records
type Users interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	UpdateTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	UpdatePasswordTx(ctx context.Context, tx bun.IDB, id int64, passwordHash string) error
	MarkEmailVerifiedTx(ctx context.Context, tx bun.IDB, id int64) error
	UpdateAvatar(ctx context.Context, id int64, avatarURL string) (*User, error)
	DeleteTx(ctx context.Context, tx bun.IDB, id int64) error
	Stats(ctx context.Context, since time.Time) (*UserStats, error)
}

// RefreshTokens persists refresh tokens
type RefreshTokens interface {
	CreateTx(ctx context.Context, tx bun.IDB, token *RefreshToken) (*RefreshToken, error)
	GetByTokenTx(ctx context.Context, tx bun.IDB, token string) (*RefreshToken, error)
	// MarkUsedTx flips used only if it is still false. It returns false when
	// another caller got there first.
	MarkUsedTx(ctx context.Context, tx bun.IDB, id int64) (bool, error)
	DeleteByUserTx(ctx context.Context, tx bun.IDB, userID int64) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// OneTimeTokens persists password reset and email verification tokens
type OneTimeTokens interface {
	CreateTx(ctx context.Context, tx bun.IDB, token *OneTimeToken) (*OneTimeToken, error)
	GetByTokenTx(ctx context.Context, tx bun.IDB, token string) (*OneTimeToken, error)
	MarkUsedTx(ctx context.Context, tx bun.IDB, id int64) (bool, error)
	DeleteByUserTx(ctx context.Context, tx bun.IDB, userID int64) (int64, error)
	// RevokeByUserTx marks every unused token of purpose held by userID as used
	RevokeByUserTx(ctx context.Context, tx bun.IDB, userID int64, purpose TokenPurpose) (int64, error)
}

// AuditLogs persists audit entries
type AuditLogs interface {
	CreateTx(ctx context.Context, tx bun.IDB, entry *AuditLog) (*AuditLog, error)
	List(ctx context.Context, limit, offset int) ([]*AuditLog, error)
}

// RoleRepository persists the RBAC catalog
type RoleRepository interface {
	ListRoles(ctx context.Context) ([]*Role, error)
	GetRole(ctx context.Context, id int64) (*Role, error)
	CreateRole(ctx context.Context, role *Role) (*Role, error)
	UpdateRole(ctx context.Context, role *Role) (*Role, error)
	DeleteRole(ctx context.Context, id int64) error
	ListPermissions(ctx context.Context) ([]*Permission, error)
	UpdatePermission(ctx context.Context, permission *Permission) (*Permission, error)
	ListRolePermissions(ctx context.Context) ([]*RolePermission, error)
}
