package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	auth "github.com/goliatone/go-auth-rbac"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type mngr struct {
	db            *bun.DB
	users         auth.Users
	refreshTokens auth.RefreshTokens
	oneTimeTokens auth.OneTimeTokens
	auditLogs     auth.AuditLogs
	roles         auth.RoleRepository
}

var _ auth.RepositoryManager = (*mngr)(nil)

// NewRepositoryManager wires every bun backed repository around db
func NewRepositoryManager(db *bun.DB) auth.RepositoryManager {
	return &mngr{
		db:            db,
		users:         NewUsersRepository(db),
		refreshTokens: NewRefreshTokensRepository(db),
		oneTimeTokens: NewOneTimeTokensRepository(db),
		auditLogs:     NewAuditLogsRepository(db),
		roles:         NewRolesRepository(db),
	}
}

// Open connects to the sqlite database at dsn
func Open(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}

	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.refreshTokens == nil {
		return errors.New("repository refreshTokens should be initialized")
	}

	if m.oneTimeTokens == nil {
		return errors.New("repository oneTimeTokens should be initialized")
	}

	if m.auditLogs == nil {
		return errors.New("repository auditLogs should be initialized")
	}

	if m.roles == nil {
		return errors.New("repository roles should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() auth.Users {
	return m.users
}

func (m mngr) RefreshTokens() auth.RefreshTokens {
	return m.refreshTokens
}

func (m mngr) OneTimeTokens() auth.OneTimeTokens {
	return m.oneTimeTokens
}

func (m mngr) AuditLogs() auth.AuditLogs {
	return m.auditLogs
}

func (m mngr) Roles() auth.RoleRepository {
	return m.roles
}
