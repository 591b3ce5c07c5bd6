package repository

import (
	"context"

	auth "github.com/goliatone/go-auth-rbac"
	"github.com/uptrace/bun"
)

type auditLogs struct {
	db *bun.DB
}

var _ auth.AuditLogs = (*auditLogs)(nil)

// NewAuditLogsRepository returns the bun audit log repository
func NewAuditLogsRepository(db *bun.DB) auth.AuditLogs {
	return &auditLogs{db: db}
}

func (r *auditLogs) CreateTx(ctx context.Context, tx bun.IDB, entry *auth.AuditLog) (*auth.AuditLog, error) {
	if _, err := tx.NewInsert().Model(entry).Returning("*").Exec(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns entries newest first
func (r *auditLogs) List(ctx context.Context, limit, offset int) ([]*auth.AuditLog, error) {
	var records []*auth.AuditLog
	err := r.db.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.created_at DESC, ?TableAlias.id DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}
