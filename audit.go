package auth

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// UnknownAuditTarget is recorded when the target no longer resolves
const UnknownAuditTarget = "unknown"

// AuditCorrelator writes audit entries inside the caller's transaction, so
// an audit failure fails the operation it describes.
type AuditCorrelator struct {
	repo   RepositoryManager
	logger Logger
	now    func() time.Time
}

// NewAuditCorrelator creates a correlator backed by repo
func NewAuditCorrelator(repo RepositoryManager) *AuditCorrelator {
	return &AuditCorrelator{
		repo:   repo,
		logger: defLogger{},
		now:    time.Now,
	}
}

// WithLogger overrides the logger used by the correlator.
func (a *AuditCorrelator) WithLogger(logger Logger) *AuditCorrelator {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// Record writes actor/action/target on tx
func (a *AuditCorrelator) Record(ctx context.Context, tx bun.IDB, actor, action, target string) error {
	if target == "" {
		target = UnknownAuditTarget
	}

	entry := &AuditLog{
		AdminUsername:  actor,
		Action:         action,
		TargetUsername: target,
		CreatedAt:      a.now().UTC(),
	}

	if _, err := a.repo.AuditLogs().CreateTx(ctx, tx, entry); err != nil {
		a.logger.Error("audit write failed", "action", action, "actor", actor, "target", target, "error", err)
		return DatabaseError(err, "failed to record audit entry")
	}

	return nil
}

// List returns the most recent audit entries
func (a *AuditCorrelator) List(ctx context.Context, limit, offset int) ([]*AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	logs, err := a.repo.AuditLogs().List(ctx, limit, offset)
	if err != nil {
		return nil, DatabaseError(err, "failed to list audit logs")
	}
	return logs, nil
}
