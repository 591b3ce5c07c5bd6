package repository

import (
	"database/sql"
	"errors"

	auth "github.com/goliatone/go-auth-rbac"
	"github.com/goliatone/go-repository-bun"
)

func notFound(err error, resource string) error {
	if err == nil {
		return nil
	}
	if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
		return auth.NewNotFoundError(resource)
	}
	return err
}

// mustAffect turns an update or delete that matched nothing into not found
func mustAffect(res sql.Result, resource string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.NewNotFoundError(resource)
	}
	return nil
}
