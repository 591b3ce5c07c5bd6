package repository

import (
	"context"
	"database/sql"

	auth "github.com/goliatone/go-auth-rbac"
	"github.com/pressly/goose/v3"
)

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded schema migrations to db
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(auth.GetMigrationsFS())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, auth.MigrationsDir)
}
