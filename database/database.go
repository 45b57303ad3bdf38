// Package database provides a retrying, instrumented pgx pool for Postgres-compatible
// databases (Postgres, CockroachDB) plus embedded-schema migrations.
package database

import (
	"context"

	"github.com/golang-migrate/migrate/v4/source"
)

type Database interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (int64, error)
	QueryRow(ctx context.Context, sql string, arguments ...interface{}) Row
	MigrateWithIOFS(ctx context.Context, source source.Driver) error
	Ping(ctx context.Context) error
	Close() error
}

type Row interface {
	Scan(dest ...interface{}) error
}
