package database

import (
	"context"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/crdb"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"go.elastic.co/apm/module/apmpgx/v2"

	"github.com/quantumauth-io/tpm-encrypt/retry"
)

type CockroachPGXDatabase struct {
	dbPool   *pgxpool.Pool
	settings DatabaseSettings
}

func NewCockroachPGXDatabase(ctx context.Context, dbSettings DatabaseSettings) (Database, error) {
	connStr, err := getConnectionString(dbSettings)
	if err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(databaseDriverType + "://" + connStr)
	if err != nil {
		return nil, errors.Wrap(err, "parsing database connection string")
	}
	applyPoolSettings(poolCfg, dbSettings)
	apmpgx.Instrument(poolCfg.ConnConfig)

	pool, err := retry.Do(ctx, retry.BoundedConfig(defaultMaxRetry, 1*time.Second),
		func(ctx context.Context) (*pgxpool.Pool, error) {
			p, err2 := pgxpool.ConnectConfig(ctx, poolCfg)
			if err2 != nil {
				return nil, errors.Wrap(err2, "error opening the database")
			}
			return p, nil
		},
		nil,
		"Database Connection",
	)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to instantiate db after retries")
	}

	return &CockroachPGXDatabase{dbPool: pool, settings: dbSettings}, nil
}

func (db *CockroachPGXDatabase) MigrateWithIOFS(ctx context.Context, source source.Driver) error {
	return migrateWithIOFS(ctx, source, db.settings)
}

func (db *CockroachPGXDatabase) Exec(ctx context.Context, sql string, arguments ...interface{}) (int64, error) {
	affected, err := retry.Do(ctx, retry.BoundedConfig(defaultMaxRetry, 1*time.Second),
		func(ctx context.Context) (int64, error) {
			var tag pgconn.CommandTag
			err := crdb.Execute(func() error {
				var err error
				tag, err = db.dbPool.Exec(ctx, sql, arguments...)
				return err
			})
			if err != nil {
				return 0, err
			}
			return tag.RowsAffected(), nil
		},
		isRetryable,
		"Database Exec",
	)
	if err != nil {
		return 0, errors.Wrapf(err, "Failed to execute %s after retries", sql)
	}

	return affected, nil
}

// QueryRow is not retried: the row is only evaluated on Scan, after which the connection is released.
func (db *CockroachPGXDatabase) QueryRow(ctx context.Context, sql string, arguments ...interface{}) Row {
	return db.dbPool.QueryRow(ctx, sql, arguments...)
}

func (db *CockroachPGXDatabase) Close() error {
	db.dbPool.Close()
	return nil
}

// Ping retries until the pool answers or the ping timeout elapses.
func (db *CockroachPGXDatabase) Ping(ctx context.Context) error {
	return pingDB(ctx, db.dbPool.Ping)
}
