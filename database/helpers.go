package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/quantumauth-io/tpm-encrypt/retry"
)

const (
	// Default values for DB
	databaseDriverType = "postgresql"

	defaultMaxRetry = 6

	defaultMinDBPoolSize = 1
	defaultMaxDBPoolSize = 4

	defaultConnectionMaxLifetime = 2 * time.Minute
	defaultConnectionMaxIdleTime = 30 * time.Second
	defaultPingTimeout           = 60 * time.Second

	uniqueConstraintViolationCode = "23505"
)

type DatabaseSettings struct {
	Host                  string        `mapstructure:"host"`
	Port                  string        `mapstructure:"port"`
	User                  string        `mapstructure:"user"`
	Password              string        `mapstructure:"password"`
	Database              string        `mapstructure:"database"`
	SSLModeDisable        bool          `mapstructure:"ssl_mode_disable" structs:"ssl_mode_disable"`
	CertPath              string        `mapstructure:"cert_path" structs:"cert_path"`
	ConnectionMaxLifetime time.Duration `mapstructure:"connection_max_lifetime" structs:"connection_max_lifetime"`
	ConnectionMaxIdleTime time.Duration `mapstructure:"connection_max_idle_time" structs:"connection_max_idle_time"`
	MaxPoolSize           uint          `mapstructure:"max_pool_size" structs:"max_pool_size"`
	MinPoolSize           uint          `mapstructure:"min_pool_size" structs:"min_pool_size"`
}

func migrateWithIOFS(ctx context.Context, source source.Driver, cfg DatabaseSettings) error {
	connectionString, err := getConnectionString(cfg)
	if err != nil {
		return errors.Wrap(err, "Failed to create connection string")
	}

	_, err = retry.Do(ctx, retry.BoundedConfig(defaultMaxRetry, 1*time.Second),
		func(context.Context) (struct{}, error) {
			m, err2 := migrate.NewWithSourceInstance("iofs", source, "postgres://"+connectionString)
			if err2 != nil {
				return struct{}{}, errors.Wrap(err2, "Failed to initialize migrations")
			}
			defer m.Close()

			if err3 := m.Up(); err3 != nil && !errors.Is(err3, migrate.ErrNoChange) {
				return struct{}{}, errors.Wrap(err3, "error migrating database schema")
			}
			return struct{}{}, nil
		},
		isRetryable,
		"Database Migration",
	)

	return err
}

func getConnectionString(dbSettings DatabaseSettings) (string, error) {
	if dbSettings.Host == "" || dbSettings.Database == "" {
		return "", errors.New("database host and name are required")
	}

	port := dbSettings.Port
	if port == "" {
		port = "5432"
	}

	connString := fmt.Sprintf("%s@%s/%s",
		url.UserPassword(dbSettings.User, dbSettings.Password).String(),
		net.JoinHostPort(dbSettings.Host, port),
		dbSettings.Database,
	)

	if dbSettings.SSLModeDisable {
		return connString + "?sslmode=disable", nil
	}

	// Only use verify-ca when a cert path is provided.
	if dbSettings.CertPath == "" {
		return connString + "?sslmode=require", nil
	}

	if _, err := os.Stat(dbSettings.CertPath); errors.Is(err, os.ErrNotExist) {
		return "", errors.New("ssl mode was enabled but cert file not found")
	} else if err != nil {
		return "", err
	}

	return connString + fmt.Sprintf("?sslmode=verify-ca&sslrootcert=%s", url.QueryEscape(dbSettings.CertPath)), nil
}

func pingDB(ctx context.Context, pingFn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	_, err := retry.Do(ctx, retry.BoundedConfig(retry.InfiniteRetries, time.Second),
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, pingFn(ctx)
		}, nil, "Database Ping")
	if err != nil {
		return errors.Wrap(err, "failed to ping database")
	}
	return nil
}

func applyPoolSettings(cfg *pgxpool.Config, dbSettings DatabaseSettings) {
	minPool := dbSettings.MinPoolSize
	if minPool == 0 {
		minPool = defaultMinDBPoolSize
	}
	maxPool := dbSettings.MaxPoolSize
	if maxPool == 0 {
		maxPool = defaultMaxDBPoolSize
	}
	maxLifetime := dbSettings.ConnectionMaxLifetime
	if maxLifetime == 0 {
		maxLifetime = defaultConnectionMaxLifetime
	}
	maxIdle := dbSettings.ConnectionMaxIdleTime
	if maxIdle == 0 {
		maxIdle = defaultConnectionMaxIdleTime
	}

	cfg.MinConns = int32(minPool)
	cfg.MaxConns = int32(maxPool)
	cfg.MaxConnLifetime = maxLifetime
	cfg.MaxConnIdleTime = maxIdle

	// proactively check connections so dead ones don't linger
	cfg.HealthCheckPeriod = 15 * time.Second
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	// never retry "no rows"
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return false
	}

	// never retry unique constraint violations; migrations surface lib/pq errors
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueConstraintViolationCode {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueConstraintViolationCode {
		return false
	}

	// network-level errors: let the pool create a fresh connection and retry
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}

	// default: optimistic for Cockroach / transient DB errors
	return true
}
