package keystore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v4"

	"github.com/quantumauth-io/tpm-encrypt/database"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	upsertBlobSQL = `INSERT INTO sealed_blobs (path, blob, updated_at) VALUES ($1, $2, now())
ON CONFLICT (path) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`
	selectBlobSQL  = `SELECT blob FROM sealed_blobs WHERE path = $1`
	deleteBlobsSQL = `DELETE FROM sealed_blobs WHERE path = $1 OR path LIKE $2`
)

// PostgresStore keeps blobs in the sealed_blobs table.
type PostgresStore struct {
	db database.Database
}

// OpenPostgresStore connects, applies the embedded schema and returns a store that owns the pool.
func OpenPostgresStore(ctx context.Context, settings database.DatabaseSettings) (*PostgresStore, error) {
	db, err := database.NewCockroachPGXDatabase(ctx, settings)
	if err != nil {
		return nil, err
	}
	return preparePostgresStore(ctx, db)
}

// preparePostgresStore checks db is reachable and migrated. db is closed on failure.
func preparePostgresStore(ctx context.Context, db database.Database) (*PostgresStore, error) {
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("keystore: ping: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("keystore: load migrations: %w", err)
	}
	if err := db.MigrateWithIOFS(ctx, src); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("keystore: migrate: %w", err)
	}
	return NewPostgresStore(db), nil
}

func NewPostgresStore(db database.Database) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Put(ctx context.Context, objectPath string, blob []byte) error {
	clean, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, upsertBlobSQL, clean, blob); err != nil {
		return fmt.Errorf("keystore: upsert %s: %w", objectPath, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, objectPath string) ([]byte, error) {
	clean, err := cleanPath(objectPath)
	if err != nil {
		return nil, err
	}
	var blob []byte
	if err := s.db.QueryRow(ctx, selectBlobSQL, clean).Scan(&blob); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("keystore: select %s: %w", objectPath, err)
	}
	return blob, nil
}

func (s *PostgresStore) Delete(ctx context.Context, objectPath string) (int, error) {
	clean, err := cleanPath(objectPath)
	if err != nil {
		return 0, err
	}
	n, err := s.db.Exec(ctx, deleteBlobsSQL, clean, subtreePattern(clean))
	if err != nil {
		return 0, fmt.Errorf("keystore: delete %s: %w", objectPath, err)
	}
	return int(n), nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// subtreePattern matches every path strictly below p.
func subtreePattern(p string) string {
	return likeEscaper.Replace(strings.TrimSuffix(p, "/")) + "/%"
}
