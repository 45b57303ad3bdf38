// Package keystore persists sealed blobs produced by the TPM capability.
//
// Blobs are only useful to the TPM that sealed them, so the backends store them as opaque bytes
// keyed by the secure store object path ("/HS/SRK/<ref>").
package keystore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/quantumauth-io/tpm-encrypt/database"
	"github.com/quantumauth-io/tpm-encrypt/redis"
)

// ErrNotFound is returned by Get when no blob exists at the path.
var ErrNotFound = errors.New("keystore: blob not found")

type Backend string

const (
	BackendFile     Backend = "file"
	BackendRedis    Backend = "redis"
	BackendPostgres Backend = "postgres"
)

// Store is a flat path -> blob map with subtree delete.
type Store interface {
	Put(ctx context.Context, objectPath string, blob []byte) error
	Get(ctx context.Context, objectPath string) ([]byte, error)
	// Delete removes objectPath and every blob below it, returning how many were removed.
	// "/" removes everything.
	Delete(ctx context.Context, objectPath string) (int, error)
	Close() error
}

type Config struct {
	Backend  string                    `mapstructure:"backend" validate:"oneof=file redis postgres"`
	Dir      string                    `mapstructure:"dir" validate:"required_if=Backend file"`
	Prefix   string                    `mapstructure:"prefix"`
	Redis    redis.Config              `mapstructure:"redis"`
	Postgres database.DatabaseSettings `mapstructure:"postgres"`
}

// Open builds the configured backend. The file backend uses the OS filesystem.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch Backend(cfg.Backend) {
	case BackendFile, "":
		return NewFileStore(nil, cfg.Dir)
	case BackendRedis:
		return OpenRedisStore(ctx, cfg.Redis, cfg.Prefix)
	case BackendPostgres:
		return OpenPostgresStore(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("keystore: unknown backend %q", cfg.Backend)
	}
}

func cleanPath(objectPath string) (string, error) {
	if objectPath == "" || !strings.HasPrefix(objectPath, "/") {
		return "", fmt.Errorf("keystore: path %q must be absolute", objectPath)
	}
	clean := path.Clean(objectPath)
	if clean != objectPath && clean+"/" != objectPath {
		return "", fmt.Errorf("keystore: path %q is not canonical", objectPath)
	}
	return clean, nil
}
