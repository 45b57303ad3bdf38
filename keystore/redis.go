package keystore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/quantumauth-io/tpm-encrypt/redis"
)

const (
	defaultRedisPrefix = "tpm-encrypt:"
	scanBatch          = 256
)

// RedisStore stores blobs as plain string values under <prefix><path>.
type RedisStore struct {
	client goredis.UniversalClient
	prefix string
	owned  bool
}

// OpenRedisStore connects with the shared redis settings and owns the client.
func OpenRedisStore(ctx context.Context, cfg redis.Config, prefix string) (*RedisStore, error) {
	client, err := redis.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := NewRedisStore(client, prefix)
	s.owned = true
	return s, nil
}

// NewRedisStore wraps an existing client. Close does not close it.
func NewRedisStore(client goredis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(objectPath string) (string, error) {
	clean, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	return s.prefix + clean, nil
}

func (s *RedisStore) Put(ctx context.Context, objectPath string, blob []byte) error {
	k, err := s.key(objectPath)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, k, blob, 0).Err(); err != nil {
		return fmt.Errorf("keystore: redis set %s: %w", objectPath, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, objectPath string) ([]byte, error) {
	k, err := s.key(objectPath)
	if err != nil {
		return nil, err
	}
	b, err := s.client.Get(ctx, k).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: redis get %s: %w", objectPath, err)
	}
	return b, nil
}

func (s *RedisStore) Delete(ctx context.Context, objectPath string) (int, error) {
	k, err := s.key(objectPath)
	if err != nil {
		return 0, err
	}

	pattern := escapeGlob(strings.TrimSuffix(k, "/")) + "/*"
	keys := []string{k}
	iter := s.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("keystore: redis scan %s: %w", objectPath, err)
	}

	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("keystore: redis del %s: %w", objectPath, err)
	}
	return int(n), nil
}

func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
