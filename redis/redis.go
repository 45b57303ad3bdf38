package redis

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/quantumauth-io/tpm-encrypt/retry"
)

type Config struct {
	Host         string        `mapstructure:"host"`                                      // "localhost"
	Port         string        `mapstructure:"port"`                                      // "6379"
	Username     string        `mapstructure:"username"`                                  // optional
	Password     string        `mapstructure:"password"`                                  // optional
	DB           int           `mapstructure:"db"`                                        // default 0
	TLS          bool          `mapstructure:"tls"`                                       // enable TLS
	DialTimeout  time.Duration `mapstructure:"dial_timeout" structs:"dial_timeout"`       // default 5s
	ReadTimeout  time.Duration `mapstructure:"read_timeout" structs:"read_timeout"`       // default 3s
	WriteTimeout time.Duration `mapstructure:"write_timeout" structs:"write_timeout"`     // default 3s
	ConnectTries int32         `mapstructure:"connect_retries" structs:"connect_retries"` // default 3
}

const defaultConnectRetries = 3

// NewClient creates a Redis client and pings it, retrying the ping with backoff.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == "" {
		cfg.Port = "6379"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	if cfg.ConnectTries == 0 {
		cfg.ConnectTries = defaultConnectRetries
	}

	opts := &redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)

	_, err := retry.Do(ctx, retry.BoundedConfig(cfg.ConnectTries, time.Second),
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, rdb.Ping(ctx).Err()
		}, nil, "Redis Ping")
	if err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", opts.Addr)
	}

	return rdb, nil
}
