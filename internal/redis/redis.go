package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	r "github.com/redis/go-redis/v9"
)

// Reexport go-redis's Nil constant for DX purposes.
const Nil = r.Nil

type (
	Cmdable            = r.Cmdable
	Pipeliner          = r.Pipeliner
	MapStringStringCmd = r.MapStringStringCmd
	Z                  = r.Z
)

type Client interface {
	Cmdable
	Close() error
}

type RedisConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Database   int
	TLSEnabled bool
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// New creates a Redis client and verifies connectivity with a PING.
func New(ctx context.Context, config *RedisConfig) (Client, error) {
	opts := &r.Options{
		Addr:     config.Addr(),
		Username: config.Username,
		Password: config.Password,
		DB:       config.Database,
	}
	if config.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := r.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
