// Package cache is the ephemeral key-value store used for pairing tokens and
// session snapshots. Nothing stored here is authoritative.
package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the Redis connection.
type Options struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// NewClient creates a Redis client and verifies the connection.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	options := &redis.Options{
		Addr:     fmt.Sprintf("%s:%s", opts.Host, opts.Port),
		Password: opts.Password,
		DB:       opts.DB,
	}

	// Managed Redis instances with a password are reached over TLS
	if opts.Password != "" {
		options.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("Connected to redis", "addr", options.Addr, "db", opts.DB)
	return client, nil
}
