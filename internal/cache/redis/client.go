// Package redis implements the domain cache, rate limiter and signal bus
// interfaces on go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// ConnectTimeout bounds the retried startup ping. Zero pings once.
	ConnectTimeout time.Duration
}

// Client wraps a go-redis Client and provides connectivity helpers.
type Client struct {
	rdb *redis.Client
}

// New creates a Client and pings it until it answers or ConnectTimeout
// elapses, so the service can start alongside a Redis that is still booting.
func New(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)
	ping := func() (struct{}, error) {
		return struct{}{}, rdb.Ping(ctx).Err()
	}

	var err error
	if cfg.ConnectTimeout <= 0 {
		_, err = ping()
	} else {
		_, err = backoff.Retry(ctx, ping,
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxElapsedTime(cfg.ConnectTimeout),
			backoff.WithNotify(func(err error, next time.Duration) {
				logger.WarnContext(ctx, "redis: not reachable yet",
					slog.String("addr", cfg.Addr),
					slog.Duration("retry_in", next),
					slog.String("error", err.Error()),
				)
			}),
		)
	}
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}

	return &Client{rdb: rdb}, nil
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client for the cache implementations.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
