package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"folio/internal/platform/config"
)

// Client wraps go-redis for the live-profile read cache and the health
// endpoint.
type Client struct {
	*redis.Client
}

// New dials Redis from the configured URL. The cache is optional: with an
// empty URL New returns nil and profile reads go straight to the store.
func New(cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)

	// Fail startup fast on a bad cache endpoint instead of degrading every
	// profile read later.
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{Client: client}, nil
}

// Health reports whether the cache connection still answers a ping.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.Client.Close()
}
