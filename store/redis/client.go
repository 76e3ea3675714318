// Package redis implements store.Store on top of go-redis.
// Markers are kept as decimal strings so they stay readable with redis-cli.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gaborage/condfetch/store"
)

const defaultDialTimeout = 5 * time.Second

// Client implements store.Store using Redis as the backend.
type Client struct {
	client *redis.Client
	config *Config
	closed atomic.Bool
}

var _ store.Store = (*Client)(nil)

// NewClient validates cfg, connects and pings the server.
func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = defaultDialTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Address(),
		Password:    cfg.Password,
		DB:          cfg.Database,
		DialTimeout: dialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, store.NewConfigError("redis.address", "ping "+cfg.Address()+" failed", err)
	}

	return &Client{client: client, config: cfg}, nil
}

// GetLong returns the marker stored for key, or def when the key is absent.
func (c *Client) GetLong(ctx context.Context, key string, def int64) (int64, error) {
	if c.closed.Load() {
		return def, store.ErrClosed
	}

	raw, err := c.client.Get(ctx, c.config.prefix()+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return def, nil
		}
		return def, store.NewOperationError("get", key, err)
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def, store.NewOperationError("get", key, fmt.Errorf("corrupt value %q: %w", raw, err))
	}
	return v, nil
}

// SaveLong stores value for key without expiration.
func (c *Client) SaveLong(ctx context.Context, key string, value int64) error {
	if c.closed.Load() {
		return store.ErrClosed
	}

	if err := c.client.Set(ctx, c.config.prefix()+key, strconv.FormatInt(value, 10), 0).Err(); err != nil {
		return store.NewOperationError("save", key, err)
	}
	return nil
}

// Close closes the underlying connection pool. Closing twice returns store.ErrClosed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return store.ErrClosed
	}
	return c.client.Close()
}
