package redis

import (
	"fmt"
	"time"

	"github.com/gaborage/condfetch/store"
)

// DefaultPrefix namespaces freshness markers inside a shared redis database.
const DefaultPrefix = "condfetch:lastmod:"

// Config holds Redis-specific configuration options.
type Config struct {
	// Host is the Redis server hostname or IP address.
	Host string

	// Port is the Redis server port (default: 6379).
	Port int

	// Password for Redis authentication (optional).
	Password string //nolint:gosec // loaded from env

	// Database number to use (0-15).
	Database int

	// Prefix is prepended to every marker key. Empty uses DefaultPrefix.
	Prefix string

	// DialTimeout is the timeout for establishing new connections (default: 5s).
	DialTimeout time.Duration
}

// Validate performs fail-fast validation of Redis configuration.
func (c *Config) Validate() error {
	if c.Host == "" {
		return store.NewConfigError("redis.host", "host is required", nil)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return store.NewConfigError("redis.port", fmt.Sprintf("invalid port: %d", c.Port), nil)
	}

	if c.Database < 0 || c.Database > 15 {
		return store.NewConfigError("redis.database", fmt.Sprintf("invalid database number: %d (must be 0-15)", c.Database), nil)
	}

	if c.DialTimeout < 0 {
		return store.NewConfigError("redis.dial_timeout", "dial timeout cannot be negative", nil)
	}

	return nil
}

// Address returns the Redis server address in "host:port" format.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) prefix() string {
	if c.Prefix == "" {
		return DefaultPrefix
	}
	return c.Prefix
}
