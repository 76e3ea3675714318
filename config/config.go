// Package config loads fetch tooling configuration from defaults, a YAML file and
// environment variables, in increasing order of priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	envprovider "github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables before they are mapped to keys:
// CONDFETCH_FETCH_BACKOFF_BASE becomes fetch.backoff.base.
const EnvPrefix = "CONDFETCH_"

// DefaultFile is read when Load is called with an empty path.
const DefaultFile = "config.yaml"

// Load loads configuration with priority:
// 1. Environment variables (highest priority)
// 2. YAML configuration file
// 3. Default values (lowest priority)
//
// A missing file is only an error when path was given explicitly.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := k.Load(envprovider.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name": "condfetch",
		"app.env":  EnvDevelopment,

		"log.level":  "info",
		"log.pretty": false,

		"fetch.useragent":        "condfetch/1.0",
		"fetch.timeout":          "30s",
		"fetch.maxbodybytes":     0,
		"fetch.backoff.base":     2,
		"fetch.backoff.exponent": 5,
		"fetch.rate.limit":       0,
		"fetch.rate.burst":       1,

		"store.type":         StoreMemory,
		"store.redis.host":   "localhost",
		"store.redis.port":   6379,
		"store.redis.prefix": "condfetch:lastmod:",
		"store.leveldb.path": "./data/freshness",
		"store.sql.table":    "freshness_markers",

		"observability.enabled":     false,
		"observability.servicename": "condfetch",
		"observability.endpoint":    "stdout",
		"observability.protocol":    "http",
		"observability.interval":    "15s",
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}

// GetString returns a raw string value for keys not modelled by Config.
func (c *Config) GetString(key string, defaultVal ...string) string {
	if c == nil || c.k == nil || !c.k.Exists(key) {
		if len(defaultVal) > 0 {
			return defaultVal[0]
		}
		return ""
	}
	return c.k.String(key)
}

// Exists reports whether key was set by any source.
func (c *Config) Exists(key string) bool {
	return c != nil && c.k != nil && c.k.Exists(key)
}

// ReadCAFile returns the PEM bytes referenced by tls.cafile, or nil when unset.
func (c *TLSConfig) ReadCAFile() ([]byte, error) {
	if c.CAFile == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(c.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	return pem, nil
}
