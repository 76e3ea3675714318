package config

import (
	"time"

	"github.com/knadh/koanf/v2"

	"github.com/gaborage/condfetch/observability"
)

// Store backend names accepted by store.type.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreLevelDB  = "leveldb"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Config is the root configuration for the fetch tooling.
// The koanf instance is kept for GetString-style access to keys not modelled here.
type Config struct {
	App   AppConfig   `koanf:"app" yaml:"app"`
	Log   LogConfig   `koanf:"log" yaml:"log"`
	Fetch FetchConfig `koanf:"fetch" yaml:"fetch"`
	TLS   TLSConfig   `koanf:"tls" yaml:"tls"`
	Store StoreConfig `koanf:"store" yaml:"store"`

	Observability observability.Config `koanf:"observability" yaml:"observability"`

	k *koanf.Koanf `yaml:"-"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name string `koanf:"name" yaml:"name" validate:"required"`
	Env  string `koanf:"env" yaml:"env" validate:"oneof=development staging production"`
}

// LogConfig holds logging preferences.
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Pretty bool   `koanf:"pretty" yaml:"pretty"`
}

// FetchConfig controls a single fetch-with-retry operation.
type FetchConfig struct {
	// URL is the default endpoint fetched by the CLI when no argument is given.
	URL       string        `koanf:"url" yaml:"url" validate:"omitempty,url"`
	UserAgent string        `koanf:"useragent" yaml:"useragent"`
	Timeout   time.Duration `koanf:"timeout" yaml:"timeout" validate:"gte=0"`
	// MaxBodyBytes caps the body read per attempt; a larger body fails the attempt. 0 means unlimited.
	MaxBodyBytes int64         `koanf:"maxbodybytes" yaml:"maxbodybytes" validate:"gte=0"`
	Backoff      BackoffConfig `koanf:"backoff" yaml:"backoff"`
	Rate         RateConfig    `koanf:"rate" yaml:"rate"`
}

// BackoffConfig is the retry budget: delays grow base, base^2, ... up to base^exponent seconds.
type BackoffConfig struct {
	Base     int `koanf:"base" yaml:"base" validate:"gte=1"`
	Exponent int `koanf:"exponent" yaml:"exponent" validate:"gte=0"`
}

// RateConfig paces attempts. Limit is attempts per second; 0 disables pacing.
type RateConfig struct {
	Limit float64 `koanf:"limit" yaml:"limit" validate:"gte=0"`
	Burst int     `koanf:"burst" yaml:"burst" validate:"gte=0"`
}

// TLSConfig points at trust material for https endpoints.
// An empty CAFile keeps the platform defaults.
type TLSConfig struct {
	CAFile     string `koanf:"cafile" yaml:"cafile" validate:"omitempty,file"`
	MinVersion string `koanf:"minversion" yaml:"minversion" validate:"omitempty,oneof=1.2 1.3"`
}

// StoreConfig selects the freshness-marker backend.
type StoreConfig struct {
	Type    string        `koanf:"type" yaml:"type" validate:"oneof=memory redis leveldb sqlite postgres"`
	Redis   RedisConfig   `koanf:"redis" yaml:"redis"`
	LevelDB LevelDBConfig `koanf:"leveldb" yaml:"leveldb"`
	SQL     SQLConfig     `koanf:"sql" yaml:"sql"`
}

// RedisConfig holds the redis store connection settings.
type RedisConfig struct {
	Host     string `koanf:"host" yaml:"host"`
	Port     int    `koanf:"port" yaml:"port"`
	Password string `koanf:"password" yaml:"password"` //nolint:gosec // loaded from env
	Database int    `koanf:"database" yaml:"database"`
	Prefix   string `koanf:"prefix" yaml:"prefix"`
}

// LevelDBConfig holds the leveldb store location.
type LevelDBConfig struct {
	Path string `koanf:"path" yaml:"path"`
}

// SQLConfig holds the sql store connection string and table name.
type SQLConfig struct {
	DSN   string `koanf:"dsn" yaml:"dsn"`
	Table string `koanf:"table" yaml:"table"`
}
