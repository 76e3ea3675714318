package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBackoffBase = "CONDFETCH_FETCH_BACKOFF_BASE"
	testStoreType   = "CONDFETCH_STORE_TYPE"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadWithDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "condfetch", cfg.App.Name)
	assert.Equal(t, EnvDevelopment, cfg.App.Env)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Log.Pretty)

	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 2, cfg.Fetch.Backoff.Base)
	assert.Equal(t, 5, cfg.Fetch.Backoff.Exponent)
	assert.Equal(t, float64(0), cfg.Fetch.Rate.Limit)
	assert.Equal(t, int64(0), cfg.Fetch.MaxBodyBytes)

	assert.Equal(t, StoreMemory, cfg.Store.Type)
	assert.Equal(t, "condfetch:lastmod:", cfg.Store.Redis.Prefix)
	assert.Equal(t, "freshness_markers", cfg.Store.SQL.Table)

	assert.False(t, cfg.Observability.Enabled)
	assert.Equal(t, "condfetch", cfg.Observability.ServiceName)
	assert.Equal(t, 15*time.Second, cfg.Observability.Interval)
}

func TestLoadObservabilityFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONDFETCH_OBSERVABILITY_ENABLED", "true")
	t.Setenv("CONDFETCH_OBSERVABILITY_ENDPOINT", "collector:4317")
	t.Setenv("CONDFETCH_OBSERVABILITY_PROTOCOL", "grpc")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Observability.Enabled)
	assert.Equal(t, "collector:4317", cfg.Observability.Endpoint)
	assert.Equal(t, "grpc", cfg.Observability.Protocol)
}

func TestLoadFromYAML(t *testing.T) {
	path := writeFile(t, "fetch.yaml", `
app:
  env: production
log:
  level: debug
fetch:
  url: https://cdn.example.com/datafile.json
  timeout: 5s
  backoff:
    base: 3
    exponent: 2
store:
  type: leveldb
  leveldb:
    path: /var/lib/condfetch
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, EnvProduction, cfg.App.Env)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "https://cdn.example.com/datafile.json", cfg.Fetch.URL)
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 3, cfg.Fetch.Backoff.Base)
	assert.Equal(t, 2, cfg.Fetch.Backoff.Exponent)
	assert.Equal(t, StoreLevelDB, cfg.Store.Type)
	assert.Equal(t, "/var/lib/condfetch", cfg.Store.LevelDB.Path)
	assert.Equal(t, "https://cdn.example.com/datafile.json", cfg.GetString("fetch.url"))
	assert.Equal(t, "fallback", cfg.GetString("fetch.missing", "fallback"))
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "fetch.yaml", "fetch:\n  backoff:\n    base: 3\n")
	t.Setenv(testBackoffBase, "4")
	t.Setenv(testStoreType, "redis")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Fetch.Backoff.Base)
	assert.Equal(t, StoreRedis, cfg.Store.Type)
	assert.True(t, cfg.Exists("store.redis.host"))
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.yaml")
}

func TestValidateErrors(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{name: "zero base", env: map[string]string{testBackoffBase: "0"}, field: "fetch.backoff.base"},
		{name: "unknown store", env: map[string]string{testStoreType: "etcd"}, field: "store.type"},
		{name: "bad log level", env: map[string]string{"CONDFETCH_LOG_LEVEL": "chatty"}, field: "log.level"},
		{name: "sqlite without dsn", env: map[string]string{testStoreType: "sqlite"}, field: "store.sql.dsn"},
		{name: "redis without host", env: map[string]string{testStoreType: "redis", "CONDFETCH_STORE_REDIS_HOST": ""}, field: "store.redis.host"},
		{name: "missing ca file", env: map[string]string{"CONDFETCH_TLS_CAFILE": "/does/not/exist.pem"}, field: "tls.cafile"},
		{name: "relative fetch url", env: map[string]string{"CONDFETCH_FETCH_URL": "not a url"}, field: "fetch.url"},
		{name: "bad metrics protocol", env: map[string]string{"CONDFETCH_OBSERVABILITY_ENABLED": "true", "CONDFETCH_OBSERVABILITY_ENDPOINT": "collector:4317", "CONDFETCH_OBSERVABILITY_PROTOCOL": "thrift"}, field: "observability"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("")
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestReadCAFile(t *testing.T) {
	empty := TLSConfig{}
	pem, err := empty.ReadCAFile()
	require.NoError(t, err)
	assert.Nil(t, pem)

	path := writeFile(t, "ca.pem", "-----BEGIN CERTIFICATE-----\n")
	withFile := TLSConfig{CAFile: path}
	pem, err = withFile.ReadCAFile()
	require.NoError(t, err)
	assert.Contains(t, string(pem), "BEGIN CERTIFICATE")
}
