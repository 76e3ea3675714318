package commands

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"

	"github.com/gaborage/condfetch/config"
	"github.com/gaborage/condfetch/httpclient"
	"github.com/gaborage/condfetch/store"
	"github.com/gaborage/condfetch/store/leveldb"
	"github.com/gaborage/condfetch/store/redis"
	"github.com/gaborage/condfetch/store/sqlstore"
)

var errNoCertificates = errors.New("no PEM certificates found")

// openStore builds the freshness store named by cfg.Type. The returned closer is never nil.
func openStore(ctx context.Context, cfg *config.StoreConfig) (store.Store, io.Closer, error) {
	switch cfg.Type {
	case config.StoreMemory, "":
		return store.NewMemory(), nopCloser{}, nil

	case config.StoreRedis:
		c, err := redis.NewClient(&redis.Config{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			Database: cfg.Redis.Database,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("redis store: %w", err)
		}
		return c, c, nil

	case config.StoreLevelDB:
		s, err := leveldb.Open(cfg.LevelDB.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("leveldb store: %w", err)
		}
		return s, s, nil

	case config.StoreSQLite, config.StorePostgres:
		driver := sqlstore.DriverSQLite
		if cfg.Type == config.StorePostgres {
			driver = sqlstore.DriverPostgres
		}
		s, err := sqlstore.Open(ctx, driver, cfg.SQL.DSN, cfg.SQL.Table)
		if err != nil {
			return nil, nil, fmt.Errorf("%s store: %w", cfg.Type, err)
		}
		return s, s, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store type %q", cfg.Type)
	}
}

// trustPolicy builds a TrustPolicy from tls.cafile. Without a CA file the platform
// defaults are kept and nil is returned.
func trustPolicy(cfg *config.TLSConfig) (*httpclient.TrustPolicy, error) {
	pem, err := cfg.ReadCAFile()
	if err != nil {
		return nil, err
	}
	if pem == nil {
		return nil, nil
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%s: %w", cfg.CAFile, errNoCertificates)
	}

	return &httpclient.TrustPolicy{
		TLSConfig: &tls.Config{
			RootCAs:    pool,
			MinVersion: tlsVersion(cfg.MinVersion),
		},
	}, nil
}

func tlsVersion(v string) uint16 {
	if v == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
