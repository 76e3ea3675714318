// Package sqlstore implements store.Store on database/sql.
// Queries are built with squirrel; the placeholder format follows the driver
// (? for sqlite, $n for postgres via pgx).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/Masterminds/squirrel"
	_ "github.com/glebarez/go-sqlite"  // registers the "sqlite" driver
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"github.com/gaborage/condfetch/store"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// DefaultTable holds one row per URL.
const DefaultTable = "freshness_markers"

const (
	colKey          = "url_key"
	colLastModified = "last_modified"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is a database/sql freshness store.
type Store struct {
	db          *sql.DB
	table       string
	placeholder squirrel.PlaceholderFormat
	ownsDB      bool
}

var _ store.Store = (*Store)(nil)

// Open opens a database with driver and dsn and ensures the markers table exists.
// An sqlite pool is limited to one connection so ":memory:" databases are shared.
func Open(ctx context.Context, driver, dsn, table string) (*Store, error) {
	if dsn == "" {
		return nil, store.NewConfigError("sql.dsn", "dsn is required", nil)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, store.NewConfigError("sql.driver", "open "+driver+" failed", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	s, err := New(db, driver, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true

	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The caller keeps ownership of db.
func New(db *sql.DB, driver, table string) (*Store, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, store.NewConfigError("sql.table", fmt.Sprintf("invalid table name %q", table), nil)
	}

	var placeholder squirrel.PlaceholderFormat
	switch driver {
	case DriverSQLite:
		placeholder = squirrel.Question
	case DriverPostgres:
		placeholder = squirrel.Dollar
	default:
		return nil, store.NewConfigError("sql.driver", fmt.Sprintf("unsupported driver %q", driver), nil)
	}

	return &Store{db: db, table: table, placeholder: placeholder}, nil
}

// EnsureSchema creates the markers table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s TEXT PRIMARY KEY, %s BIGINT NOT NULL)",
		s.table, colKey, colLastModified,
	)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// GetLong returns the marker stored for key, or def when no row exists.
func (s *Store) GetLong(ctx context.Context, key string, def int64) (int64, error) {
	query, args, err := squirrel.Select(colLastModified).
		From(s.table).
		Where(squirrel.Eq{colKey: key}).
		PlaceholderFormat(s.placeholder).
		ToSql()
	if err != nil {
		return def, store.NewOperationError("get", key, err)
	}

	var v int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return def, nil
		}
		return def, store.NewOperationError("get", key, err)
	}
	return v, nil
}

// SaveLong upserts the marker for key.
func (s *Store) SaveLong(ctx context.Context, key string, value int64) error {
	query, args, err := squirrel.Insert(s.table).
		Columns(colKey, colLastModified).
		Values(key, value).
		Suffix(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s = excluded.%s", colKey, colLastModified, colLastModified)).
		PlaceholderFormat(s.placeholder).
		ToSql()
	if err != nil {
		return store.NewOperationError("save", key, err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return store.NewOperationError("save", key, err)
	}
	return nil
}

// Close closes the pool when it was opened by Open.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
