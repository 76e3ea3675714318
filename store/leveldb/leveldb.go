// Package leveldb implements store.Store on an embedded goleveldb database.
// Values are 8-byte big-endian int64s under the key "lm:" + url.
package leveldb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/gaborage/condfetch/store"
)

const keyPrefix = "lm:"

// Store is a leveldb-backed freshness store.
type Store struct {
	db     *leveldb.DB
	sync   bool
	closed atomic.Bool
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) a database at path. Writes are synced to disk.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, store.NewConfigError("leveldb.path", "path is required", nil)
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, store.NewConfigError("leveldb.path", "open "+path+" failed", err)
	}
	return &Store{db: db, sync: true}, nil
}

// OpenMemory opens a database held entirely in memory.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory leveldb: %w", err)
	}
	return &Store{db: db}, nil
}

// GetLong returns the marker stored for key, or def when the key is absent.
func (s *Store) GetLong(_ context.Context, key string, def int64) (int64, error) {
	if s.closed.Load() {
		return def, store.ErrClosed
	}

	b, err := s.db.Get([]byte(keyPrefix+key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return def, nil
		}
		return def, store.NewOperationError("get", key, err)
	}
	if len(b) != 8 {
		return def, store.NewOperationError("get", key, fmt.Errorf("corrupt value of %d bytes", len(b)))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// SaveLong stores value for key.
func (s *Store) SaveLong(_ context.Context, key string, value int64) error {
	if s.closed.Load() {
		return store.ErrClosed
	}

	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(value))
	if err := s.db.Put([]byte(keyPrefix+key), b[:], &opt.WriteOptions{Sync: s.sync}); err != nil {
		return store.NewOperationError("save", key, err)
	}
	return nil
}

// Close closes the database. Closing twice returns store.ErrClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return store.ErrClosed
	}
	return s.db.Close()
}
