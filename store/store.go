// Package store defines the freshness-marker store consumed by the fetch core.
// A marker is the Last-Modified time of a resource, in milliseconds since the epoch,
// keyed by the canonical URL string the resource was fetched from.
//
// Implementations must be safe for concurrent use. They provide simple read-then-write
// semantics only: two concurrent fetches of the same URL may race on the marker.
package store

import (
	"context"
	"sync"
)

// Store maps string keys to int64 values.
type Store interface {
	// GetLong returns the value stored for key, or def when the key is absent.
	GetLong(ctx context.Context, key string, def int64) (int64, error)

	// SaveLong stores value for key, overwriting any previous value.
	SaveLong(ctx context.Context, key string, value int64) error
}

// Memory is an in-process Store. Markers are lost when the process exits.
type Memory struct {
	mu     sync.RWMutex
	values map[string]int64
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]int64)}
}

// GetLong returns the value for key or def.
func (m *Memory) GetLong(_ context.Context, key string, def int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if v, ok := m.values[key]; ok {
		return v, nil
	}
	return def, nil
}

// SaveLong stores value for key.
func (m *Memory) SaveLong(_ context.Context, key string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
	return nil
}

// Len returns the number of stored markers.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
