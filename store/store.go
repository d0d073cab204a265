// Package store is the durable cache behind the session registry: a shadow
// copy of each room's queue and play history that survives a host
// reconnect. Records are raw JSON documents; the server owns their schema.
package store

import (
	"context"
	"errors"
	"sync"
)

type BackendType int

const (
	BackendMemory BackendType = iota
	BackendRedis
)

// Store persists the two list documents kept per room. Load must treat a
// missing record identically to empty lists and return nil data, not an
// error, in that case.
type Store interface {
	BackendType() BackendType
	Load(ctx context.Context, roomID string) (songs, history []byte, err error)
	SaveSongs(ctx context.Context, roomID string, data []byte) error
	SaveHistory(ctx context.Context, roomID string, data []byte) error
}

type record struct {
	songs   []byte
	history []byte
}

// memBackend keeps records in process memory; used by tests and for
// storage-less development runs, where sessions simply do not survive a
// restart.
type memBackend struct {
	m     map[string]*record
	mutex sync.RWMutex
}

// NewMemoryStore creates an empty in-memory backend.
func NewMemoryStore() Store {
	return &memBackend{m: make(map[string]*record)}
}

func (b *memBackend) BackendType() BackendType { return BackendMemory }

func (b *memBackend) Load(ctx context.Context, roomID string) ([]byte, []byte, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	rec, ok := b.m[roomID]
	if !ok {
		return nil, nil, nil
	}
	return rec.songs, rec.history, nil
}

func (b *memBackend) SaveSongs(ctx context.Context, roomID string, data []byte) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	rec, ok := b.m[roomID]
	if !ok {
		rec = &record{}
		b.m[roomID] = rec
	}
	rec.songs = data
	return nil
}

func (b *memBackend) SaveHistory(ctx context.Context, roomID string, data []byte) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	rec, ok := b.m[roomID]
	if !ok {
		rec = &record{}
		b.m[roomID] = rec
	}
	rec.history = data
	return nil
}

// ErrUnsupportedBackend reports an unknown backend selector.
var ErrUnsupportedBackend = errors.New("unsupported storage backend")
