package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Backend stores opaque entries by digest. Expiry is judged by the Cache
// from the entry envelope; ttl is passed so backends that support native
// expiry can evict on their own.
type Backend interface {
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	Set(ctx context.Context, key []byte, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key []byte) error
	Len(ctx context.Context) (int, error)
	Close() error
}

// MemoryBackend is a bounded in-process LRU.
type MemoryBackend struct {
	lru *lru.Cache[string, []byte]
}

func NewMemoryBackend(capacity int) *MemoryBackend {
	if capacity <= 0 {
		capacity = 1024
	}
	// lru.New only fails for a non-positive size.
	c, _ := lru.New[string, []byte](capacity)
	return &MemoryBackend{lru: c}
}

func (m *MemoryBackend) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	v, ok := m.lru.Get(string(key))
	return v, ok, nil
}

func (m *MemoryBackend) Set(_ context.Context, key []byte, value []byte, _ time.Duration) error {
	m.lru.Add(string(key), value)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key []byte) error {
	m.lru.Remove(string(key))
	return nil
}

func (m *MemoryBackend) Len(context.Context) (int, error) {
	return m.lru.Len(), nil
}

func (m *MemoryBackend) Close() error {
	m.lru.Purge()
	return nil
}
