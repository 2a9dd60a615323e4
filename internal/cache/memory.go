package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMemoryEntries caps the in-process cache when no size is given.
const DefaultMemoryEntries = 10000

// MemoryProvider keeps at most size entries in process. Entries live for the
// provider TTL; a shorter per-call ttl is checked on read. A background sweep
// removes expired entries whether or not they are read again.
type MemoryProvider struct {
	lru *expirable.LRU[string, entry]
	now func() time.Time
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryProvider creates an empty in-process cache. size <= 0 uses
// DefaultMemoryEntries; ttl <= 0 keeps entries until evicted by size.
func NewMemoryProvider(size int, ttl time.Duration) *MemoryProvider {
	if size <= 0 {
		size = DefaultMemoryEntries
	}
	if ttl < 0 {
		ttl = 0
	}
	return &MemoryProvider{
		lru: expirable.NewLRU[string, entry](size, nil, ttl),
		now: time.Now,
	}
}

// Get returns a copy of the stored value, or ErrCacheMiss when absent or expired.
func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	it, ok := m.lru.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !it.expiresAt.IsZero() && !m.now().Before(it.expiresAt) {
		m.lru.Remove(key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores a copy of value. A non-positive ttl falls back to the provider TTL.
func (m *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	m.lru.Add(key, entry{value: append([]byte(nil), value...), expiresAt: expires})
	return nil
}

// Del removes an entry.
func (m *MemoryProvider) Del(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

func (m *MemoryProvider) Ping(context.Context) error { return nil }

// Len reports the number of stored entries.
func (m *MemoryProvider) Len() int {
	return m.lru.Len()
}

func (m *MemoryProvider) Close() error {
	m.lru.Purge()
	return nil
}
