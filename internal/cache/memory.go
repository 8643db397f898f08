package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// MemoryCache is an in-process LRU with per-entry expiry (no Redis required).
// Expired entries are dropped lazily on read.
type MemoryCache struct {
	mu    sync.Mutex
	cache *lru.Cache
	now   func() time.Time
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryCache returns a cache bounded to maxSize entries.
func NewMemoryCache(maxSize int) (*MemoryCache, error) {
	c, err := lru.New(maxSize)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{cache: c, now: time.Now}, nil
}

// Get implements Cache.
func (m *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.cache.Get(key)
	if !ok {
		return "", false, nil
	}
	e := v.(memEntry)
	if !m.now().Before(e.expiresAt) {
		m.cache.Remove(key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set implements Cache. A non-positive ttl deletes the key.
func (m *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl <= 0 {
		m.cache.Remove(key)
		return nil
	}
	m.cache.Add(key, memEntry{value: value, expiresAt: m.now().Add(ttl)})
	return nil
}

// Del implements Cache.
func (m *MemoryCache) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Remove(key)
	return nil
}

// Len reports the number of stored entries, including expired ones not yet
// evicted.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}
