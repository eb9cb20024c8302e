package providers

import (
	"context"
	"sync"
	"time"

	"github.com/brightpath-advice/advicegen/internal/store"
)

// StoreCache persists fund lookups through the document store so cached
// entries survive restarts.
type StoreCache struct {
	store store.Store
}

// NewStoreCache wraps a store as a Cache.
func NewStoreCache(s store.Store) *StoreCache {
	return &StoreCache{store: s}
}

func (c *StoreCache) Get(ctx context.Context, provider, fund string) ([]byte, error) {
	return c.store.GetProviderFacts(ctx, provider, fund)
}

func (c *StoreCache) Set(ctx context.Context, provider, fund string, data []byte, ttl time.Duration) error {
	return c.store.SetProviderFacts(ctx, provider, fund, data, ttl)
}

// MemoryCache is an in-process Cache with lazy expiry. The clock is
// injectable so tests can advance time without sleeping.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, provider, fund string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := provider + "|" + fund
	entry, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	// Lazy eviction: stale entries die on access, not via a sweeper.
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, nil
	}
	return entry.data, nil
}

func (c *MemoryCache) Set(_ context.Context, provider, fund string, data []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[provider+"|"+fund] = memoryEntry{data: data, expiresAt: c.now().Add(ttl)}
	return nil
}
