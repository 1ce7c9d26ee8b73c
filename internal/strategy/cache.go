package strategy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/store"
)

// Cache holds generated strategies by context hash until they expire.
type Cache interface {
	// Get returns the unexpired strategy for hash, or nil.
	Get(ctx context.Context, hash string, now time.Time) (*model.Strategy, error)
	// Put stores s unless an unexpired entry already exists. It reports
	// whether s was written.
	Put(ctx context.Context, s *model.Strategy) (bool, error)
}

// ContextHash keys a strategy by client, ICP and persona.
func ContextHash(clientID, icpID, personaID string) string {
	sum := sha256.Sum256([]byte(clientID + ":" + icpID + ":" + personaID))
	return hex.EncodeToString(sum[:])
}

// StoreCache persists strategies through the store.
type StoreCache struct {
	store store.Store
}

// NewStoreCache creates a Cache backed by st.
func NewStoreCache(st store.Store) *StoreCache {
	return &StoreCache{store: st}
}

func (c *StoreCache) Get(ctx context.Context, hash string, now time.Time) (*model.Strategy, error) {
	return c.store.GetStrategy(ctx, hash, now)
}

func (c *StoreCache) Put(ctx context.Context, s *model.Strategy) (bool, error) {
	return c.store.PutStrategy(ctx, s)
}

// MemoryCache keeps strategies in process memory.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]model.Strategy
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]model.Strategy)}
}

func (c *MemoryCache) Get(_ context.Context, hash string, now time.Time) (*model.Strategy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[hash]
	if !ok || !now.Before(s.ExpiresAt) {
		return nil, nil
	}
	return &s, nil
}

func (c *MemoryCache) Put(_ context.Context, s *model.Strategy) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[s.ContextHash]; ok && s.CreatedAt.Before(cur.ExpiresAt) {
		return false, nil
	}
	c.entries[s.ContextHash] = *s
	return true, nil
}
