package memory

import (
	"context"
	"sync"
	"time"

	"github.com/corebank/transaction-orchestrator/internal/interfaces"
	"github.com/corebank/transaction-orchestrator/internal/models"
)

type entry struct {
	tx        models.Transaction
	expiresAt time.Time
}

// Cache is a process-local TransactionCache, used in tests and single-node
// local runs.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
}

// New creates an empty in-memory cache.
func New() *Cache {
	return &Cache{entries: make(map[string]entry)}
}

func (c *Cache) Get(ctx context.Context, id string) (models.Transaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return models.Transaction{}, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, id)
		return models.Transaction{}, false
	}
	return e.tx, true
}

func (c *Cache) Set(ctx context.Context, tx models.Transaction, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[tx.ID] = entry{tx: tx, expiresAt: time.Now().Add(ttl)}
}

func (c *Cache) Invalidate(ctx context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
}

var _ interfaces.TransactionCache = (*Cache)(nil)
