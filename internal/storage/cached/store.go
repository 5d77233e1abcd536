package cached

import (
	"context"
	"time"

	"github.com/corebank/transaction-orchestrator/internal/interfaces"
	"github.com/corebank/transaction-orchestrator/internal/metrics"
	"github.com/corebank/transaction-orchestrator/internal/models"
)

// LedgerStore decorates an interfaces.LedgerStore with a cache-aside read
// path for single-transaction lookups. The cache is a performance layer
// only: writes go to the underlying store first and invalidate the cached
// entry, and list/idempotency lookups bypass the cache entirely. Nothing
// here participates in a balance decision.
type LedgerStore struct {
	interfaces.LedgerStore

	cache   interfaces.TransactionCache
	ttl     time.Duration
	metrics *metrics.Collector
}

// New wraps store with the given cache. Terminal records are cached with
// ttl; PENDING records are never cached, since they are about to change.
func New(store interfaces.LedgerStore, cache interfaces.TransactionCache, ttl time.Duration, collector *metrics.Collector) *LedgerStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if collector == nil {
		collector = metrics.NewNop()
	}
	return &LedgerStore{
		LedgerStore: store,
		cache:       cache,
		ttl:         ttl,
		metrics:     collector,
	}
}

func (c *LedgerStore) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	if tx, ok := c.cache.Get(ctx, id); ok {
		c.metrics.CacheHits.Inc()
		return tx, nil
	}
	c.metrics.CacheMisses.Inc()

	tx, err := c.LedgerStore.GetByID(ctx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	if tx.Terminal() {
		c.cache.Set(ctx, tx, c.ttl)
	}
	return tx, nil
}

func (c *LedgerStore) Finalize(ctx context.Context, tx models.Transaction) error {
	if err := c.LedgerStore.Finalize(ctx, tx); err != nil {
		return err
	}
	c.cache.Invalidate(ctx, tx.ID)
	return nil
}

var _ interfaces.LedgerStore = (*LedgerStore)(nil)
