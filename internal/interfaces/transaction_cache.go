package interfaces

import (
	"context"
	"time"

	"github.com/corebank/transaction-orchestrator/internal/models"
)

// TransactionCache is a read-side cache for transaction lookups. It is never
// consulted for balance decisions; a miss or a cache failure always falls
// through to the LedgerStore.
type TransactionCache interface {
	Get(ctx context.Context, id string) (models.Transaction, bool)
	Set(ctx context.Context, tx models.Transaction, ttl time.Duration)
	Invalidate(ctx context.Context, id string)
}
