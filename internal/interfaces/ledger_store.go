package interfaces

import (
	"context"

	"github.com/corebank/transaction-orchestrator/internal/models"
)

// LedgerStore is the transaction ledger: append-only storage of transaction
// records plus idempotency-key lookup.
//
// Append must enforce uniqueness of the idempotency key (when present) and
// return models.ErrDuplicateKey to the loser of a concurrent append.
// Finalize moves a PENDING record to its terminal status exactly once.
type LedgerStore interface {
	Append(ctx context.Context, tx models.Transaction) error
	Finalize(ctx context.Context, tx models.Transaction) error
	GetByID(ctx context.Context, id string) (models.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, key string) (models.Transaction, error)
	ListByAccount(ctx context.Context, accountID string, page, size int) ([]models.Transaction, error)
}
