package interfaces

import (
	"context"

	"github.com/corebank/transaction-orchestrator/internal/models"
	"github.com/shopspring/decimal"
)

// AccountStateClient is the boundary to the account ledger service, the
// single source of truth for balances. Get returns the current snapshot
// including the version stamp; ConditionalUpdateBalance applies a new
// balance only if the stored version still equals expectedVersion, returning
// models.ErrVersionConflict otherwise.
type AccountStateClient interface {
	Get(ctx context.Context, accountID string) (models.Account, error)
	ConditionalUpdateBalance(ctx context.Context, accountID string, expectedVersion int64, newBalance decimal.Decimal) (newVersion int64, err error)
}
