package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kafka topics produced by the orchestrator.
const (
	TopicTransactionSettled = "transaction.settled"
	TopicReconciliation     = "ledger.reconciliation"
)

// TransactionSettled is published once a transaction reaches a terminal
// status.
type TransactionSettled struct {
	TransactionID string          `json:"transaction_id"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	FromAccount   string          `json:"from_account_id,omitempty"`
	ToAccount     string          `json:"to_account_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// ReconciliationRequired is the operator alert emitted when a compensation
// failed after a successful debit. The debited account holds money the
// ledger record cannot account for until an operator intervenes.
type ReconciliationRequired struct {
	TransactionID  string          `json:"transaction_id"`
	DebitedAccount string          `json:"debited_account_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Detail         string          `json:"detail"`
	OccurredAt     time.Time       `json:"occurred_at"`
}
