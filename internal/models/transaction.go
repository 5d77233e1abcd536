package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a money movement.
type TransactionType string

const (
	TypeDeposit    TransactionType = "DEPOSIT"
	TypeWithdrawal TransactionType = "WITHDRAWAL"
	TypeTransfer   TransactionType = "TRANSFER"
)

// TransactionStatus is the settlement state of a transaction record.
// COMPLETED and FAILED are terminal; a record never leaves either.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

// Failure reasons recorded on FAILED transactions. ReasonReconciliation marks
// the one outcome that needs operator intervention: a debit was applied and
// could not be reversed.
const (
	ReasonAccountNotFound   = "account not found"
	ReasonAccountInactive   = "account not active"
	ReasonInsufficientFunds = "insufficient funds"
	ReasonCurrencyMismatch  = "currency mismatch"
	ReasonContention        = "concurrent update retries exhausted"
	ReasonCompensated       = "credit failed, debit compensated"
	ReasonReconciliation    = "requires manual reconciliation"
)

// Transaction is a ledger record of a money movement. It is created PENDING
// once a request is admitted and finalized exactly once by the orchestrator.
type Transaction struct {
	ID             string            `json:"transaction_id"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	FromAccount    string            `json:"from_account_id,omitempty"`
	ToAccount      string            `json:"to_account_id,omitempty"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	Type           TransactionType   `json:"type"`
	Status         TransactionStatus `json:"status"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	Description    string            `json:"description,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	SettledAt      *time.Time        `json:"settled_at,omitempty"`
}

// Terminal reports whether the record has reached COMPLETED or FAILED.
func (t Transaction) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// RequiresReconciliation reports whether the record failed in a way that
// left money movement unresolved at the account ledger.
func (t Transaction) RequiresReconciliation() bool {
	return t.Status == StatusFailed && t.FailureReason == ReasonReconciliation
}
