package models

import "errors"

// Domain errors returned by the orchestrator and its collaborators. Handlers
// map these to HTTP statuses; everything unrecognized is a 500.
var (
	// ErrValidation is returned for a malformed or illegal request. Never
	// retried, no record written.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidOperation is returned when an operation is structurally
	// impossible, such as a transfer from an account to itself.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrAccountNotFound is returned when the account ledger does not know
	// the account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountInactive is returned when the account exists but is not
	// ACTIVE.
	ErrAccountInactive = errors.New("account not active")

	// ErrCurrencyMismatch is returned when the request currency does not
	// match the account's currency.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrInsufficientFunds is a business rejection: the balance at the
	// instant of the attempt could not cover the debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrVersionConflict is returned by the account ledger when a
	// conditional update carries a stale version. BalanceGuard retries it;
	// it never reaches callers of the orchestrator.
	ErrVersionConflict = errors.New("account version conflict")

	// ErrConcurrencyExhausted is returned when conditional updates kept
	// losing to concurrent writers past the retry bound. Safe to retry the
	// whole operation under the same idempotency key.
	ErrConcurrencyExhausted = errors.New("concurrent update retries exhausted")

	// ErrAccountServiceUnavailable is a transport-level failure that
	// survived the client's retry budget.
	ErrAccountServiceUnavailable = errors.New("account service unavailable")

	// ErrReconciliationRequired is returned when a money movement could not
	// be resolved: a compensation failed after a successful debit, or a
	// conditional update's outcome could not be determined. It must reach
	// an operator.
	ErrReconciliationRequired = errors.New("requires manual reconciliation")

	// ErrDuplicateKey is returned by a LedgerStore append when the
	// idempotency key is already taken.
	ErrDuplicateKey = errors.New("idempotency key already used")

	// ErrTransactionNotFound is returned by LedgerStore lookups.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// IsRejection reports whether err is a business or validation rejection
// carrying no side effect, as opposed to an infrastructure failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidOperation) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrAccountInactive) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrInsufficientFunds)
}

// FailureReason maps a rejection error to the reason recorded on a FAILED
// transaction. Returns the error text for anything unmapped.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrAccountNotFound):
		return ReasonAccountNotFound
	case errors.Is(err, ErrAccountInactive):
		return ReasonAccountInactive
	case errors.Is(err, ErrInsufficientFunds):
		return ReasonInsufficientFunds
	case errors.Is(err, ErrCurrencyMismatch):
		return ReasonCurrencyMismatch
	case errors.Is(err, ErrConcurrencyExhausted):
		return ReasonContention
	case errors.Is(err, ErrReconciliationRequired):
		return ReasonReconciliation
	default:
		return err.Error()
	}
}
