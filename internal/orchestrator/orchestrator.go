package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/corebank/transaction-orchestrator/internal/guard"
	"github.com/corebank/transaction-orchestrator/internal/interfaces"
	"github.com/corebank/transaction-orchestrator/internal/logging"
	"github.com/corebank/transaction-orchestrator/internal/metrics"
	"github.com/corebank/transaction-orchestrator/internal/models"
	"github.com/corebank/transaction-orchestrator/internal/models/events"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Orchestrator validates, serializes, applies and records money movement
// across the account ledger and the transaction ledger. It holds no lock
// across calls; consistency comes from the version discipline in
// guard.Guard, which is the only writer of account balances.
type Orchestrator struct {
	accounts  interfaces.AccountStateClient
	guard     *guard.Guard
	store     interfaces.LedgerStore
	publisher interfaces.EventPublisher
	metrics   *metrics.Collector
	logger    *logging.Logger
	now       func() time.Time
}

// Config wires an Orchestrator.
type Config struct {
	Accounts interfaces.AccountStateClient
	Guard    *guard.Guard
	Store    interfaces.LedgerStore

	// Publisher is optional; nil disables event emission.
	Publisher interfaces.EventPublisher

	Metrics *metrics.Collector
	Logger  *logging.Logger
}

// New creates an Orchestrator.
func New(config Config) *Orchestrator {
	if config.Metrics == nil {
		config.Metrics = metrics.NewNop()
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Orchestrator{
		accounts:  config.Accounts,
		guard:     config.Guard,
		store:     config.Store,
		publisher: config.Publisher,
		metrics:   config.Metrics,
		logger:    logger.Named("orchestrator"),
		now:       time.Now,
	}
}

// DepositRequest credits a single account.
type DepositRequest struct {
	AccountID      string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Description    string
}

// WithdrawRequest debits a single account.
type WithdrawRequest struct {
	AccountID      string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Description    string
}

// TransferRequest moves money between two accounts.
type TransferRequest struct {
	FromAccountID  string
	ToAccountID    string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

// Deposit credits the destination account and records the movement. The
// returned bool reports a replay: the record already existed under the
// request's idempotency key and no new effect was applied.
func (o *Orchestrator) Deposit(ctx context.Context, req DepositRequest) (models.Transaction, bool, error) {
	if tx, replayed, err := o.replay(ctx, req.IdempotencyKey); replayed || err != nil {
		return tx, replayed, err
	}
	if err := validateMovement(req.Amount, req.Currency, req.AccountID); err != nil {
		return models.Transaction{}, false, err
	}

	tx := models.Transaction{
		ID:             uuid.New().String(),
		IdempotencyKey: req.IdempotencyKey,
		ToAccount:      req.AccountID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Type:           models.TypeDeposit,
		Status:         models.StatusPending,
		Description:    req.Description,
		CreatedAt:      o.now(),
	}
	tx, admitted, err := o.admit(ctx, tx)
	if err != nil {
		return models.Transaction{}, false, err
	}
	if !admitted {
		return tx, true, nil
	}

	defer o.observe(models.TypeDeposit, tx.CreatedAt)

	if err := o.resolveAccounts(ctx, req.Currency, req.AccountID); err != nil {
		tx, err = o.reject(ctx, tx, err)
		return tx, false, err
	}

	if _, err := o.guard.ApplyDelta(ctx, req.AccountID, req.Amount); err != nil {
		tx, err = o.reject(ctx, tx, err)
		return tx, false, err
	}

	return o.complete(ctx, tx), false, nil
}

// Withdraw debits the source account and records the movement. The returned
// bool reports a replay, as on Deposit.
func (o *Orchestrator) Withdraw(ctx context.Context, req WithdrawRequest) (models.Transaction, bool, error) {
	if tx, replayed, err := o.replay(ctx, req.IdempotencyKey); replayed || err != nil {
		return tx, replayed, err
	}
	if err := validateMovement(req.Amount, req.Currency, req.AccountID); err != nil {
		return models.Transaction{}, false, err
	}

	tx := models.Transaction{
		ID:             uuid.New().String(),
		IdempotencyKey: req.IdempotencyKey,
		FromAccount:    req.AccountID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Type:           models.TypeWithdrawal,
		Status:         models.StatusPending,
		Description:    req.Description,
		CreatedAt:      o.now(),
	}
	tx, admitted, err := o.admit(ctx, tx)
	if err != nil {
		return models.Transaction{}, false, err
	}
	if !admitted {
		return tx, true, nil
	}

	defer o.observe(models.TypeWithdrawal, tx.CreatedAt)

	if err := o.resolveAccounts(ctx, req.Currency, req.AccountID); err != nil {
		tx, err = o.reject(ctx, tx, err)
		return tx, false, err
	}

	if _, err := o.guard.ApplyDelta(ctx, req.AccountID, req.Amount.Neg()); err != nil {
		tx, err = o.reject(ctx, tx, err)
		return tx, false, err
	}

	return o.complete(ctx, tx), false, nil
}

// Transfer debits the source, then credits the destination. The legs are two
// independent conditional updates ordered debit-first; a failed credit is
// compensated by crediting the source back. If compensation itself fails the
// record is marked as requiring manual reconciliation and an operator alert
// is emitted.
func (o *Orchestrator) Transfer(ctx context.Context, req TransferRequest) (models.Transaction, bool, error) {
	if tx, replayed, err := o.replay(ctx, req.IdempotencyKey); replayed || err != nil {
		return tx, replayed, err
	}
	if err := validateMovement(req.Amount, req.Currency, req.FromAccountID, req.ToAccountID); err != nil {
		return models.Transaction{}, false, err
	}
	if req.FromAccountID == req.ToAccountID {
		return models.Transaction{}, false, fmt.Errorf("%w: transfer to the same account", models.ErrInvalidOperation)
	}

	tx := models.Transaction{
		ID:             uuid.New().String(),
		IdempotencyKey: req.IdempotencyKey,
		FromAccount:    req.FromAccountID,
		ToAccount:      req.ToAccountID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Type:           models.TypeTransfer,
		Status:         models.StatusPending,
		CreatedAt:      o.now(),
	}
	tx, admitted, err := o.admit(ctx, tx)
	if err != nil {
		return models.Transaction{}, false, err
	}
	if !admitted {
		return tx, true, nil
	}

	defer o.observe(models.TypeTransfer, tx.CreatedAt)

	if err := o.resolveAccounts(ctx, req.Currency, req.FromAccountID, req.ToAccountID); err != nil {
		tx, err = o.reject(ctx, tx, err)
		return tx, false, err
	}

	if _, err := o.guard.ApplyDelta(ctx, req.FromAccountID, req.Amount.Neg()); err != nil {
		tx, err = o.reject(ctx, tx, err)
		return tx, false, err
	}

	// Money has left the source. From here the operation is no longer
	// cancellable: it runs to COMPLETED or a compensated FAILED.
	ctx = context.WithoutCancel(ctx)

	if _, err := o.guard.ApplyDelta(ctx, req.ToAccountID, req.Amount); err != nil {
		tx, err = o.compensate(ctx, tx, err)
		return tx, false, err
	}

	return o.complete(ctx, tx), false, nil
}

// GetTransaction returns a transaction by ID.
func (o *Orchestrator) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	return o.store.GetByID(ctx, id)
}

// ListByAccount returns transactions touching the account, newest first.
func (o *Orchestrator) ListByAccount(ctx context.Context, accountID string, page, size int) ([]models.Transaction, error) {
	return o.store.ListByAccount(ctx, accountID, page, size)
}

// replay returns the existing transaction for a previously seen idempotency
// key, with no side effect.
func (o *Orchestrator) replay(ctx context.Context, key string) (models.Transaction, bool, error) {
	if key == "" {
		return models.Transaction{}, false, nil
	}

	existing, err := o.store.GetByIdempotencyKey(ctx, key)
	if err == nil {
		o.logger.Info("idempotent replay",
			zap.String("idempotency_key", key),
			zap.String("transaction_id", existing.ID),
			zap.String("status", string(existing.Status)),
		)
		return existing, true, nil
	}
	if errors.Is(err, models.ErrTransactionNotFound) {
		return models.Transaction{}, false, nil
	}
	return models.Transaction{}, false, err
}

// admit reserves the idempotency key by appending the PENDING record. When a
// concurrent request with the same key won the append, the winner's record
// is returned instead and no side effect happens here.
func (o *Orchestrator) admit(ctx context.Context, tx models.Transaction) (models.Transaction, bool, error) {
	err := o.store.Append(ctx, tx)
	if err == nil {
		return tx, true, nil
	}
	if errors.Is(err, models.ErrDuplicateKey) && tx.IdempotencyKey != "" {
		existing, getErr := o.store.GetByIdempotencyKey(ctx, tx.IdempotencyKey)
		if getErr != nil {
			return models.Transaction{}, false, getErr
		}
		return existing, false, nil
	}
	return models.Transaction{}, false, fmt.Errorf("admitting transaction: %w", err)
}

// resolveAccounts checks that every involved account exists, is ACTIVE and
// matches the request currency before any balance effect is attempted.
func (o *Orchestrator) resolveAccounts(ctx context.Context, currency string, accountIDs ...string) error {
	for _, id := range accountIDs {
		account, err := o.accounts.Get(ctx, id)
		if err != nil {
			return err
		}
		if !account.CanTransact() {
			return fmt.Errorf("%w: account %s is %s", models.ErrAccountInactive, id, account.Status)
		}
		if account.Currency != currency {
			return fmt.Errorf("%w: account %s holds %s", models.ErrCurrencyMismatch, id, account.Currency)
		}
	}
	return nil
}

// reject finalizes the record FAILED and propagates the original error. A
// cause carrying ErrReconciliationRequired means a balance effect may have
// landed without a determinable outcome; that is never recorded as a plain
// failure, it goes through the reconciliation path.
func (o *Orchestrator) reject(ctx context.Context, tx models.Transaction, cause error) (models.Transaction, error) {
	if errors.Is(cause, models.ErrReconciliationRequired) {
		return o.reconcile(ctx, tx, cause.Error())
	}
	tx.Status = models.StatusFailed
	tx.FailureReason = models.FailureReason(cause)
	o.finalize(ctx, tx)
	o.metrics.TransactionsTotal.WithLabelValues(string(tx.Type), string(models.StatusFailed)).Inc()
	return tx, cause
}

// compensate reverses a successful debit after the credit leg failed. The
// one genuinely irrecoverable path is a compensation that also fails: that
// is surfaced as ReconciliationRequired, counted, and alerted, never
// silently resolved.
func (o *Orchestrator) compensate(ctx context.Context, tx models.Transaction, cause error) (models.Transaction, error) {
	if errors.Is(cause, models.ErrReconciliationRequired) {
		// The credit outcome is unknown. Crediting the source back now
		// would double the money if the credit actually landed.
		return o.reconcile(ctx, tx, fmt.Sprintf("credit outcome unresolved after debit: %v", cause))
	}

	o.logger.Warn("credit leg failed, compensating debit",
		zap.String("transaction_id", tx.ID),
		zap.String("from_account_id", tx.FromAccount),
		zap.String("to_account_id", tx.ToAccount),
		zap.Error(cause),
	)

	if _, err := o.guard.ApplyDelta(ctx, tx.FromAccount, tx.Amount); err != nil {
		o.logger.Error("compensation failed, manual reconciliation required",
			zap.String("transaction_id", tx.ID),
			zap.String("debited_account_id", tx.FromAccount),
			zap.String("amount", tx.Amount.String()),
			zap.NamedError("credit_error", cause),
			zap.NamedError("compensation_error", err),
		)
		return o.reconcile(ctx, tx, fmt.Sprintf("credit failed (%v), compensation failed (%v)", cause, err))
	}

	o.metrics.CompensationsTotal.Inc()
	tx.Status = models.StatusFailed
	tx.FailureReason = models.ReasonCompensated
	o.finalize(ctx, tx)
	o.metrics.TransactionsTotal.WithLabelValues(string(tx.Type), string(models.StatusFailed)).Inc()
	return tx, cause
}

// reconcile finalizes a money movement whose outcome is unresolved. The
// record is marked for an operator, counted, and alerted; it is the one path
// that ends without knowing where the money sits.
func (o *Orchestrator) reconcile(ctx context.Context, tx models.Transaction, detail string) (models.Transaction, error) {
	o.metrics.ReconciliationRequired.Inc()
	o.logger.Error("manual reconciliation required",
		zap.String("transaction_id", tx.ID),
		zap.String("detail", detail),
	)
	tx.Status = models.StatusFailed
	tx.FailureReason = models.ReasonReconciliation
	o.finalize(ctx, tx)
	o.metrics.TransactionsTotal.WithLabelValues(string(tx.Type), string(models.StatusFailed)).Inc()
	o.publish(ctx, events.TopicReconciliation, events.ReconciliationRequired{
		TransactionID:  tx.ID,
		DebitedAccount: tx.FromAccount,
		Amount:         tx.Amount,
		Currency:       tx.Currency,
		Detail:         detail,
		OccurredAt:     o.now(),
	})
	return tx, fmt.Errorf("%w: transaction %s", models.ErrReconciliationRequired, tx.ID)
}

// complete finalizes the record COMPLETED with the settlement time and
// publishes the settled event.
func (o *Orchestrator) complete(ctx context.Context, tx models.Transaction) models.Transaction {
	settledAt := o.now()
	tx.Status = models.StatusCompleted
	tx.SettledAt = &settledAt
	o.finalize(ctx, tx)
	o.metrics.TransactionsTotal.WithLabelValues(string(tx.Type), string(models.StatusCompleted)).Inc()
	o.publish(ctx, events.TopicTransactionSettled, events.TransactionSettled{
		TransactionID: tx.ID,
		Type:          string(tx.Type),
		Status:        string(tx.Status),
		FromAccount:   tx.FromAccount,
		ToAccount:     tx.ToAccount,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		OccurredAt:    settledAt,
	})
	return tx
}

// finalize persists the terminal status. A write failure here, after balance
// effects have been applied, cannot be rolled back: the movement already
// happened at the account ledger. It is logged for reconciliation and
// counted, never dropped.
func (o *Orchestrator) finalize(ctx context.Context, tx models.Transaction) {
	if err := o.store.Finalize(ctx, tx); err != nil {
		o.metrics.ReconciliationRequired.Inc()
		o.logger.Error("failed to finalize transaction record, manual reconciliation required",
			zap.String("transaction_id", tx.ID),
			zap.String("status", string(tx.Status)),
			zap.Error(err),
		)
		o.publish(ctx, events.TopicReconciliation, events.ReconciliationRequired{
			TransactionID:  tx.ID,
			DebitedAccount: tx.FromAccount,
			Amount:         tx.Amount,
			Currency:       tx.Currency,
			Detail:         fmt.Sprintf("ledger write failed after balance effects: %v", err),
			OccurredAt:     o.now(),
		})
	}
}

func (o *Orchestrator) publish(ctx context.Context, topic string, event any) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, topic, event); err != nil {
		o.logger.Warn("event publish failed",
			zap.String("topic", topic),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) observe(txType models.TransactionType, start time.Time) {
	o.metrics.OperationDuration.WithLabelValues(string(txType)).Observe(time.Since(start).Seconds())
}

func validateMovement(amount decimal.Decimal, currency string, accountIDs ...string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	if currency == "" {
		return fmt.Errorf("%w: currency is required", models.ErrValidation)
	}
	for _, id := range accountIDs {
		if id == "" {
			return fmt.Errorf("%w: account id is required", models.ErrValidation)
		}
	}
	return nil
}
