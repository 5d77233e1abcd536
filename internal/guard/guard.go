package guard

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/corebank/transaction-orchestrator/internal/interfaces"
	"github.com/corebank/transaction-orchestrator/internal/logging"
	"github.com/corebank/transaction-orchestrator/internal/metrics"
	"github.com/corebank/transaction-orchestrator/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Guard applies balance changes through a read-compute-conditional-write
// cycle keyed on the account's version stamp. Two concurrent operations
// cannot both decide a debit is safe from the same stale balance: the second
// conditional write loses on the version check and the cycle repeats from a
// fresh read. This is the only place account balances are mutated.
type Guard struct {
	client      interfaces.AccountStateClient
	maxRetries  int
	backoffBase time.Duration
	metrics     *metrics.Collector
	logger      *logging.Logger
}

// Config configures a Guard.
type Config struct {
	// MaxRetries bounds how many times a lost version race is retried
	// before giving up with ErrConcurrencyExhausted.
	MaxRetries int

	// BackoffBase is the base delay between retries; actual delay is
	// jittered in [0, base).
	BackoffBase time.Duration

	Metrics *metrics.Collector
	Logger  *logging.Logger
}

// New creates a Guard over the given account ledger client.
func New(client interfaces.AccountStateClient, config Config) *Guard {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 5
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 10 * time.Millisecond
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NewNop()
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Guard{
		client:      client,
		maxRetries:  config.MaxRetries,
		backoffBase: config.BackoffBase,
		metrics:     config.Metrics,
		logger:      logger.Named("guard"),
	}
}

// Result is the account state after a successful balance change.
type Result struct {
	NewBalance decimal.Decimal
	NewVersion int64
}

// ApplyDelta adds delta (negative for a debit) to the account's balance as a
// single conditional operation. It fails with ErrInsufficientFunds when the
// resulting balance would be negative at the instant of the attempt, with
// ErrAccountInactive when the account is not ACTIVE, and with
// ErrConcurrencyExhausted when concurrent writers won every retry.
//
// The account's status is re-checked on every attempt, so a concurrently
// blocked account fails here rather than being mutated.
func (g *Guard) ApplyDelta(ctx context.Context, accountID string, delta decimal.Decimal) (Result, error) {
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			g.metrics.GuardRetriesTotal.Inc()
			if err := sleepJitter(ctx, g.backoffBase); err != nil {
				return Result{}, err
			}
		}

		account, err := g.client.Get(ctx, accountID)
		if err != nil {
			return Result{}, err
		}
		if !account.CanTransact() {
			return Result{}, fmt.Errorf("%w: account %s is %s", models.ErrAccountInactive, accountID, account.Status)
		}

		newBalance := account.Balance.Add(delta)
		if newBalance.IsNegative() {
			return Result{}, models.ErrInsufficientFunds
		}

		newVersion, err := g.client.ConditionalUpdateBalance(ctx, accountID, account.Version, newBalance)
		if err == nil {
			return Result{NewBalance: newBalance, NewVersion: newVersion}, nil
		}

		if errors.Is(err, models.ErrVersionConflict) {
			g.logger.Debug("version conflict, retrying",
				zap.String("account_id", accountID),
				zap.Int64("expected_version", account.Version),
				zap.Int("attempt", attempt+1),
			)
			continue
		}

		if errors.Is(err, models.ErrAccountServiceUnavailable) {
			// The write outcome is unknown. Re-read before deciding:
			// treating a timed-out but applied write as failed would
			// double-apply on retry.
			outcome, result, checkErr := g.checkApplied(ctx, accountID, account.Version, newBalance)
			if checkErr != nil {
				return Result{}, g.unresolved(accountID, err, checkErr)
			}
			switch outcome {
			case writeApplied:
				return result, nil
			case writeNotApplied:
				continue
			default:
				return Result{}, g.unresolved(accountID, err, nil)
			}
		}

		return Result{}, err
	}

	return Result{}, fmt.Errorf("%w: account %s after %d attempts", models.ErrConcurrencyExhausted, accountID, g.maxRetries+1)
}

// unresolved reports a conditional update whose effect could not be
// determined: the balance may or may not have moved. That is never resolved
// by guessing; it is surfaced for an operator.
func (g *Guard) unresolved(accountID string, writeErr, checkErr error) error {
	g.logger.Error("conditional update outcome unresolved",
		zap.String("account_id", accountID),
		zap.NamedError("write_error", writeErr),
		zap.NamedError("check_error", checkErr),
	)
	return fmt.Errorf("%w: account %s: conditional update outcome unknown: %v", models.ErrReconciliationRequired, accountID, writeErr)
}

type writeOutcome int

const (
	writeUnknown writeOutcome = iota
	writeApplied
	writeNotApplied
)

// checkApplied resolves an ambiguous conditional update by re-reading the
// account. The write applied iff the version advanced exactly once past the
// expected one and the balance matches what was written. A still-unchanged
// version means the write never landed and the cycle may retry. If other
// writers moved the account further, the outcome cannot be determined and
// the ambiguity is surfaced rather than guessed at.
func (g *Guard) checkApplied(ctx context.Context, accountID string, expectedVersion int64, intendedBalance decimal.Decimal) (writeOutcome, Result, error) {
	account, err := g.client.Get(ctx, accountID)
	if err != nil {
		return writeUnknown, Result{}, err
	}

	switch {
	case account.Version == expectedVersion:
		return writeNotApplied, Result{}, nil
	case account.Version == expectedVersion+1 && account.Balance.Equal(intendedBalance):
		return writeApplied, Result{NewBalance: account.Balance, NewVersion: account.Version}, nil
	default:
		return writeUnknown, Result{}, nil
	}
}

func sleepJitter(ctx context.Context, base time.Duration) error {
	if base <= 0 {
		return nil
	}

	timer := time.NewTimer(time.Duration(rand.Int64N(int64(base))))
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
