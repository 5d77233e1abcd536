package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/corebank/transaction-orchestrator/internal/accounts/memory"
	"github.com/corebank/transaction-orchestrator/internal/guard"
	"github.com/corebank/transaction-orchestrator/internal/models"
	"github.com/corebank/transaction-orchestrator/internal/models/events"
	storagememory "github.com/corebank/transaction-orchestrator/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hookClient wraps the in-memory account service and runs a callback after
// every applied conditional update, for simulating state changes that race
// with an in-flight operation.
type hookClient struct {
	*memory.AccountService

	mu          sync.Mutex
	afterUpdate func(accountID string)
}

func (h *hookClient) ConditionalUpdateBalance(ctx context.Context, accountID string, expectedVersion int64, newBalance decimal.Decimal) (int64, error) {
	v, err := h.AccountService.ConditionalUpdateBalance(ctx, accountID, expectedVersion, newBalance)
	if err == nil {
		h.mu.Lock()
		hook := h.afterUpdate
		h.afterUpdate = nil
		h.mu.Unlock()
		if hook != nil {
			hook(accountID)
		}
	}
	return v, err
}

// recordingPublisher captures emitted events.
type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]any
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{events: make(map[string][]any)}
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[topic] = append(p.events[topic], event)
	return nil
}

func (p *recordingPublisher) byTopic(topic string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[topic]
}

type fixture struct {
	accounts     *memory.AccountService
	client       *hookClient
	store        *storagememory.LedgerStore
	publisher    *recordingPublisher
	orchestrator *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	svc := memory.NewAccountService()
	client := &hookClient{AccountService: svc}
	store := storagememory.NewLedgerStore()
	publisher := newRecordingPublisher()

	o := New(Config{
		Accounts:  client,
		Guard:     guard.New(client, guard.Config{MaxRetries: 50}),
		Store:     store,
		Publisher: publisher,
	})

	return &fixture{
		accounts:     svc,
		client:       client,
		store:        store,
		publisher:    publisher,
		orchestrator: o,
	}
}

func (f *fixture) seed(id string, balance int64) {
	f.accounts.Seed(models.Account{
		ID:       id,
		Balance:  decimal.NewFromInt(balance),
		Currency: "USD",
	})
}

func (f *fixture) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	account, err := f.accounts.Get(context.Background(), id)
	require.NoError(t, err)
	return account.Balance
}

func usd(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func TestDepositWithdrawRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.seed("A", 0)
	ctx := context.Background()

	tx, _, err := f.orchestrator.Deposit(ctx, DepositRequest{AccountID: "A", Amount: usd(100), Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, tx.Status)
	assert.NotNil(t, tx.SettledAt)
	assert.True(t, f.balance(t, "A").Equal(usd(100)))

	tx, _, err = f.orchestrator.Withdraw(ctx, WithdrawRequest{AccountID: "A", Amount: usd(40), Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, tx.Status)
	assert.True(t, f.balance(t, "A").Equal(usd(60)))

	_, _, err = f.orchestrator.Withdraw(ctx, WithdrawRequest{AccountID: "A", Amount: usd(1000), Currency: "USD"})
	require.ErrorIs(t, err, models.ErrInsufficientFunds)
	assert.True(t, f.balance(t, "A").Equal(usd(60)), "rejected withdrawal must not move the balance")
}

func TestTransferMovesBothLegs(t *testing.T) {
	f := newFixture(t)
	f.seed("A", 60)
	f.seed("B", 0)

	tx, _, err := f.orchestrator.Transfer(context.Background(), TransferRequest{
		FromAccountID: "A", ToAccountID: "B", Amount: usd(50), Currency: "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, tx.Status)
	assert.True(t, f.balance(t, "A").Equal(usd(10)))
	assert.True(t, f.balance(t, "B").Equal(usd(50)))

	settled := f.publisher.byTopic(events.TopicTransactionSettled)
	require.Len(t, settled, 1)
	event := settled[0].(events.TransactionSettled)
	assert.Equal(t, tx.ID, event.TransactionID)
}

func TestValidationFailuresWriteNoRecord(t *testing.T) {
	f := newFixture(t)
	f.seed("A", 100)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
	}{
		{"zero amount", func() error {
			_, _, err := f.orchestrator.Deposit(ctx, DepositRequest{AccountID: "A", Amount: usd(0), Currency: "USD"})
			return err
		}},
		{"negative amount", func() error {
			_, _, err := f.orchestrator.Withdraw(ctx, WithdrawRequest{AccountID: "A", Amount: usd(-5), Currency: "USD"})
			return err
		}},
		{"missing currency", func() error {
			_, _, err := f.orchestrator.Deposit(ctx, DepositRequest{AccountID: "A", Amount: usd(10)})
			return err
		}},
		{"missing account", func() error {
			_, _, err := f.orchestrator.Withdraw(ctx, WithdrawRequest{Amount: usd(10), Currency: "USD"})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			require.ErrorIs(t, err, models.ErrValidation)
		})
	}

	list, err := f.store.ListByAccount(ctx, "A", 0, 100)
	require.NoError(t, err)
	assert.Empty(t, list, "validation failures must not write records")
}

func TestSameAccountTransferFailsBeforeAnyCall(t *testing.T) {
	f := newFixture(t)
	f.seed("A", 100)

	_, _, err := f.orchestrator.Transfer(context.Background(), TransferRequest{
		FromAccountID: "A", ToAccountID: "A", Amount: usd(10), Currency: "USD", IdempotencyKey: "same-acc",
	})
	require.ErrorIs(t, err, models.ErrInvalidOperation)

	_, err = f.store.GetByIdempotencyKey(context.Background(), "same-acc")
	assert.ErrorIs(t, err, models.ErrTransactionNotFound, "rejected transfer must not reserve the key")
	assert.True(t, f.balance(t, "A").Equal(usd(100)))
}

func TestAdmittedFailureWritesFailedRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.orchestrator.Deposit(ctx, DepositRequest{
		AccountID: "ghost", Amount: usd(10), Currency: "USD", IdempotencyKey: "dep-ghost",
	})
	require.ErrorIs(t, err, models.ErrAccountNotFound)

	recorded, err := f.store.GetByIdempotencyKey(ctx, "dep-ghost")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, recorded.Status)
	assert.Equal(t, models.ReasonAccountNotFound, recorded.FailureReason)
	assert.Nil(t, recorded.SettledAt)

	// A retry under the same key observes the failure instead of
	// re-attempting side effects.
	replayed, wasReplay, err := f.orchestrator.Deposit(ctx, DepositRequest{
		AccountID: "ghost", Amount: usd(10), Currency: "USD", IdempotencyKey: "dep-ghost",
	})
	require.NoError(t, err)
	assert.True(t, wasReplay)
	assert.Equal(t, recorded.ID, replayed.ID)
	assert.Equal(t, models.StatusFailed, replayed.Status)
}

func TestInactiveAndMismatchedAccountsRejected(t *testing.T) {
	f := newFixture(t)
	f.seed("A", 100)
	f.accounts.Seed(models.Account{ID: "EUR", Balance: usd(100), Currency: "EUR"})
	ctx := context.Background()

	f.accounts.SetStatus("A", models.AccountBlocked)
	_, _, err := f.orchestrator.Deposit(ctx, DepositRequest{AccountID: "A", Amount: usd(10), Currency: "USD"})
	require.ErrorIs(t, err, models.ErrAccountInactive)

	_, _, err = f.orchestrator.Deposit(ctx, DepositRequest{AccountID: "EUR", Amount: usd(10), Currency: "USD"})
	require.ErrorIs(t, err, models.ErrCurrencyMismatch)
}

func TestIdempotentReplayReturnsOriginal(t *testing.T) {
	f := newFixture(t)
	f.seed("A", 0)
	ctx := context.Background()

	first, _, err := f.orchestrator.Deposit(ctx, DepositRequest{
		AccountID: "A", Amount: usd(100), Currency: "USD", IdempotencyKey: "dep-1",
	})
	require.NoError(t, err)

	second, replayed, err := f.orchestrator.Deposit(ctx, DepositRequest{
		AccountID: "A", Amount: usd(100), Currency: "USD", IdempotencyKey: "dep-1",
	})
	require.NoError(t, err)

	assert.True(t, replayed, "second request must be reported as a replay")
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, f.balance(t, "A").Equal(usd(100)), "replay must not apply a second balance effect")
}

func TestConcurrentSameKeyAppliesOnce(t *testing.T) {
	f := newFixture(t)
	f.seed("A", 0)

	const attempts = 8
	var wg sync.WaitGroup
	ids := make(chan string, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, _, err := f.orchestrator.Deposit(context.Background(), DepositRequest{
				AccountID: "A", Amount: usd(100), Currency: "USD", IdempotencyKey: "race-key",
			})
			if err == nil {
				ids <- tx.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1, "all callers must observe the same transaction")
	assert.True(t, f.balance(t, "A").Equal(usd(100)), "exactly one balance effect")
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	f.seed("A", 55)

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _, err := f.orchestrator.Withdraw(context.Background(), WithdrawRequest{
				AccountID: "A", Amount: usd(10), Currency: "USD",
				IdempotencyKey: fmt.Sprintf("wd-%d", n),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var succeeded, insufficient int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, models.ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 5, insufficient)
	final := f.balance(t, "A")
	assert.True(t, final.Equal(usd(5)), "expected final balance 5, got %s", final)
	assert.False(t, final.IsNegative())
}

func TestTransferCompensatesFailedCredit(t *testing.T) {
	f := newFixture(t)
	f.seed("A", 60)
	f.seed("B", 0)

	// The destination is blocked between the debit and the credit.
	f.client.afterUpdate = func(accountID string) {
		if accountID == "A" {
			f.accounts.SetStatus("B", models.AccountBlocked)
		}
	}

	tx, _, err := f.orchestrator.Transfer(context.Background(), TransferRequest{
		FromAccountID: "A", ToAccountID: "B", Amount: usd(50), Currency: "USD", IdempotencyKey: "tr-comp",
	})
	require.ErrorIs(t, err, models.ErrAccountInactive)
	assert.Equal(t, models.StatusFailed, tx.Status)
	assert.Equal(t, models.ReasonCompensated, tx.FailureReason)

	// Both legs are unwound: debited then credited back.
	assert.True(t, f.balance(t, "A").Equal(usd(60)))
	assert.True(t, f.balance(t, "B").Equal(usd(0)))

	recorded, err := f.store.GetByIdempotencyKey(context.Background(), "tr-comp")
	require.NoError(t, err)
	assert.Equal(t, models.ReasonCompensated, recorded.FailureReason)
}

func TestTransferReconciliationWhenCompensationFails(t *testing.T) {
	f := newFixture(t)
	f.seed("A", 60)
	f.seed("B", 0)

	// After the debit lands, both accounts become blocked: the credit fails
	// and so does the compensating credit back to the source.
	f.client.afterUpdate = func(accountID string) {
		if accountID == "A" {
			f.accounts.SetStatus("A", models.AccountBlocked)
			f.accounts.SetStatus("B", models.AccountBlocked)
		}
	}

	tx, _, err := f.orchestrator.Transfer(context.Background(), TransferRequest{
		FromAccountID: "A", ToAccountID: "B", Amount: usd(50), Currency: "USD", IdempotencyKey: "tr-recon",
	})
	require.ErrorIs(t, err, models.ErrReconciliationRequired)
	assert.Equal(t, models.StatusFailed, tx.Status)
	assert.Equal(t, models.ReasonReconciliation, tx.FailureReason)
	assert.True(t, tx.RequiresReconciliation())

	alerts := f.publisher.byTopic(events.TopicReconciliation)
	require.Len(t, alerts, 1, "reconciliation must reach the alerting path")
	alert := alerts[0].(events.ReconciliationRequired)
	assert.Equal(t, tx.ID, alert.TransactionID)
	assert.Equal(t, "A", alert.DebitedAccount)
}

// obscuredClient applies the conditional update for armed accounts, lets a
// rival writer bump the version right after, and reports a transport
// failure, so a re-read cannot tell whether the update landed.
type obscuredClient struct {
	*memory.AccountService

	mu      sync.Mutex
	obscure map[string]bool
}

func (c *obscuredClient) ConditionalUpdateBalance(ctx context.Context, accountID string, expectedVersion int64, newBalance decimal.Decimal) (int64, error) {
	c.mu.Lock()
	armed := c.obscure[accountID]
	if armed {
		delete(c.obscure, accountID)
	}
	c.mu.Unlock()

	v, err := c.AccountService.ConditionalUpdateBalance(ctx, accountID, expectedVersion, newBalance)
	if err != nil || !armed {
		return v, err
	}
	if _, err := c.AccountService.ConditionalUpdateBalance(ctx, accountID, v, newBalance); err != nil {
		return 0, err
	}
	return 0, models.ErrAccountServiceUnavailable
}

func newObscuredFixture(t *testing.T, obscure ...string) *fixture {
	t.Helper()

	svc := memory.NewAccountService()
	armed := make(map[string]bool, len(obscure))
	for _, id := range obscure {
		armed[id] = true
	}
	client := &obscuredClient{AccountService: svc, obscure: armed}
	store := storagememory.NewLedgerStore()
	publisher := newRecordingPublisher()

	o := New(Config{
		Accounts:  client,
		Guard:     guard.New(client, guard.Config{MaxRetries: 3}),
		Store:     store,
		Publisher: publisher,
	})

	return &fixture{
		accounts:     svc,
		store:        store,
		publisher:    publisher,
		orchestrator: o,
	}
}

func TestWithdrawUnresolvedDebitRequiresReconciliation(t *testing.T) {
	f := newObscuredFixture(t, "A")
	f.seed("A", 100)
	ctx := context.Background()

	tx, _, err := f.orchestrator.Withdraw(ctx, WithdrawRequest{
		AccountID: "A", Amount: usd(40), Currency: "USD", IdempotencyKey: "wd-lost",
	})
	require.ErrorIs(t, err, models.ErrReconciliationRequired)
	assert.Equal(t, models.StatusFailed, tx.Status)
	assert.Equal(t, models.ReasonReconciliation, tx.FailureReason,
		"a maybe-applied debit must not be recorded as a plain failure")

	alerts := f.publisher.byTopic(events.TopicReconciliation)
	require.Len(t, alerts, 1)
	assert.Equal(t, tx.ID, alerts[0].(events.ReconciliationRequired).TransactionID)

	// A same-key retry replays the reconciliation record, never the debit.
	again, replayed, err := f.orchestrator.Withdraw(ctx, WithdrawRequest{
		AccountID: "A", Amount: usd(40), Currency: "USD", IdempotencyKey: "wd-lost",
	})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, tx.ID, again.ID)
	assert.True(t, again.RequiresReconciliation())
}

func TestTransferDoesNotCompensateUnresolvedCredit(t *testing.T) {
	f := newObscuredFixture(t, "B")
	f.seed("A", 60)
	f.seed("B", 0)

	tx, _, err := f.orchestrator.Transfer(context.Background(), TransferRequest{
		FromAccountID: "A", ToAccountID: "B", Amount: usd(50), Currency: "USD", IdempotencyKey: "tr-lost",
	})
	require.ErrorIs(t, err, models.ErrReconciliationRequired)
	assert.Equal(t, models.ReasonReconciliation, tx.FailureReason)

	// The credit may have landed, so the source must not be credited back.
	assert.True(t, f.balance(t, "A").Equal(usd(10)),
		"compensating an unknown credit could double the money")

	alerts := f.publisher.byTopic(events.TopicReconciliation)
	require.Len(t, alerts, 1)
	assert.Equal(t, "A", alerts[0].(events.ReconciliationRequired).DebitedAccount)
}

func TestGetTransactionAndListByAccount(t *testing.T) {
	f := newFixture(t)
	f.seed("A", 1000)
	ctx := context.Background()

	var last models.Transaction
	for i := 0; i < 3; i++ {
		tx, _, err := f.orchestrator.Withdraw(ctx, WithdrawRequest{AccountID: "A", Amount: usd(10), Currency: "USD"})
		require.NoError(t, err)
		last = tx
	}

	got, err := f.orchestrator.GetTransaction(ctx, last.ID)
	require.NoError(t, err)
	assert.Equal(t, last.ID, got.ID)

	_, err = f.orchestrator.GetTransaction(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrTransactionNotFound)

	list, err := f.orchestrator.ListByAccount(ctx, "A", 0, 2)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	rest, err := f.orchestrator.ListByAccount(ctx, "A", 1, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}
