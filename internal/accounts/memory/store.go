package memory

import (
	"context"
	"sync"

	"github.com/corebank/transaction-orchestrator/internal/interfaces"
	"github.com/corebank/transaction-orchestrator/internal/models"
	"github.com/shopspring/decimal"
)

// AccountService is an in-memory implementation of the account ledger's
// interface. It backs local runs and tests, and enforces the same version
// discipline the real service does: a balance write is accepted only when
// the caller's expected version matches the stored one.
type AccountService struct {
	mu       sync.Mutex
	accounts map[string]models.Account
}

// NewAccountService creates an empty in-memory account service.
func NewAccountService() *AccountService {
	return &AccountService{
		accounts: make(map[string]models.Account),
	}
}

// Seed inserts or replaces an account. Version starts at 1 when unset.
func (s *AccountService) Seed(account models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if account.Version == 0 {
		account.Version = 1
	}
	if account.Status == "" {
		account.Status = models.AccountActive
	}
	s.accounts[account.ID] = account
}

// SetStatus changes an account's status, for exercising inactive/blocked
// paths.
func (s *AccountService) SetStatus(accountID string, status models.AccountStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if account, ok := s.accounts[accountID]; ok {
		account.Status = status
		s.accounts[accountID] = account
	}
}

// Get returns the current account snapshot.
func (s *AccountService) Get(ctx context.Context, accountID string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return models.Account{}, models.ErrAccountNotFound
	}
	return account, nil
}

// ConditionalUpdateBalance applies newBalance only if the stored version
// still equals expectedVersion, incrementing the version on success.
func (s *AccountService) ConditionalUpdateBalance(ctx context.Context, accountID string, expectedVersion int64, newBalance decimal.Decimal) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return 0, models.ErrAccountNotFound
	}
	if account.Version != expectedVersion {
		return 0, models.ErrVersionConflict
	}
	if newBalance.IsNegative() {
		// The account ledger never stores a negative balance.
		return 0, models.ErrInsufficientFunds
	}

	account.Balance = newBalance
	account.Version++
	s.accounts[accountID] = account
	return account.Version, nil
}

var _ interfaces.AccountStateClient = (*AccountService)(nil)
