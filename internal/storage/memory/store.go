package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/corebank/transaction-orchestrator/internal/interfaces"
	"github.com/corebank/transaction-orchestrator/internal/models"
)

// LedgerStore is an in-memory implementation of interfaces.LedgerStore. It
// is safe for concurrent use and enforces the same idempotency-key
// uniqueness the postgres store gets from its unique index.
type LedgerStore struct {
	mu           sync.Mutex
	transactions map[string]models.Transaction // by transaction ID
	byKey        map[string]string             // idempotency key -> transaction ID
	order        []string                      // append order of transaction IDs
}

// NewLedgerStore creates an empty in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		transactions: make(map[string]models.Transaction),
		byKey:        make(map[string]string),
	}
}

// Append stores a new transaction record. The idempotency key, when present,
// must be unseen; the loser of a concurrent append gets ErrDuplicateKey.
func (m *LedgerStore) Append(ctx context.Context, tx models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.IdempotencyKey != "" {
		if _, exists := m.byKey[tx.IdempotencyKey]; exists {
			return models.ErrDuplicateKey
		}
		m.byKey[tx.IdempotencyKey] = tx.ID
	}
	m.transactions[tx.ID] = tx
	m.order = append(m.order, tx.ID)
	return nil
}

// Finalize moves a PENDING record to its terminal status.
func (m *LedgerStore) Finalize(ctx context.Context, tx models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.transactions[tx.ID]
	if !ok {
		return models.ErrTransactionNotFound
	}
	if existing.Terminal() {
		// Terminal records never transition again.
		return nil
	}
	m.transactions[tx.ID] = tx
	return nil
}

// GetByID returns a transaction by its ID.
func (m *LedgerStore) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[id]
	if !ok {
		return models.Transaction{}, models.ErrTransactionNotFound
	}
	return tx, nil
}

// GetByIdempotencyKey returns the transaction recorded under the key.
func (m *LedgerStore) GetByIdempotencyKey(ctx context.Context, key string) (models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byKey[key]
	if !ok {
		return models.Transaction{}, models.ErrTransactionNotFound
	}
	return m.transactions[id], nil
}

// ListByAccount returns transactions touching the account, newest first,
// with offset pagination.
func (m *LedgerStore) ListByAccount(ctx context.Context, accountID string, page, size int) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []models.Transaction
	for _, id := range m.order {
		tx := m.transactions[id]
		if tx.FromAccount == accountID || tx.ToAccount == accountID {
			matched = append(matched, tx)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if page < 0 || size <= 0 {
		return []models.Transaction{}, nil
	}
	start := page * size
	if start < 0 || start >= len(matched) {
		// start < 0 means the offset computation overflowed.
		return []models.Transaction{}, nil
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]models.Transaction, end-start)
	copy(out, matched[start:end])
	return out, nil
}

var _ interfaces.LedgerStore = (*LedgerStore)(nil)
