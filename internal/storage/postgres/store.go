package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/corebank/transaction-orchestrator/internal/interfaces"
	"github.com/corebank/transaction-orchestrator/internal/models"
	"github.com/lib/pq"
)

// LedgerStore is the postgres-backed transaction ledger. The transactions
// table carries a partial unique index on idempotency_key, which is what
// makes concurrent appends under the same key resolve to a single record.
type LedgerStore struct {
	db *sql.DB
}

// NewLedgerStore creates a postgres ledger store over an open connection.
func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

const uniqueViolation = "23505"

func (p *LedgerStore) Append(ctx context.Context, tx models.Transaction) error {
	const query = `INSERT INTO transactions
		(id, idempotency_key, from_account, to_account, amount, currency, type, status, failure_reason, description, created_at, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := p.db.ExecContext(ctx, query,
		tx.ID, nullable(tx.IdempotencyKey), nullable(tx.FromAccount), nullable(tx.ToAccount),
		tx.Amount, tx.Currency, tx.Type, tx.Status, nullable(tx.FailureReason),
		nullable(tx.Description), tx.CreatedAt, tx.SettledAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return models.ErrDuplicateKey
	}
	return err
}

func (p *LedgerStore) Finalize(ctx context.Context, tx models.Transaction) error {
	// Terminal statuses are immutable; the WHERE clause refuses to touch them.
	const query = `UPDATE transactions
		SET status = $2, failure_reason = $3, settled_at = $4
		WHERE id = $1 AND status = $5`

	res, err := p.db.ExecContext(ctx, query,
		tx.ID, tx.Status, nullable(tx.FailureReason), tx.SettledAt, models.StatusPending,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, getErr := p.GetByID(ctx, tx.ID); getErr != nil {
			return getErr
		}
		// Already terminal; nothing to do.
		return nil
	}
	return nil
}

const selectColumns = `id, idempotency_key, from_account, to_account, amount, currency, type, status, failure_reason, description, created_at, settled_at`

func (p *LedgerStore) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE id = $1`, selectColumns)
	return p.scanOne(p.db.QueryRowContext(ctx, query, id))
}

func (p *LedgerStore) GetByIdempotencyKey(ctx context.Context, key string) (models.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE idempotency_key = $1`, selectColumns)
	return p.scanOne(p.db.QueryRowContext(ctx, query, key))
}

func (p *LedgerStore) ListByAccount(ctx context.Context, accountID string, page, size int) ([]models.Transaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM transactions
		WHERE from_account = $1 OR to_account = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, selectColumns)

	if page < 0 || size <= 0 {
		return []models.Transaction{}, nil
	}
	offset := page * size
	if offset < 0 {
		// Overflowed offset computation; nothing lives that deep anyway.
		return []models.Transaction{}, nil
	}

	rows, err := p.db.QueryContext(ctx, query, accountID, size, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		tx, err := scan(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transactions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *LedgerStore) scanOne(row *sql.Row) (models.Transaction, error) {
	tx, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, models.ErrTransactionNotFound
	}
	return tx, err
}

func scan(row rowScanner) (models.Transaction, error) {
	var (
		tx                                            models.Transaction
		idempotencyKey, from, to, reason, description sql.NullString
		settledAt                                     sql.NullTime
	)
	err := row.Scan(
		&tx.ID, &idempotencyKey, &from, &to, &tx.Amount, &tx.Currency,
		&tx.Type, &tx.Status, &reason, &description, &tx.CreatedAt, &settledAt,
	)
	if err != nil {
		return models.Transaction{}, err
	}

	tx.IdempotencyKey = idempotencyKey.String
	tx.FromAccount = from.String
	tx.ToAccount = to.String
	tx.FailureReason = reason.String
	tx.Description = description.String
	if settledAt.Valid {
		tx.SettledAt = &settledAt.Time
	}
	return tx, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ interfaces.LedgerStore = (*LedgerStore)(nil)
