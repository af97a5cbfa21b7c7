package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fateprotocol/fate-engine/internal/domain"
)

// TreasuryStore implements domain.Treasury as a balance ledger table. Every
// transfer is also appended to the audit log table by the caller; the ledger
// only tracks balances.
type TreasuryStore struct {
	pool *pgxpool.Pool
}

// NewTreasuryStore creates a new TreasuryStore backed by the given pool.
func NewTreasuryStore(pool *pgxpool.Pool) *TreasuryStore {
	return &TreasuryStore{pool: pool}
}

// Credit adds amount to the address's balance, creating the row on first use.
func (s *TreasuryStore) Credit(ctx context.Context, address string, amount uint64) error {
	const query = `
		INSERT INTO treasury_balances (address, balance) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET
			balance = treasury_balances.balance + EXCLUDED.balance,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, address, int64(amount)); err != nil {
		return fmt.Errorf("postgres: credit %d to %s: %w", amount, address, err)
	}
	return nil
}

// Debit removes amount from the address's balance. It fails without touching
// the row when the balance would go negative.
func (s *TreasuryStore) Debit(ctx context.Context, address string, amount uint64) error {
	const query = `
		UPDATE treasury_balances
		SET balance = balance - $2, updated_at = NOW()
		WHERE address = $1 AND balance >= $2`

	tag, err := s.pool.Exec(ctx, query, address, int64(amount))
	if err != nil {
		return fmt.Errorf("postgres: debit %d from %s: %w", amount, address, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: insufficient balance for %s: %w", address, domain.ErrInvalidAmount)
	}
	return nil
}
