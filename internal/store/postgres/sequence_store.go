package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SequenceStore implements domain.SequenceStore on the counters table. Each
// sequence is a single row advanced with UPDATE .. RETURNING, so ids are
// monotonic and never reused even across concurrent callers.
type SequenceStore struct {
	pool *pgxpool.Pool
}

// NewSequenceStore creates a new SequenceStore backed by the given pool.
func NewSequenceStore(pool *pgxpool.Pool) *SequenceStore {
	return &SequenceStore{pool: pool}
}

// Next advances the named counter and returns its new value.
func (s *SequenceStore) Next(ctx context.Context, name string) (uint64, error) {
	const query = `
		INSERT INTO counters (name, value) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = counters.value + 1
		RETURNING value`

	var value int64
	if err := s.pool.QueryRow(ctx, query, name).Scan(&value); err != nil {
		return 0, fmt.Errorf("postgres: next %s id: %w", name, err)
	}
	return uint64(value), nil
}
