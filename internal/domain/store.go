package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MatchStore persists matches together with their entries. Create and Update
// must be atomic: either the whole entity (row plus entries) is written, or
// nothing is.
type MatchStore interface {
	Create(ctx context.Context, m *Match) error
	Get(ctx context.Context, id uint64) (*Match, error)
	Update(ctx context.Context, m *Match) error
	List(ctx context.Context, status MatchStatus, opts ListOpts) ([]*Match, error)
	// ListDue returns ids of open matches whose resolution time has passed.
	ListDue(ctx context.Context, now time.Time, limit int) ([]uint64, error)
	// ListSettledBefore returns ids of completed or cancelled matches
	// resolved before the cutoff, for archival.
	ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]uint64, error)
}

// ProposalStore persists proposals together with their positions, with the
// same atomicity contract as MatchStore.
type ProposalStore interface {
	Create(ctx context.Context, p *Proposal) error
	Get(ctx context.Context, id uint64) (*Proposal, error)
	Update(ctx context.Context, p *Proposal) error
	List(ctx context.Context, status ProposalStatus, opts ListOpts) ([]*Proposal, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]uint64, error)
	ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]uint64, error)
}

// SequenceStore hands out monotonically increasing ids. Sequences are owned
// rows mutated under the store's single-writer discipline, never ambient
// globals.
type SequenceStore interface {
	Next(ctx context.Context, name string) (uint64, error)
}

// Sequence names.
const (
	SeqMatch    = "match"
	SeqProposal = "proposal"
)

// PlayerStatsStore persists per-player aggregates.
type PlayerStatsStore interface {
	Get(ctx context.Context, player string) (*PlayerStats, error)
	Upsert(ctx context.Context, stats *PlayerStats) error
	RecordJoin(ctx context.Context, player string, stake uint64, now time.Time) error
}

// AuditStore persists an append-only audit log of settlement operations.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// LockManager provides per-entity locking. Every lifecycle operation runs
// under its entity's lock so capacity checks, claim flags and status
// transitions are check-and-act atomic.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter provides distributed rate limiting for the public API surface.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// PriceCache caches oracle snapshots with a TTL bounded by the staleness
// limit, so a cached price can never outlive its validity.
type PriceCache interface {
	Set(ctx context.Context, snap PriceSnapshot) error
	Get(ctx context.Context, feedID string) (PriceSnapshot, error)
}

// Treasury moves value on behalf of the engine. The engine computes amounts;
// the treasury performs the external transfer.
type Treasury interface {
	Credit(ctx context.Context, address string, amount uint64) error
	Debit(ctx context.Context, address string, amount uint64) error
}
