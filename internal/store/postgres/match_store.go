package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fateprotocol/fate-engine/internal/domain"
)

// MatchStore implements domain.MatchStore using PostgreSQL. A match and its
// entries are always written in one transaction, so readers never observe an
// entity with half its entries.
type MatchStore struct {
	pool *pgxpool.Pool
}

// NewMatchStore creates a new MatchStore backed by the given connection pool.
func NewMatchStore(pool *pgxpool.Pool) *MatchStore {
	return &MatchStore{pool: pool}
}

// Create inserts a new match with its entries.
func (s *MatchStore) Create(ctx context.Context, m *domain.Match) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create match: %w", err)
	}
	defer tx.Rollback(ctx)

	const query = `
		INSERT INTO matches (
			id, feed_id, creator, match_type, status, entry_fee, max_players,
			fee_bps, starting_price, final_price, winning_prediction, refund,
			pool_higher, pool_lower, total_pot,
			prediction_deadline, resolution_time, created_at, resolved_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15,
			$16, $17, $18, $19
		)`
	if _, err := tx.Exec(ctx, query,
		int64(m.ID), m.FeedID, m.Creator, string(m.Type), string(m.Status),
		int64(m.EntryFee), m.MaxPlayers, int32(m.FeeBps), int64(m.StartingPrice),
		optInt64(m.FinalPrice), optPrediction(m.WinningPrediction), m.Refund,
		int64(m.Pool.Stake(domain.SideA)), int64(m.Pool.Stake(domain.SideB)), int64(m.TotalPot),
		m.PredictionDeadline, m.ResolutionTime, m.CreatedAt, m.ResolvedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert match %d: %w", m.ID, err)
	}

	if err := upsertEntries(ctx, tx, m); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create match %d: %w", m.ID, err)
	}
	return nil
}

// Update rewrites the match row and upserts every entry in one transaction.
func (s *MatchStore) Update(ctx context.Context, m *domain.Match) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin update match: %w", err)
	}
	defer tx.Rollback(ctx)

	const query = `
		UPDATE matches SET
			status = $2, final_price = $3, winning_prediction = $4, refund = $5,
			pool_higher = $6, pool_lower = $7, total_pot = $8, resolved_at = $9
		WHERE id = $1`
	tag, err := tx.Exec(ctx, query,
		int64(m.ID), string(m.Status), optInt64(m.FinalPrice),
		optPrediction(m.WinningPrediction), m.Refund,
		int64(m.Pool.Stake(domain.SideA)), int64(m.Pool.Stake(domain.SideB)),
		int64(m.TotalPot), m.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update match %d: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	if err := upsertEntries(ctx, tx, m); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit update match %d: %w", m.ID, err)
	}
	return nil
}

func upsertEntries(ctx context.Context, tx pgx.Tx, m *domain.Match) error {
	const query = `
		INSERT INTO match_entries (
			match_id, player, prediction, stake, claimed, joined_at, predicted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (match_id, player) DO UPDATE SET
			prediction = EXCLUDED.prediction,
			claimed = EXCLUDED.claimed,
			predicted_at = EXCLUDED.predicted_at`
	for _, e := range m.Entries {
		if _, err := tx.Exec(ctx, query,
			int64(m.ID), e.Player, string(e.Prediction), int64(e.Stake),
			e.Claimed, e.JoinedAt, e.PredictedAt,
		); err != nil {
			return fmt.Errorf("postgres: upsert entry %d/%s: %w", m.ID, e.Player, err)
		}
	}
	return nil
}

const matchSelectCols = `id, feed_id, creator, match_type, status, entry_fee,
	max_players, fee_bps, starting_price, final_price, winning_prediction,
	refund, pool_higher, pool_lower, total_pot,
	prediction_deadline, resolution_time, created_at, resolved_at`

// Get loads a match with all its entries.
func (s *MatchStore) Get(ctx context.Context, id uint64) (*domain.Match, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+matchSelectCols+` FROM matches WHERE id = $1`, int64(id))
	m, err := scanMatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get match %d: %w", id, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT player, prediction, stake, claimed, joined_at, predicted_at
		FROM match_entries WHERE match_id = $1`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("postgres: get entries for match %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e          domain.MatchEntry
			prediction string
			stake      int64
		)
		if err := rows.Scan(&e.Player, &prediction, &stake, &e.Claimed, &e.JoinedAt, &e.PredictedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan entry for match %d: %w", id, err)
		}
		e.Prediction = domain.Prediction(prediction)
		e.Stake = uint64(stake)
		m.Entries[e.Player] = &e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: entries rows for match %d: %w", id, err)
	}
	return m, nil
}

// List returns matches in the given status, newest first, without entries.
func (s *MatchStore) List(ctx context.Context, status domain.MatchStatus, opts domain.ListOpts) ([]*domain.Match, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+matchSelectCols+` FROM matches WHERE status = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		string(status), limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list matches: %w", err)
	}
	defer rows.Close()

	var out []*domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list matches rows: %w", err)
	}
	return out, nil
}

// ListDue returns ids of open matches whose resolution time has passed.
func (s *MatchStore) ListDue(ctx context.Context, now time.Time, limit int) ([]uint64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM matches
		WHERE status = 'open' AND resolution_time <= $1
		ORDER BY resolution_time LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due matches: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ListSettledBefore returns ids of completed or cancelled matches resolved
// before the cutoff.
func (s *MatchStore) ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]uint64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM matches
		WHERE status IN ('completed', 'cancelled') AND resolved_at < $1
		ORDER BY resolved_at LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled matches: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanMatch(row pgx.Row) (*domain.Match, error) {
	var (
		m                       domain.Match
		id, entryFee            int64
		startingPrice, totalPot int64
		poolHigher, poolLower   int64
		feeBps                  int32
		matchType, status       string
		finalPrice              *int64
		winning                 *string
	)
	err := row.Scan(
		&id, &m.FeedID, &m.Creator, &matchType, &status, &entryFee,
		&m.MaxPlayers, &feeBps, &startingPrice, &finalPrice, &winning,
		&m.Refund, &poolHigher, &poolLower, &totalPot,
		&m.PredictionDeadline, &m.ResolutionTime, &m.CreatedAt, &m.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}

	m.ID = uint64(id)
	m.Type = domain.MatchType(matchType)
	m.Status = domain.MatchStatus(status)
	m.EntryFee = uint64(entryFee)
	m.FeeBps = uint16(feeBps)
	m.StartingPrice = uint64(startingPrice)
	m.TotalPot = uint64(totalPot)
	m.Pool = domain.Pool{Stakes: [2]uint64{uint64(poolHigher), uint64(poolLower)}}
	m.Entries = make(map[string]*domain.MatchEntry)
	if finalPrice != nil {
		fp := uint64(*finalPrice)
		m.FinalPrice = &fp
	}
	if winning != nil {
		w := domain.Prediction(*winning)
		m.WinningPrediction = &w
	}
	return &m, nil
}

func scanIDs(rows pgx.Rows) ([]uint64, error) {
	var out []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan id: %w", err)
		}
		out = append(out, uint64(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: id rows: %w", err)
	}
	return out, nil
}

func optInt64(v *uint64) *int64 {
	if v == nil {
		return nil
	}
	out := int64(*v)
	return &out
}

func optPrediction(p *domain.Prediction) *string {
	if p == nil {
		return nil
	}
	out := string(*p)
	return &out
}
