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

// ProposalStore implements domain.ProposalStore using PostgreSQL, with the
// same entity-plus-children transaction discipline as MatchStore.
type ProposalStore struct {
	pool *pgxpool.Pool
}

// NewProposalStore creates a new ProposalStore backed by the given pool.
func NewProposalStore(pool *pgxpool.Pool) *ProposalStore {
	return &ProposalStore{pool: pool}
}

// Create inserts a new proposal with its positions.
func (s *ProposalStore) Create(ctx context.Context, p *domain.Proposal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create proposal: %w", err)
	}
	defer tx.Rollback(ctx)

	const query = `
		INSERT INTO proposals (
			id, proposer, proposer_stake, market_name, market_description,
			feed_id, status, fee_bps, pool_pass, pool_fail, total_volume,
			refund, voting_ends_at, created_at, resolved_at, executed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16
		)`
	if _, err := tx.Exec(ctx, query,
		int64(p.ID), p.Proposer, int64(p.ProposerStake), p.MarketName, p.MarketDescription,
		p.FeedID, string(p.Status), int32(p.FeeBps),
		int64(p.Pool.Stake(domain.SideA)), int64(p.Pool.Stake(domain.SideB)), int64(p.TotalVolume),
		p.Refund, p.VotingEndsAt, p.CreatedAt, p.ResolvedAt, p.ExecutedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert proposal %d: %w", p.ID, err)
	}

	if err := upsertPositions(ctx, tx, p); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create proposal %d: %w", p.ID, err)
	}
	return nil
}

// Update rewrites the proposal row and upserts every position in one
// transaction.
func (s *ProposalStore) Update(ctx context.Context, p *domain.Proposal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin update proposal: %w", err)
	}
	defer tx.Rollback(ctx)

	const query = `
		UPDATE proposals SET
			status = $2, pool_pass = $3, pool_fail = $4, total_volume = $5,
			refund = $6, resolved_at = $7, executed_at = $8
		WHERE id = $1`
	tag, err := tx.Exec(ctx, query,
		int64(p.ID), string(p.Status),
		int64(p.Pool.Stake(domain.SideA)), int64(p.Pool.Stake(domain.SideB)),
		int64(p.TotalVolume), p.Refund, p.ResolvedAt, p.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update proposal %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	if err := upsertPositions(ctx, tx, p); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit update proposal %d: %w", p.ID, err)
	}
	return nil
}

func upsertPositions(ctx context.Context, tx pgx.Tx, p *domain.Proposal) error {
	const query = `
		INSERT INTO proposal_positions (
			proposal_id, voter, pass_stake, fail_stake, claimed,
			first_vote_at, last_vote_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (proposal_id, voter) DO UPDATE SET
			pass_stake = EXCLUDED.pass_stake,
			fail_stake = EXCLUDED.fail_stake,
			claimed = EXCLUDED.claimed,
			last_vote_at = EXCLUDED.last_vote_at`
	for _, pos := range p.Positions {
		if _, err := tx.Exec(ctx, query,
			int64(p.ID), pos.Voter, int64(pos.PassStake), int64(pos.FailStake),
			pos.Claimed, pos.FirstVoteAt, pos.LastVoteAt,
		); err != nil {
			return fmt.Errorf("postgres: upsert position %d/%s: %w", p.ID, pos.Voter, err)
		}
	}
	return nil
}

const proposalSelectCols = `id, proposer, proposer_stake, market_name,
	market_description, feed_id, status, fee_bps, pool_pass, pool_fail,
	total_volume, refund, voting_ends_at, created_at, resolved_at, executed_at`

// Get loads a proposal with all its positions.
func (s *ProposalStore) Get(ctx context.Context, id uint64) (*domain.Proposal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+proposalSelectCols+` FROM proposals WHERE id = $1`, int64(id))
	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get proposal %d: %w", id, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT voter, pass_stake, fail_stake, claimed, first_vote_at, last_vote_at
		FROM proposal_positions WHERE proposal_id = $1`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("postgres: get positions for proposal %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			pos        domain.ProposalPosition
			pass, fail int64
		)
		if err := rows.Scan(&pos.Voter, &pass, &fail, &pos.Claimed, &pos.FirstVoteAt, &pos.LastVoteAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position for proposal %d: %w", id, err)
		}
		pos.PassStake = uint64(pass)
		pos.FailStake = uint64(fail)
		p.Positions[pos.Voter] = &pos
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: positions rows for proposal %d: %w", id, err)
	}
	return p, nil
}

// List returns proposals in the given status, newest first, without positions.
func (s *ProposalStore) List(ctx context.Context, status domain.ProposalStatus, opts domain.ListOpts) ([]*domain.Proposal, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+proposalSelectCols+` FROM proposals WHERE status = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		string(status), limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list proposals: %w", err)
	}
	defer rows.Close()

	var out []*domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan proposal: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list proposals rows: %w", err)
	}
	return out, nil
}

// ListDue returns ids of voting proposals whose deadline has passed.
func (s *ProposalStore) ListDue(ctx context.Context, now time.Time, limit int) ([]uint64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM proposals
		WHERE status = 'voting' AND voting_ends_at <= $1
		ORDER BY voting_ends_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due proposals: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ListSettledBefore returns ids of proposals resolved before the cutoff.
func (s *ProposalStore) ListSettledBefore(ctx context.Context, cutoff time.Time, limit int) ([]uint64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM proposals
		WHERE resolved_at IS NOT NULL AND resolved_at < $1
		ORDER BY resolved_at LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled proposals: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanProposal(row pgx.Row) (*domain.Proposal, error) {
	var (
		p                      domain.Proposal
		id, stake, totalVolume int64
		poolPass, poolFail     int64
		feeBps                 int32
		status                 string
	)
	err := row.Scan(
		&id, &p.Proposer, &stake, &p.MarketName,
		&p.MarketDescription, &p.FeedID, &status, &feeBps, &poolPass, &poolFail,
		&totalVolume, &p.Refund, &p.VotingEndsAt, &p.CreatedAt, &p.ResolvedAt, &p.ExecutedAt,
	)
	if err != nil {
		return nil, err
	}

	p.ID = uint64(id)
	p.ProposerStake = uint64(stake)
	p.Status = domain.ProposalStatus(status)
	p.FeeBps = uint16(feeBps)
	p.TotalVolume = uint64(totalVolume)
	p.Pool = domain.Pool{Stakes: [2]uint64{uint64(poolPass), uint64(poolFail)}}
	p.Positions = make(map[string]*domain.ProposalPosition)
	return &p, nil
}
