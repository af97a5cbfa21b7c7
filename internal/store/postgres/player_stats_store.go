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

// PlayerStatsStore implements domain.PlayerStatsStore using PostgreSQL.
type PlayerStatsStore struct {
	pool *pgxpool.Pool
}

// NewPlayerStatsStore creates a new PlayerStatsStore backed by the given pool.
func NewPlayerStatsStore(pool *pgxpool.Pool) *PlayerStatsStore {
	return &PlayerStatsStore{pool: pool}
}

// Get loads a player's aggregate record, returning a zero-valued record for a
// player that has never appeared.
func (s *PlayerStatsStore) Get(ctx context.Context, player string) (*domain.PlayerStats, error) {
	const query = `
		SELECT player, matches_played, matches_won, total_staked, total_winnings,
		       win_streak, best_win_streak, last_match_at, created_at, updated_at
		FROM player_stats WHERE player = $1`

	var (
		st             domain.PlayerStats
		staked, earned int64
	)
	err := s.pool.QueryRow(ctx, query, player).Scan(
		&st.Player, &st.MatchesPlayed, &st.MatchesWon, &staked, &earned,
		&st.WinStreak, &st.BestWinStreak, &st.LastMatchAt, &st.CreatedAt, &st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.PlayerStats{Player: player}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get stats for %s: %w", player, err)
	}
	st.TotalStaked = uint64(staked)
	st.TotalWinnings = uint64(earned)
	return &st, nil
}

// Upsert writes the full aggregate record.
func (s *PlayerStatsStore) Upsert(ctx context.Context, st *domain.PlayerStats) error {
	const query = `
		INSERT INTO player_stats (
			player, matches_played, matches_won, total_staked, total_winnings,
			win_streak, best_win_streak, last_match_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (player) DO UPDATE SET
			matches_played = EXCLUDED.matches_played,
			matches_won = EXCLUDED.matches_won,
			total_staked = EXCLUDED.total_staked,
			total_winnings = EXCLUDED.total_winnings,
			win_streak = EXCLUDED.win_streak,
			best_win_streak = EXCLUDED.best_win_streak,
			last_match_at = EXCLUDED.last_match_at,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query,
		st.Player, st.MatchesPlayed, st.MatchesWon,
		int64(st.TotalStaked), int64(st.TotalWinnings),
		st.WinStreak, st.BestWinStreak, st.LastMatchAt,
	); err != nil {
		return fmt.Errorf("postgres: upsert stats for %s: %w", st.Player, err)
	}
	return nil
}

// RecordJoin folds a match entry into the player's aggregates in one
// statement, creating the row on first sight.
func (s *PlayerStatsStore) RecordJoin(ctx context.Context, player string, stake uint64, now time.Time) error {
	const query = `
		INSERT INTO player_stats (player, matches_played, total_staked, last_match_at)
		VALUES ($1, 1, $2, $3)
		ON CONFLICT (player) DO UPDATE SET
			matches_played = player_stats.matches_played + 1,
			total_staked = player_stats.total_staked + EXCLUDED.total_staked,
			last_match_at = EXCLUDED.last_match_at,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, player, int64(stake), now); err != nil {
		return fmt.Errorf("postgres: record join for %s: %w", player, err)
	}
	return nil
}
