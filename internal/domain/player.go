package domain

import "time"

// PlayerStats is the per-player aggregate record, updated on join and claim.
type PlayerStats struct {
	Player        string
	MatchesPlayed int64
	MatchesWon    int64
	TotalStaked   uint64
	TotalWinnings uint64
	WinStreak     int64
	BestWinStreak int64
	LastMatchAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RecordWin folds a winning claim into the stats.
func (s *PlayerStats) RecordWin(payout uint64, now time.Time) {
	s.MatchesWon++
	s.TotalWinnings += payout
	s.WinStreak++
	if s.WinStreak > s.BestWinStreak {
		s.BestWinStreak = s.WinStreak
	}
	s.UpdatedAt = now
}

// RecordLoss resets the streak after a losing match.
func (s *PlayerStats) RecordLoss(now time.Time) {
	s.WinStreak = 0
	s.UpdatedAt = now
}
