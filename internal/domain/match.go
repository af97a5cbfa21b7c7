package domain

import (
	"fmt"
	"time"
)

// MatchStatus is the stored lifecycle state of a match. The in-progress phase
// between the prediction deadline and resolution is derived from time, not
// stored; see Match.Phase.
type MatchStatus string

const (
	MatchStatusOpen      MatchStatus = "open"
	MatchStatusCompleted MatchStatus = "completed"
	MatchStatusCancelled MatchStatus = "cancelled"
)

// MatchPhase is the externally visible phase, including the derived
// in-progress window.
type MatchPhase string

const (
	MatchPhaseOpen       MatchPhase = "open"
	MatchPhaseInProgress MatchPhase = "in_progress"
	MatchPhaseCompleted  MatchPhase = "completed"
	MatchPhaseCancelled  MatchPhase = "cancelled"
)

// MatchType is a presentation label on a match. Settlement never branches on
// it; the only rule attached is the battle-royale minimum player count at
// creation time.
type MatchType string

const (
	MatchTypeFlashDuel    MatchType = "flash_duel"
	MatchTypeBattleRoyale MatchType = "battle_royale"
	MatchTypeTournament   MatchType = "tournament"
)

// MinBattleRoyalePlayers is the creation-time floor for battle-royale matches.
const MinBattleRoyalePlayers = 4

// Valid reports whether t is a known match type.
func (t MatchType) Valid() bool {
	switch t {
	case MatchTypeFlashDuel, MatchTypeBattleRoyale, MatchTypeTournament:
		return true
	}
	return false
}

// Prediction is a player's call on the price direction.
type Prediction string

const (
	PredictionHigher Prediction = "higher"
	PredictionLower  Prediction = "lower"
)

// Valid reports whether p is a known prediction.
func (p Prediction) Valid() bool {
	return p == PredictionHigher || p == PredictionLower
}

// PoolSide maps a prediction onto its pool bucket.
func (p Prediction) PoolSide() Side {
	if p == PredictionHigher {
		return SideA
	}
	return SideB
}

// MatchEntry is one player's participation in a match. Created on join, never
// deleted. Prediction stays empty until the player locks a side. Claimed is
// the one-way idempotency flag for both payouts and refunds.
type MatchEntry struct {
	Player      string
	Prediction  Prediction // empty until locked
	Stake       uint64
	Claimed     bool
	JoinedAt    time.Time
	PredictedAt *time.Time
}

// MatchParams are the creation inputs for a match. Bounds checking against the
// configured limits happens in the service layer; NewMatch only enforces
// structural invariants.
type MatchParams struct {
	Creator          string
	FeedID           string
	Type             MatchType
	EntryFee         uint64
	MaxPlayers       int
	PredictionWindow time.Duration
	MatchDuration    time.Duration
	StartingPrice    uint64
	FeeBps           uint16
}

// Match is the pari-mutuel fixed-entry-fee state machine. All mutation goes
// through its methods; a method either fully applies or leaves the match
// untouched.
type Match struct {
	ID            uint64
	FeedID        string
	Creator       string
	Type          MatchType
	Status        MatchStatus
	EntryFee      uint64
	MaxPlayers    int
	FeeBps        uint16
	StartingPrice uint64
	FinalPrice    *uint64

	// WinningPrediction is nil until resolution, and stays nil when the
	// match settles in refund mode (price tie or empty winning pool).
	WinningPrediction *Prediction
	Refund            bool

	Pool     Pool
	Entries  map[string]*MatchEntry
	TotalPot uint64

	PredictionDeadline time.Time
	ResolutionTime     time.Time
	CreatedAt          time.Time
	ResolvedAt         *time.Time
}

// NewMatch builds an Open match with the creator auto-joined as the first
// entry. The creator's entry fee is collected into the pot immediately; their
// side stays unassigned until they submit a prediction.
func NewMatch(id uint64, p MatchParams, now time.Time) (*Match, error) {
	if p.Creator == "" {
		return nil, fmt.Errorf("creator must not be empty: %w", ErrValidation)
	}
	if !p.Type.Valid() {
		return nil, fmt.Errorf("unknown match type %q: %w", p.Type, ErrValidation)
	}
	if p.Type == MatchTypeBattleRoyale && p.MaxPlayers < MinBattleRoyalePlayers {
		return nil, fmt.Errorf("battle royale requires at least %d players: %w", MinBattleRoyalePlayers, ErrValidation)
	}
	if p.EntryFee == 0 {
		return nil, fmt.Errorf("entry fee must be positive: %w", ErrValidation)
	}
	if p.StartingPrice == 0 {
		return nil, fmt.Errorf("starting price must be positive: %w", ErrValidation)
	}
	if p.MatchDuration < p.PredictionWindow {
		return nil, fmt.Errorf("match duration shorter than prediction window: %w", ErrValidation)
	}

	m := &Match{
		ID:                 id,
		FeedID:             p.FeedID,
		Creator:            p.Creator,
		Type:               p.Type,
		Status:             MatchStatusOpen,
		EntryFee:           p.EntryFee,
		MaxPlayers:         p.MaxPlayers,
		FeeBps:             p.FeeBps,
		StartingPrice:      p.StartingPrice,
		Entries:            make(map[string]*MatchEntry),
		PredictionDeadline: now.Add(p.PredictionWindow),
		ResolutionTime:     now.Add(p.MatchDuration),
		CreatedAt:          now,
	}
	m.Entries[p.Creator] = &MatchEntry{
		Player:   p.Creator,
		Stake:    p.EntryFee,
		JoinedAt: now,
	}
	m.TotalPot = p.EntryFee
	return m, nil
}

// Phase returns the derived lifecycle phase at the given time.
func (m *Match) Phase(now time.Time) MatchPhase {
	switch m.Status {
	case MatchStatusCompleted:
		return MatchPhaseCompleted
	case MatchStatusCancelled:
		return MatchPhaseCancelled
	}
	if now.After(m.PredictionDeadline) {
		return MatchPhaseInProgress
	}
	return MatchPhaseOpen
}

// Join adds a player entry and collects the entry fee into the pot. The
// player's side stays unassigned until SubmitPrediction.
func (m *Match) Join(player string, now time.Time) error {
	if m.Status != MatchStatusOpen {
		return ErrInvalidState
	}
	if now.After(m.PredictionDeadline) {
		return ErrPredictionClosed
	}
	if len(m.Entries) >= m.MaxPlayers {
		return ErrMatchFull
	}
	if _, ok := m.Entries[player]; ok {
		return ErrAlreadyJoined
	}
	pot, ok := checkedAdd(m.TotalPot, m.EntryFee)
	if !ok {
		return ErrOverflow
	}
	m.Entries[player] = &MatchEntry{
		Player:   player,
		Stake:    m.EntryFee,
		JoinedAt: now,
	}
	m.TotalPot = pot
	return nil
}

// SubmitPrediction locks a player's side, once, before the deadline, and
// stakes their entry fee into the chosen pool bucket.
func (m *Match) SubmitPrediction(player string, pred Prediction, now time.Time) error {
	if m.Status != MatchStatusOpen {
		return ErrInvalidState
	}
	if !pred.Valid() {
		return fmt.Errorf("unknown prediction %q: %w", pred, ErrValidation)
	}
	entry, ok := m.Entries[player]
	if !ok {
		return ErrNotJoined
	}
	if entry.Prediction != "" {
		return ErrPredictionLocked
	}
	if now.After(m.PredictionDeadline) {
		return ErrPredictionClosed
	}
	if err := m.Pool.AddStake(pred.PoolSide(), entry.Stake); err != nil {
		return err
	}
	entry.Prediction = pred
	t := now
	entry.PredictedAt = &t
	return nil
}

// Resolve completes the match against the final oracle price. A strictly
// higher final price means Higher wins, strictly lower means Lower wins. On an
// exact tie, or when nobody staked the winning side, the match settles in
// refund mode: no winner, every entry refundable for its stake, zero fee.
func (m *Match) Resolve(finalPrice uint64, now time.Time) error {
	if m.Status != MatchStatusOpen {
		return ErrInvalidState
	}
	if now.Before(m.ResolutionTime) {
		return ErrResolutionNotReady
	}
	if finalPrice == 0 {
		return ErrPriceUnavailable
	}

	fp := finalPrice
	m.FinalPrice = &fp
	switch {
	case finalPrice > m.StartingPrice:
		m.setWinner(PredictionHigher)
	case finalPrice < m.StartingPrice:
		m.setWinner(PredictionLower)
	default:
		m.Refund = true
	}
	m.Status = MatchStatusCompleted
	t := now
	m.ResolvedAt = &t
	return nil
}

func (m *Match) setWinner(pred Prediction) {
	if m.Pool.Stake(pred.PoolSide()) == 0 {
		m.Refund = true
		return
	}
	p := pred
	m.WinningPrediction = &p
}

// Cancel transitions an Open match to Cancelled. Only the creator may cancel.
// Every entry becomes refundable for exactly the entry fee via Claim.
func (m *Match) Cancel(by string, now time.Time) error {
	if m.Status != MatchStatusOpen {
		return ErrInvalidState
	}
	if by != m.Creator {
		return ErrUnauthorized
	}
	m.Status = MatchStatusCancelled
	t := now
	m.ResolvedAt = &t
	return nil
}

// WinningPool returns the stake backing the winning side, or zero when the
// match settled in refund mode.
func (m *Match) WinningPool() uint64 {
	if m.WinningPrediction == nil {
		return 0
	}
	return m.Pool.Stake(m.WinningPrediction.PoolSide())
}

// LosingPool is everything in the pot that did not back the winning side,
// including stakes whose owners never locked a prediction.
func (m *Match) LosingPool() uint64 {
	return m.TotalPot - m.WinningPool()
}

// Claim computes a player's payout and flips their claimed flag. It is the
// linearization point for idempotency: a second call for the same entry fails
// with ErrAlreadyClaimed and pays nothing. On a cancelled or refund-settled
// match every entry is refunded its own stake with zero fee; otherwise only
// winning entries are paid their pari-mutuel share.
func (m *Match) Claim(player string) (uint64, error) {
	refund := m.Status == MatchStatusCancelled || (m.Status == MatchStatusCompleted && m.Refund)
	if m.Status != MatchStatusCompleted && !refund {
		return 0, ErrInvalidState
	}
	entry, ok := m.Entries[player]
	if !ok {
		return 0, ErrNotJoined
	}
	if entry.Claimed {
		return 0, ErrAlreadyClaimed
	}

	if refund {
		entry.Claimed = true
		return entry.Stake, nil
	}

	if entry.Prediction == "" || entry.Prediction != *m.WinningPrediction {
		return 0, ErrNoWinnings
	}
	payout, err := Payout(m.WinningPool(), m.LosingPool(), entry.Stake, m.FeeBps)
	if err != nil {
		return 0, err
	}
	entry.Claimed = true
	return payout, nil
}
