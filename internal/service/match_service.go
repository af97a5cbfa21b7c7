package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fateprotocol/fate-engine/internal/domain"
)

// MatchConfig holds the tunable parameters for match creation and settlement.
type MatchConfig struct {
	FeeBps              uint16
	MinEntryFee         uint64
	MaxEntryFee         uint64
	MinPlayers          int
	MaxPlayers          int
	MinPredictionWindow time.Duration
	MaxMatchDuration    time.Duration
	TreasuryAddress     string
	LockTTL             time.Duration
}

// MatchService drives the match lifecycle. Every mutation runs under the
// match's distributed lock, loads the entity, applies the state machine,
// persists the whole entity back, and only then emits events.
type MatchService struct {
	matches  domain.MatchStore
	seq      domain.SequenceStore
	locks    domain.LockManager
	oracle   domain.OracleResolver
	stats    domain.PlayerStatsStore
	treasury domain.Treasury
	bus      domain.EventBus
	audit    domain.AuditStore
	cfg      MatchConfig
	logger   *slog.Logger
}

// NewMatchService creates a MatchService with all required dependencies.
func NewMatchService(
	matches domain.MatchStore,
	seq domain.SequenceStore,
	locks domain.LockManager,
	oracle domain.OracleResolver,
	stats domain.PlayerStatsStore,
	treasury domain.Treasury,
	bus domain.EventBus,
	audit domain.AuditStore,
	cfg MatchConfig,
	logger *slog.Logger,
) *MatchService {
	return &MatchService{
		matches:  matches,
		seq:      seq,
		locks:    locks,
		oracle:   oracle,
		stats:    stats,
		treasury: treasury,
		bus:      bus,
		audit:    audit,
		cfg:      cfg,
		logger:   logger,
	}
}

// CreateRequest are the caller-supplied inputs for a new match.
type CreateRequest struct {
	Creator          string
	FeedID           string
	Type             domain.MatchType
	EntryFee         uint64
	MaxPlayers       int
	PredictionWindow time.Duration
	MatchDuration    time.Duration
}

// CreateMatch validates the request against the configured bounds, snapshots
// the starting price from the oracle, collects the creator's entry fee, and
// persists the new match with the creator auto-joined.
func (s *MatchService) CreateMatch(ctx context.Context, req CreateRequest) (*domain.Match, error) {
	if req.EntryFee < s.cfg.MinEntryFee || req.EntryFee > s.cfg.MaxEntryFee {
		return nil, fmt.Errorf("match_service: entry fee %d outside [%d, %d]: %w",
			req.EntryFee, s.cfg.MinEntryFee, s.cfg.MaxEntryFee, domain.ErrInvalidAmount)
	}
	if req.MaxPlayers < s.cfg.MinPlayers || req.MaxPlayers > s.cfg.MaxPlayers {
		return nil, fmt.Errorf("match_service: max players %d outside [%d, %d]: %w",
			req.MaxPlayers, s.cfg.MinPlayers, s.cfg.MaxPlayers, domain.ErrValidation)
	}
	if req.PredictionWindow < s.cfg.MinPredictionWindow {
		return nil, fmt.Errorf("match_service: prediction window below %s: %w",
			s.cfg.MinPredictionWindow, domain.ErrValidation)
	}
	if req.MatchDuration > s.cfg.MaxMatchDuration {
		return nil, fmt.Errorf("match_service: match duration above %s: %w",
			s.cfg.MaxMatchDuration, domain.ErrValidation)
	}

	snap, err := s.oracle.GetPrice(ctx, req.FeedID)
	if err != nil {
		return nil, fmt.Errorf("match_service: starting price for %q: %w", req.FeedID, err)
	}

	id, err := s.seq.Next(ctx, domain.SeqMatch)
	if err != nil {
		return nil, fmt.Errorf("match_service: next match id: %w", err)
	}

	now := time.Now().UTC()
	m, err := domain.NewMatch(id, domain.MatchParams{
		Creator:          req.Creator,
		FeedID:           req.FeedID,
		Type:             req.Type,
		EntryFee:         req.EntryFee,
		MaxPlayers:       req.MaxPlayers,
		PredictionWindow: req.PredictionWindow,
		MatchDuration:    req.MatchDuration,
		StartingPrice:    snap.Price,
		FeeBps:           s.cfg.FeeBps,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("match_service: create match: %w", err)
	}

	if err := s.treasury.Debit(ctx, req.Creator, req.EntryFee); err != nil {
		return nil, fmt.Errorf("match_service: collect entry fee: %w", err)
	}
	if err := s.matches.Create(ctx, m); err != nil {
		s.refund(ctx, req.Creator, req.EntryFee)
		return nil, fmt.Errorf("match_service: persist match %d: %w", id, err)
	}

	if err := s.stats.RecordJoin(ctx, req.Creator, req.EntryFee, now); err != nil {
		s.logger.WarnContext(ctx, "match_service: record join failed",
			slog.Uint64("match_id", id),
			slog.String("error", err.Error()),
		)
	}
	s.emit(ctx, domain.Event{
		Type:     domain.EventMatchCreated,
		EntityID: id,
		Actor:    req.Creator,
		Detail: map[string]any{
			"feed_id":        req.FeedID,
			"type":           string(req.Type),
			"entry_fee":      req.EntryFee,
			"starting_price": snap.Price,
		},
		At: now,
	})

	s.logger.InfoContext(ctx, "match_service: match created",
		slog.Uint64("match_id", id),
		slog.String("creator", req.Creator),
		slog.String("feed_id", req.FeedID),
		slog.Uint64("entry_fee", req.EntryFee),
	)
	return m, nil
}

// JoinMatch adds a player to an open match and collects their entry fee.
func (s *MatchService) JoinMatch(ctx context.Context, id uint64, player string) (*domain.Match, error) {
	unlock, err := s.locks.Acquire(ctx, matchLockKey(id), s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("match_service: lock match %d: %w", id, err)
	}
	defer unlock()

	m, err := s.matches.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("match_service: get match %d: %w", id, err)
	}

	now := time.Now().UTC()
	if err := m.Join(player, now); err != nil {
		return nil, fmt.Errorf("match_service: join match %d: %w", id, err)
	}
	if err := s.treasury.Debit(ctx, player, m.EntryFee); err != nil {
		return nil, fmt.Errorf("match_service: collect entry fee: %w", err)
	}
	if err := s.matches.Update(ctx, m); err != nil {
		s.refund(ctx, player, m.EntryFee)
		return nil, fmt.Errorf("match_service: persist join %d: %w", id, err)
	}

	if err := s.stats.RecordJoin(ctx, player, m.EntryFee, now); err != nil {
		s.logger.WarnContext(ctx, "match_service: record join failed",
			slog.Uint64("match_id", id),
			slog.String("error", err.Error()),
		)
	}
	s.emit(ctx, domain.Event{
		Type:     domain.EventMatchJoined,
		EntityID: id,
		Actor:    player,
		Detail:   map[string]any{"players": len(m.Entries)},
		At:       now,
	})
	return m, nil
}

// SubmitPrediction locks a player's side before the prediction deadline.
func (s *MatchService) SubmitPrediction(ctx context.Context, id uint64, player string, pred domain.Prediction) (*domain.Match, error) {
	unlock, err := s.locks.Acquire(ctx, matchLockKey(id), s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("match_service: lock match %d: %w", id, err)
	}
	defer unlock()

	m, err := s.matches.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("match_service: get match %d: %w", id, err)
	}

	now := time.Now().UTC()
	if err := m.SubmitPrediction(player, pred, now); err != nil {
		return nil, fmt.Errorf("match_service: predict on match %d: %w", id, err)
	}
	if err := s.matches.Update(ctx, m); err != nil {
		return nil, fmt.Errorf("match_service: persist prediction %d: %w", id, err)
	}

	s.emit(ctx, domain.Event{
		Type:     domain.EventPredictionLocked,
		EntityID: id,
		Actor:    player,
		Detail: map[string]any{
			"prediction":   string(pred),
			"price_higher": m.Pool.Price(domain.SideA),
			"price_lower":  m.Pool.Price(domain.SideB),
		},
		At: now,
	})
	return m, nil
}

// ResolveMatch settles a match against a fresh oracle snapshot. Anyone may
// call it once the resolution time has passed; the per-match lock plus the
// Open-only guard make concurrent calls settle exactly once. The protocol fee
// is credited to the treasury at resolution, before any claim.
func (s *MatchService) ResolveMatch(ctx context.Context, id uint64) (*domain.Match, error) {
	unlock, err := s.locks.Acquire(ctx, matchLockKey(id), s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("match_service: lock match %d: %w", id, err)
	}
	defer unlock()

	m, err := s.matches.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("match_service: get match %d: %w", id, err)
	}

	// Settle-state and timing guards come before the oracle call, so a
	// redundant or premature resolve never burns a fetch and always surfaces
	// the lifecycle error rather than an oracle one.
	now := time.Now().UTC()
	if m.Status != domain.MatchStatusOpen {
		return nil, fmt.Errorf("match_service: resolve match %d: %w", id, domain.ErrInvalidState)
	}
	if now.Before(m.ResolutionTime) {
		return nil, fmt.Errorf("match_service: resolve match %d: %w", id, domain.ErrResolutionNotReady)
	}

	snap, err := s.oracle.GetPrice(ctx, m.FeedID)
	if err != nil {
		return nil, fmt.Errorf("match_service: final price for %q: %w", m.FeedID, err)
	}

	if err := m.Resolve(snap.Price, now); err != nil {
		return nil, fmt.Errorf("match_service: resolve match %d: %w", id, err)
	}
	if err := s.matches.Update(ctx, m); err != nil {
		return nil, fmt.Errorf("match_service: persist resolution %d: %w", id, err)
	}

	if !m.Refund {
		if fee, feeErr := domain.Fee(m.LosingPool(), m.FeeBps); feeErr == nil && fee > 0 {
			if err := s.treasury.Credit(ctx, s.cfg.TreasuryAddress, fee); err != nil {
				s.logger.ErrorContext(ctx, "match_service: treasury fee credit failed",
					slog.Uint64("match_id", id),
					slog.Uint64("fee", fee),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	s.logAudit(ctx, "match_resolved", map[string]any{
		"match_id":    id,
		"final_price": snap.Price,
		"refund":      m.Refund,
	})
	s.emit(ctx, domain.Event{
		Type:     domain.EventMatchResolved,
		EntityID: id,
		Detail: map[string]any{
			"starting_price": m.StartingPrice,
			"final_price":    snap.Price,
			"winning":        winningLabel(m),
			"refund":         m.Refund,
		},
		At: now,
	})

	s.logger.InfoContext(ctx, "match_service: match resolved",
		slog.Uint64("match_id", id),
		slog.Uint64("final_price", snap.Price),
		slog.String("winning", winningLabel(m)),
	)
	return m, nil
}

// ClaimWinnings pays out a player's settled entitlement exactly once. The
// claimed flag is persisted before the transfer, so a crash between the two
// can never double-pay; a failed transfer is surfaced for retry by support.
func (s *MatchService) ClaimWinnings(ctx context.Context, id uint64, player string) (uint64, error) {
	unlock, err := s.locks.Acquire(ctx, matchLockKey(id), s.cfg.LockTTL)
	if err != nil {
		return 0, fmt.Errorf("match_service: lock match %d: %w", id, err)
	}
	defer unlock()

	m, err := s.matches.Get(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("match_service: get match %d: %w", id, err)
	}

	payout, err := m.Claim(player)
	if err != nil {
		return 0, fmt.Errorf("match_service: claim on match %d: %w", id, err)
	}
	if err := s.matches.Update(ctx, m); err != nil {
		return 0, fmt.Errorf("match_service: persist claim %d: %w", id, err)
	}
	if err := s.treasury.Credit(ctx, player, payout); err != nil {
		s.logger.ErrorContext(ctx, "match_service: payout transfer failed",
			slog.Uint64("match_id", id),
			slog.String("player", player),
			slog.Uint64("payout", payout),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("match_service: pay out claim %d: %w", id, err)
	}

	s.recordOutcome(ctx, m, player, payout)
	s.logAudit(ctx, "winnings_claimed", map[string]any{
		"match_id": id,
		"player":   player,
		"payout":   payout,
	})
	s.emit(ctx, domain.Event{
		Type:     domain.EventWinningsClaimed,
		EntityID: id,
		Actor:    player,
		Detail:   map[string]any{"payout": payout},
		At:       time.Now().UTC(),
	})
	return payout, nil
}

// CancelMatch cancels an open match; only the creator may do so. Entry fees
// become refundable through ClaimWinnings.
func (s *MatchService) CancelMatch(ctx context.Context, id uint64, by string) (*domain.Match, error) {
	unlock, err := s.locks.Acquire(ctx, matchLockKey(id), s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("match_service: lock match %d: %w", id, err)
	}
	defer unlock()

	m, err := s.matches.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("match_service: get match %d: %w", id, err)
	}

	now := time.Now().UTC()
	if err := m.Cancel(by, now); err != nil {
		return nil, fmt.Errorf("match_service: cancel match %d: %w", id, err)
	}
	if err := s.matches.Update(ctx, m); err != nil {
		return nil, fmt.Errorf("match_service: persist cancel %d: %w", id, err)
	}

	s.logAudit(ctx, "match_cancelled", map[string]any{"match_id": id, "by": by})
	s.emit(ctx, domain.Event{
		Type:     domain.EventMatchCancelled,
		EntityID: id,
		Actor:    by,
		At:       now,
	})
	return m, nil
}

// GetMatch returns a match by id.
func (s *MatchService) GetMatch(ctx context.Context, id uint64) (*domain.Match, error) {
	m, err := s.matches.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("match_service: get match %d: %w", id, err)
	}
	return m, nil
}

// ListMatches returns matches in the given status.
func (s *MatchService) ListMatches(ctx context.Context, status domain.MatchStatus, opts domain.ListOpts) ([]*domain.Match, error) {
	ms, err := s.matches.List(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("match_service: list matches: %w", err)
	}
	return ms, nil
}

// recordOutcome folds a settled claim into the player's aggregate stats.
// Refund claims (cancellation or refund-mode settlement) are no contest and
// leave the stats alone.
func (s *MatchService) recordOutcome(ctx context.Context, m *domain.Match, player string, payout uint64) {
	if m.Status == domain.MatchStatusCancelled || m.Refund {
		return
	}
	stats, err := s.stats.Get(ctx, player)
	if err != nil {
		s.logger.WarnContext(ctx, "match_service: load stats failed",
			slog.String("player", player),
			slog.String("error", err.Error()),
		)
		return
	}
	now := time.Now().UTC()
	entry := m.Entries[player]
	won := m.WinningPrediction != nil && entry != nil && entry.Prediction == *m.WinningPrediction
	if won {
		stats.RecordWin(payout, now)
	} else {
		stats.RecordLoss(now)
	}
	if err := s.stats.Upsert(ctx, stats); err != nil {
		s.logger.WarnContext(ctx, "match_service: save stats failed",
			slog.String("player", player),
			slog.String("error", err.Error()),
		)
	}
}

// refund is the compensating transfer when a persist fails after a debit.
func (s *MatchService) refund(ctx context.Context, address string, amount uint64) {
	if err := s.treasury.Credit(ctx, address, amount); err != nil {
		s.logger.ErrorContext(ctx, "match_service: compensating refund failed",
			slog.String("address", address),
			slog.Uint64("amount", amount),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MatchService) emit(ctx context.Context, e domain.Event) {
	if err := s.bus.Publish(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "match_service: publish event failed",
			slog.String("event", e.Type),
			slog.Uint64("entity_id", e.EntityID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MatchService) logAudit(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "match_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func matchLockKey(id uint64) string {
	return fmt.Sprintf("lock:match:%d", id)
}

func winningLabel(m *domain.Match) string {
	if m.WinningPrediction == nil {
		return "refund"
	}
	return string(*m.WinningPrediction)
}
