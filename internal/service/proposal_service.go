package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fateprotocol/fate-engine/internal/domain"
)

// ProposalConfig holds the tunable parameters for governance proposals.
type ProposalConfig struct {
	FeeBps           uint16
	ProposerBonusBps uint16
	MinProposerStake uint64
	MinVoteAmount    uint64
	MinVotingPeriod  time.Duration
	MaxVotingPeriod  time.Duration
	TreasuryAddress  string
	LockTTL          time.Duration
}

// MarketCreator materializes the market a passed proposal asked for. The
// engine records execution; creating the market is an external effect.
type MarketCreator interface {
	CreateMarket(ctx context.Context, name, description, feedID string) error
}

// ProposalService drives the futarchy proposal lifecycle with the same
// lock, load, mutate, persist, emit discipline as MatchService.
type ProposalService struct {
	proposals domain.ProposalStore
	seq       domain.SequenceStore
	locks     domain.LockManager
	treasury  domain.Treasury
	markets   MarketCreator
	bus       domain.EventBus
	audit     domain.AuditStore
	cfg       ProposalConfig
	logger    *slog.Logger
}

// NewProposalService creates a ProposalService with all required dependencies.
func NewProposalService(
	proposals domain.ProposalStore,
	seq domain.SequenceStore,
	locks domain.LockManager,
	treasury domain.Treasury,
	markets MarketCreator,
	bus domain.EventBus,
	audit domain.AuditStore,
	cfg ProposalConfig,
	logger *slog.Logger,
) *ProposalService {
	return &ProposalService{
		proposals: proposals,
		seq:       seq,
		locks:     locks,
		treasury:  treasury,
		markets:   markets,
		bus:       bus,
		audit:     audit,
		cfg:       cfg,
		logger:    logger,
	}
}

// ProposeRequest are the caller-supplied inputs for a new proposal.
type ProposeRequest struct {
	Proposer          string
	Stake             uint64
	MarketName        string
	MarketDescription string
	FeedID            string
	VotingPeriod      time.Duration
}

// CreateProposal validates the request, escrows the proposer's stake, and
// persists the proposal in the Voting state with empty pools.
func (s *ProposalService) CreateProposal(ctx context.Context, req ProposeRequest) (*domain.Proposal, error) {
	if req.Stake < s.cfg.MinProposerStake {
		return nil, fmt.Errorf("proposal_service: stake %d below minimum %d: %w",
			req.Stake, s.cfg.MinProposerStake, domain.ErrInvalidAmount)
	}
	if req.VotingPeriod < s.cfg.MinVotingPeriod || req.VotingPeriod > s.cfg.MaxVotingPeriod {
		return nil, fmt.Errorf("proposal_service: voting period %s outside [%s, %s]: %w",
			req.VotingPeriod, s.cfg.MinVotingPeriod, s.cfg.MaxVotingPeriod, domain.ErrValidation)
	}

	id, err := s.seq.Next(ctx, domain.SeqProposal)
	if err != nil {
		return nil, fmt.Errorf("proposal_service: next proposal id: %w", err)
	}

	now := time.Now().UTC()
	p, err := domain.NewProposal(id, domain.ProposalParams{
		Proposer:          req.Proposer,
		ProposerStake:     req.Stake,
		MarketName:        req.MarketName,
		MarketDescription: req.MarketDescription,
		FeedID:            req.FeedID,
		VotingPeriod:      req.VotingPeriod,
		FeeBps:            s.cfg.FeeBps,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("proposal_service: create proposal: %w", err)
	}

	if err := s.treasury.Debit(ctx, req.Proposer, req.Stake); err != nil {
		return nil, fmt.Errorf("proposal_service: escrow stake: %w", err)
	}
	if err := s.proposals.Create(ctx, p); err != nil {
		s.refund(ctx, req.Proposer, req.Stake)
		return nil, fmt.Errorf("proposal_service: persist proposal %d: %w", id, err)
	}

	s.emit(ctx, domain.Event{
		Type:     domain.EventProposalCreated,
		EntityID: id,
		Actor:    req.Proposer,
		Detail: map[string]any{
			"market_name":    req.MarketName,
			"voting_ends_at": p.VotingEndsAt,
		},
		At: now,
	})
	s.logger.InfoContext(ctx, "proposal_service: proposal created",
		slog.Uint64("proposal_id", id),
		slog.String("proposer", req.Proposer),
		slog.String("market_name", req.MarketName),
	)
	return p, nil
}

// Vote stakes an amount on an outcome of a live proposal.
func (s *ProposalService) Vote(ctx context.Context, id uint64, voter string, outcome domain.Outcome, amount uint64) (*domain.Proposal, error) {
	if amount < s.cfg.MinVoteAmount {
		return nil, fmt.Errorf("proposal_service: vote %d below minimum %d: %w",
			amount, s.cfg.MinVoteAmount, domain.ErrInvalidAmount)
	}

	unlock, err := s.locks.Acquire(ctx, proposalLockKey(id), s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("proposal_service: lock proposal %d: %w", id, err)
	}
	defer unlock()

	p, err := s.proposals.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("proposal_service: get proposal %d: %w", id, err)
	}

	now := time.Now().UTC()
	if err := p.Vote(voter, outcome, amount, now); err != nil {
		return nil, fmt.Errorf("proposal_service: vote on proposal %d: %w", id, err)
	}
	if err := s.treasury.Debit(ctx, voter, amount); err != nil {
		return nil, fmt.Errorf("proposal_service: collect vote stake: %w", err)
	}
	if err := s.proposals.Update(ctx, p); err != nil {
		s.refund(ctx, voter, amount)
		return nil, fmt.Errorf("proposal_service: persist vote %d: %w", id, err)
	}

	s.emit(ctx, domain.Event{
		Type:     domain.EventOutcomeVoted,
		EntityID: id,
		Actor:    voter,
		Detail: map[string]any{
			"outcome":    string(outcome),
			"amount":     amount,
			"price_pass": p.Pool.Price(domain.SideA),
			"price_fail": p.Pool.Price(domain.SideB),
		},
		At: now,
	})
	return p, nil
}

// ResolveProposal settles a proposal after its voting deadline. Anyone may
// call it; the per-proposal lock plus the Voting-only guard make concurrent
// calls settle exactly once.
func (s *ProposalService) ResolveProposal(ctx context.Context, id uint64) (*domain.Proposal, error) {
	unlock, err := s.locks.Acquire(ctx, proposalLockKey(id), s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("proposal_service: lock proposal %d: %w", id, err)
	}
	defer unlock()

	p, err := s.proposals.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("proposal_service: get proposal %d: %w", id, err)
	}

	now := time.Now().UTC()
	if err := p.Resolve(now); err != nil {
		return nil, fmt.Errorf("proposal_service: resolve proposal %d: %w", id, err)
	}
	if err := s.proposals.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("proposal_service: persist resolution %d: %w", id, err)
	}

	if !p.Refund {
		losing := p.Pool.Total() - p.Pool.Stake(winningSide(p))
		if fee, feeErr := domain.Fee(losing, p.FeeBps); feeErr == nil && fee > 0 {
			if err := s.treasury.Credit(ctx, s.cfg.TreasuryAddress, fee); err != nil {
				s.logger.ErrorContext(ctx, "proposal_service: treasury fee credit failed",
					slog.Uint64("proposal_id", id),
					slog.Uint64("fee", fee),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	s.logAudit(ctx, "proposal_resolved", map[string]any{
		"proposal_id": id,
		"status":      string(p.Status),
		"refund":      p.Refund,
	})
	s.emit(ctx, domain.Event{
		Type:     domain.EventProposalResolved,
		EntityID: id,
		Detail: map[string]any{
			"status":    string(p.Status),
			"pass_pool": p.Pool.Stake(domain.SideA),
			"fail_pool": p.Pool.Stake(domain.SideB),
			"refund":    p.Refund,
		},
		At: now,
	})
	s.logger.InfoContext(ctx, "proposal_service: proposal resolved",
		slog.Uint64("proposal_id", id),
		slog.String("status", string(p.Status)),
	)
	return p, nil
}

// ClaimTokens pays out a voter's settled entitlement exactly once, with the
// same persist-then-transfer ordering as match claims.
func (s *ProposalService) ClaimTokens(ctx context.Context, id uint64, voter string) (uint64, error) {
	unlock, err := s.locks.Acquire(ctx, proposalLockKey(id), s.cfg.LockTTL)
	if err != nil {
		return 0, fmt.Errorf("proposal_service: lock proposal %d: %w", id, err)
	}
	defer unlock()

	p, err := s.proposals.Get(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("proposal_service: get proposal %d: %w", id, err)
	}

	payout, err := p.Claim(voter)
	if err != nil {
		return 0, fmt.Errorf("proposal_service: claim on proposal %d: %w", id, err)
	}
	if err := s.proposals.Update(ctx, p); err != nil {
		return 0, fmt.Errorf("proposal_service: persist claim %d: %w", id, err)
	}
	if err := s.treasury.Credit(ctx, voter, payout); err != nil {
		s.logger.ErrorContext(ctx, "proposal_service: payout transfer failed",
			slog.Uint64("proposal_id", id),
			slog.String("voter", voter),
			slog.Uint64("payout", payout),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("proposal_service: pay out claim %d: %w", id, err)
	}

	s.logAudit(ctx, "tokens_claimed", map[string]any{
		"proposal_id": id,
		"voter":       voter,
		"payout":      payout,
	})
	s.emit(ctx, domain.Event{
		Type:     domain.EventTokensClaimed,
		EntityID: id,
		Actor:    voter,
		Detail:   map[string]any{"payout": payout},
		At:       time.Now().UTC(),
	})
	return payout, nil
}

// ExecuteProposal carries out a passed proposal: it creates the approved
// market, returns the proposer's escrowed stake, and pays the proposer bonus
// from the treasury. The Executed transition is persisted before the external
// effects, so a crash can never execute twice.
func (s *ProposalService) ExecuteProposal(ctx context.Context, id uint64) (*domain.Proposal, error) {
	unlock, err := s.locks.Acquire(ctx, proposalLockKey(id), s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("proposal_service: lock proposal %d: %w", id, err)
	}
	defer unlock()

	p, err := s.proposals.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("proposal_service: get proposal %d: %w", id, err)
	}

	now := time.Now().UTC()
	if err := p.Execute(now); err != nil {
		return nil, fmt.Errorf("proposal_service: execute proposal %d: %w", id, err)
	}
	if err := s.proposals.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("proposal_service: persist execution %d: %w", id, err)
	}

	if s.markets != nil {
		if err := s.markets.CreateMarket(ctx, p.MarketName, p.MarketDescription, p.FeedID); err != nil {
			s.logger.ErrorContext(ctx, "proposal_service: market creation failed",
				slog.Uint64("proposal_id", id),
				slog.String("market_name", p.MarketName),
				slog.String("error", err.Error()),
			)
		}
	}

	bonus, err := p.ProposerBonus(s.cfg.ProposerBonusBps)
	if err != nil {
		s.logger.ErrorContext(ctx, "proposal_service: bonus computation failed",
			slog.Uint64("proposal_id", id),
			slog.String("error", err.Error()),
		)
		bonus = 0
	}
	refund := p.ProposerStake + bonus
	if err := s.treasury.Credit(ctx, p.Proposer, refund); err != nil {
		s.logger.ErrorContext(ctx, "proposal_service: proposer payout failed",
			slog.Uint64("proposal_id", id),
			slog.String("proposer", p.Proposer),
			slog.Uint64("amount", refund),
			slog.String("error", err.Error()),
		)
	}

	s.logAudit(ctx, "proposal_executed", map[string]any{
		"proposal_id": id,
		"market_name": p.MarketName,
		"bonus":       bonus,
	})
	s.emit(ctx, domain.Event{
		Type:     domain.EventProposalExecuted,
		EntityID: id,
		Actor:    p.Proposer,
		Detail: map[string]any{
			"market_name": p.MarketName,
			"bonus":       bonus,
		},
		At: now,
	})
	s.logger.InfoContext(ctx, "proposal_service: proposal executed",
		slog.Uint64("proposal_id", id),
		slog.String("market_name", p.MarketName),
		slog.Uint64("bonus", bonus),
	)
	return p, nil
}

// CancelProposal withdraws an unvoted proposal and refunds the escrowed stake.
func (s *ProposalService) CancelProposal(ctx context.Context, id uint64, by string) (*domain.Proposal, error) {
	unlock, err := s.locks.Acquire(ctx, proposalLockKey(id), s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("proposal_service: lock proposal %d: %w", id, err)
	}
	defer unlock()

	p, err := s.proposals.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("proposal_service: get proposal %d: %w", id, err)
	}

	now := time.Now().UTC()
	if err := p.Cancel(by, now); err != nil {
		return nil, fmt.Errorf("proposal_service: cancel proposal %d: %w", id, err)
	}
	if err := s.proposals.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("proposal_service: persist cancel %d: %w", id, err)
	}
	if err := s.treasury.Credit(ctx, p.Proposer, p.ProposerStake); err != nil {
		s.logger.ErrorContext(ctx, "proposal_service: stake refund failed",
			slog.Uint64("proposal_id", id),
			slog.String("proposer", p.Proposer),
			slog.String("error", err.Error()),
		)
	}

	s.logAudit(ctx, "proposal_cancelled", map[string]any{"proposal_id": id, "by": by})
	s.emit(ctx, domain.Event{
		Type:     domain.EventProposalCancelled,
		EntityID: id,
		Actor:    by,
		At:       now,
	})
	return p, nil
}

// GetProposal returns a proposal by id.
func (s *ProposalService) GetProposal(ctx context.Context, id uint64) (*domain.Proposal, error) {
	p, err := s.proposals.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("proposal_service: get proposal %d: %w", id, err)
	}
	return p, nil
}

// ListProposals returns proposals in the given status.
func (s *ProposalService) ListProposals(ctx context.Context, status domain.ProposalStatus, opts domain.ListOpts) ([]*domain.Proposal, error) {
	ps, err := s.proposals.List(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("proposal_service: list proposals: %w", err)
	}
	return ps, nil
}

func (s *ProposalService) refund(ctx context.Context, address string, amount uint64) {
	if err := s.treasury.Credit(ctx, address, amount); err != nil {
		s.logger.ErrorContext(ctx, "proposal_service: compensating refund failed",
			slog.String("address", address),
			slog.Uint64("amount", amount),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ProposalService) emit(ctx context.Context, e domain.Event) {
	if err := s.bus.Publish(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "proposal_service: publish event failed",
			slog.String("event", e.Type),
			slog.Uint64("entity_id", e.EntityID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ProposalService) logAudit(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "proposal_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func proposalLockKey(id uint64) string {
	return fmt.Sprintf("lock:proposal:%d", id)
}

func winningSide(p *domain.Proposal) domain.Side {
	if p.Status == domain.ProposalStatusPassed || p.Status == domain.ProposalStatusExecuted {
		return domain.SideA
	}
	return domain.SideB
}
