package domain

import (
	"fmt"
	"time"
)

// ProposalStatus is the lifecycle state of a governance proposal.
type ProposalStatus string

const (
	ProposalStatusVoting    ProposalStatus = "voting"
	ProposalStatusPassed    ProposalStatus = "passed"
	ProposalStatusRejected  ProposalStatus = "rejected"
	ProposalStatusExecuted  ProposalStatus = "executed"
	ProposalStatusCancelled ProposalStatus = "cancelled"
)

// Outcome is a side of a proposal market.
type Outcome string

const (
	OutcomePass Outcome = "pass"
	OutcomeFail Outcome = "fail"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomePass || o == OutcomeFail
}

// PoolSide maps an outcome onto its pool bucket.
func (o Outcome) PoolSide() Side {
	if o == OutcomePass {
		return SideA
	}
	return SideB
}

// ProposalPosition is one voter's accumulated contributions. A voter may hold
// stake on both sides; repeat votes accumulate, they never overwrite. Claimed
// is the one-way idempotency flag.
type ProposalPosition struct {
	Voter       string
	PassStake   uint64
	FailStake   uint64
	Claimed     bool
	FirstVoteAt time.Time
	LastVoteAt  time.Time
}

// Stake returns the position's stake on one side.
func (p *ProposalPosition) Stake(o Outcome) uint64 {
	if o == OutcomePass {
		return p.PassStake
	}
	return p.FailStake
}

// Total returns the position's combined stake.
func (p *ProposalPosition) Total() uint64 {
	return p.PassStake + p.FailStake
}

// ProposalParams are the creation inputs for a proposal. Config-bound checks
// (minimum stake, voting period limits) happen in the service layer.
type ProposalParams struct {
	Proposer          string
	ProposerStake     uint64
	MarketName        string
	MarketDescription string
	FeedID            string
	VotingPeriod      time.Duration
	FeeBps            uint16
}

// MaxMarketNameLen and MaxMarketDescriptionLen bound proposal metadata.
const (
	MaxMarketNameLen        = 64
	MaxMarketDescriptionLen = 200
)

// Proposal is the futarchy governance state machine: Pass/Fail pools with
// complement pricing, resolved by comparing the pools at the voting deadline.
// The proposer's stake is escrowed for execution or cancellation refund and
// never seeds either pool, so a fresh market prices both sides at 50%.
type Proposal struct {
	ID                uint64
	Proposer          string
	ProposerStake     uint64
	MarketName        string
	MarketDescription string
	FeedID            string
	Status            ProposalStatus
	FeeBps            uint16

	Pool        Pool // SideA = Pass, SideB = Fail
	Positions   map[string]*ProposalPosition
	TotalVolume uint64

	// Refund is set when the winning pool is empty at resolution: no payouts
	// are computable, so every position is refunded its own stake, zero fee.
	Refund bool

	VotingEndsAt time.Time
	CreatedAt    time.Time
	ResolvedAt   *time.Time
	ExecutedAt   *time.Time
}

// NewProposal builds a proposal in the Voting state.
func NewProposal(id uint64, p ProposalParams, now time.Time) (*Proposal, error) {
	if p.Proposer == "" {
		return nil, fmt.Errorf("proposer must not be empty: %w", ErrValidation)
	}
	if n := len(p.MarketName); n == 0 || n > MaxMarketNameLen {
		return nil, fmt.Errorf("market name length must be 1-%d: %w", MaxMarketNameLen, ErrValidation)
	}
	if n := len(p.MarketDescription); n == 0 || n > MaxMarketDescriptionLen {
		return nil, fmt.Errorf("market description length must be 1-%d: %w", MaxMarketDescriptionLen, ErrValidation)
	}
	if p.VotingPeriod <= 0 {
		return nil, fmt.Errorf("voting period must be positive: %w", ErrValidation)
	}
	return &Proposal{
		ID:                id,
		Proposer:          p.Proposer,
		ProposerStake:     p.ProposerStake,
		MarketName:        p.MarketName,
		MarketDescription: p.MarketDescription,
		FeedID:            p.FeedID,
		Status:            ProposalStatusVoting,
		FeeBps:            p.FeeBps,
		Positions:         make(map[string]*ProposalPosition),
		VotingEndsAt:      now.Add(p.VotingPeriod),
		CreatedAt:         now,
	}, nil
}

// Vote accumulates amount into the voter's position for the chosen outcome
// and into the matching pool. Repeat votes on either side accumulate.
func (p *Proposal) Vote(voter string, outcome Outcome, amount uint64, now time.Time) error {
	if p.Status != ProposalStatusVoting {
		return ErrInvalidState
	}
	if !now.Before(p.VotingEndsAt) {
		return ErrVotingEnded
	}
	if !outcome.Valid() {
		return fmt.Errorf("unknown outcome %q: %w", outcome, ErrValidation)
	}
	if err := p.Pool.AddStake(outcome.PoolSide(), amount); err != nil {
		return err
	}

	pos, ok := p.Positions[voter]
	if !ok {
		pos = &ProposalPosition{Voter: voter, FirstVoteAt: now}
		p.Positions[voter] = pos
	}
	if outcome == OutcomePass {
		pos.PassStake += amount
	} else {
		pos.FailStake += amount
	}
	pos.LastVoteAt = now
	p.TotalVolume += amount
	return nil
}

// Resolve settles the proposal after the voting deadline. It passes when the
// Pass pool holds strictly more capital than the Fail pool — equivalently,
// when price(Pass) < price(Fail) under complement pricing. A tie rejects:
// changing the status quo requires a strict majority of capital.
func (p *Proposal) Resolve(now time.Time) error {
	if p.Status != ProposalStatusVoting {
		return ErrInvalidState
	}
	if now.Before(p.VotingEndsAt) {
		return ErrVotingNotEnded
	}

	if p.Pool.Stake(SideA) > p.Pool.Stake(SideB) {
		p.Status = ProposalStatusPassed
	} else {
		p.Status = ProposalStatusRejected
	}
	if p.Pool.Stake(p.winningOutcome().PoolSide()) == 0 {
		p.Refund = true
	}
	t := now
	p.ResolvedAt = &t
	return nil
}

func (p *Proposal) winningOutcome() Outcome {
	if p.Status == ProposalStatusPassed || p.Status == ProposalStatusExecuted {
		return OutcomePass
	}
	return OutcomeFail
}

// Resolved reports whether the proposal has reached a claimable state.
func (p *Proposal) Resolved() bool {
	switch p.Status {
	case ProposalStatusPassed, ProposalStatusRejected, ProposalStatusExecuted:
		return true
	}
	return false
}

// Claim computes a voter's payout and flips their claimed flag: their
// winning-side stake plus a pro-rata share of the losing pool net of the
// protocol fee. In refund mode every position gets its full contribution
// back, zero fee. A second claim fails with ErrAlreadyClaimed.
func (p *Proposal) Claim(voter string) (uint64, error) {
	if !p.Resolved() && p.Status != ProposalStatusCancelled {
		return 0, ErrInvalidState
	}
	pos, ok := p.Positions[voter]
	if !ok {
		return 0, ErrNotJoined
	}
	if pos.Claimed {
		return 0, ErrAlreadyClaimed
	}

	if p.Refund || p.Status == ProposalStatusCancelled {
		pos.Claimed = true
		return pos.Total(), nil
	}

	winning := p.winningOutcome()
	stake := pos.Stake(winning)
	if stake == 0 {
		return 0, ErrNoWinnings
	}
	payout, err := Payout(
		p.Pool.Stake(winning.PoolSide()),
		p.Pool.Stake(winning.PoolSide().Opposite()),
		stake,
		p.FeeBps,
	)
	if err != nil {
		return 0, err
	}
	pos.Claimed = true
	return payout, nil
}

// Execute marks a passed proposal as executed, exactly once. The external
// market creation and the proposer's stake refund plus bonus are effects the
// caller performs; Execute only guards and transitions state.
func (p *Proposal) Execute(now time.Time) error {
	if p.Status != ProposalStatusPassed {
		return ErrInvalidState
	}
	p.Status = ProposalStatusExecuted
	t := now
	p.ExecutedAt = &t
	return nil
}

// ProposerBonus is the execution reward paid from the treasury: bonusBps of
// the proposal's total traded volume.
func (p *Proposal) ProposerBonus(bonusBps uint16) (uint64, error) {
	return Fee(p.TotalVolume, bonusBps)
}

// Cancel withdraws a proposal before anyone has voted. Only the proposer may
// cancel, and only while both pools are empty; the proposer's escrowed stake
// becomes refundable.
func (p *Proposal) Cancel(by string, now time.Time) error {
	if p.Status != ProposalStatusVoting {
		return ErrInvalidState
	}
	if by != p.Proposer {
		return ErrUnauthorized
	}
	if p.Pool.Total() != 0 {
		return fmt.Errorf("votes already cast: %w", ErrInvalidState)
	}
	p.Status = ProposalStatusCancelled
	t := now
	p.ResolvedAt = &t
	return nil
}
