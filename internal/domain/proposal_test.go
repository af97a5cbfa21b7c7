package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testProposalParams() ProposalParams {
	return ProposalParams{
		Proposer:          "alice",
		ProposerStake:     sol,
		MarketName:        "SOL above 300 by June",
		MarketDescription: "Resolves yes if SOL/USD closes above 300 before June 30.",
		FeedID:            "sol-usd",
		VotingPeriod:      24 * time.Hour,
		FeeBps:            500,
	}
}

func mustProposal(t *testing.T, p ProposalParams) *Proposal {
	t.Helper()
	prop, err := NewProposal(1, p, t0)
	if err != nil {
		t.Fatalf("NewProposal: %v", err)
	}
	return prop
}

func TestNewProposal_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ProposalParams)
	}{
		{"empty proposer", func(p *ProposalParams) { p.Proposer = "" }},
		{"empty name", func(p *ProposalParams) { p.MarketName = "" }},
		{"long name", func(p *ProposalParams) { p.MarketName = strings.Repeat("x", MaxMarketNameLen+1) }},
		{"empty description", func(p *ProposalParams) { p.MarketDescription = "" }},
		{"long description", func(p *ProposalParams) { p.MarketDescription = strings.Repeat("x", MaxMarketDescriptionLen+1) }},
		{"zero voting period", func(p *ProposalParams) { p.VotingPeriod = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testProposalParams()
			tt.mutate(&p)
			if _, err := NewProposal(1, p, t0); !errors.Is(err, ErrValidation) {
				t.Errorf("error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestProposal_FreshMarketPricesEven(t *testing.T) {
	p := mustProposal(t, testProposalParams())
	if a, b := p.Pool.Price(SideA), p.Pool.Price(SideB); a != PriceScale/2 || b != PriceScale/2 {
		t.Errorf("fresh prices = %d/%d, want 5000/5000", a, b)
	}
}

func TestProposal_VoteAccumulates(t *testing.T) {
	p := mustProposal(t, testProposalParams())
	now := t0.Add(time.Minute)

	if err := p.Vote("bob", OutcomePass, 3*sol, now); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if err := p.Vote("bob", OutcomePass, 2*sol, now.Add(time.Minute)); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if err := p.Vote("bob", OutcomeFail, sol, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("Vote: %v", err)
	}

	pos := p.Positions["bob"]
	if pos.PassStake != 5*sol || pos.FailStake != sol {
		t.Errorf("position = %d/%d, want 5 SOL pass, 1 SOL fail", pos.PassStake, pos.FailStake)
	}
	if p.TotalVolume != 6*sol {
		t.Errorf("volume = %d, want 6 SOL", p.TotalVolume)
	}
	if got := p.Pool.Stake(SideA); got != 5*sol {
		t.Errorf("pass pool = %d, want 5 SOL", got)
	}
}

func TestProposal_VoteGuards(t *testing.T) {
	p := mustProposal(t, testProposalParams())

	if err := p.Vote("bob", "maybe", sol, t0.Add(time.Minute)); !errors.Is(err, ErrValidation) {
		t.Errorf("bad outcome error = %v, want ErrValidation", err)
	}
	if err := p.Vote("bob", OutcomePass, 0, t0.Add(time.Minute)); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero amount error = %v, want ErrInvalidAmount", err)
	}
	if err := p.Vote("bob", OutcomePass, sol, p.VotingEndsAt); !errors.Is(err, ErrVotingEnded) {
		t.Errorf("deadline vote error = %v, want ErrVotingEnded", err)
	}
}

func TestProposal_ComplementPricingAfterVotes(t *testing.T) {
	p := mustProposal(t, testProposalParams())
	now := t0.Add(time.Minute)

	// 0.5 SOL pass, 0.2 SOL fail.
	if err := p.Vote("bob", OutcomePass, 500_000_000, now); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if err := p.Vote("carol", OutcomeFail, 200_000_000, now); err != nil {
		t.Fatalf("Vote: %v", err)
	}

	pass, fail := p.Pool.Price(SideA), p.Pool.Price(SideB)
	if pass != 2857 || fail != 7143 {
		t.Errorf("prices = %d/%d, want 2857/7143", pass, fail)
	}
	if pass+fail != PriceScale {
		t.Errorf("price sum = %d, want %d", pass+fail, PriceScale)
	}
}

func TestProposal_ResolvePassStrictMajority(t *testing.T) {
	tests := []struct {
		name       string
		pass, fail uint64
		want       ProposalStatus
	}{
		{"pass leads", 500_000_000, 200_000_000, ProposalStatusPassed},
		{"fail leads", 200_000_000, 500_000_000, ProposalStatusRejected},
		{"exact tie", 300_000_000, 300_000_000, ProposalStatusRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustProposal(t, testProposalParams())
			now := t0.Add(time.Minute)
			if err := p.Vote("bob", OutcomePass, tt.pass, now); err != nil {
				t.Fatalf("Vote: %v", err)
			}
			if err := p.Vote("carol", OutcomeFail, tt.fail, now); err != nil {
				t.Fatalf("Vote: %v", err)
			}
			if err := p.Resolve(p.VotingEndsAt); err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if p.Status != tt.want {
				t.Errorf("status = %q, want %q", p.Status, tt.want)
			}
		})
	}
}

func TestProposal_ResolveGuards(t *testing.T) {
	p := mustProposal(t, testProposalParams())

	if err := p.Resolve(t0.Add(time.Hour)); !errors.Is(err, ErrVotingNotEnded) {
		t.Errorf("early resolve error = %v, want ErrVotingNotEnded", err)
	}
	if err := p.Resolve(p.VotingEndsAt); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := p.Resolve(p.VotingEndsAt.Add(time.Minute)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("double resolve error = %v, want ErrInvalidState", err)
	}
}

func TestProposal_ClaimPayouts(t *testing.T) {
	p := mustProposal(t, testProposalParams())
	now := t0.Add(time.Minute)

	// bob 700, carol 300 on pass; dave 1000 on fail. Zero fee makes the
	// arithmetic exact: bob 700 + 700 = 1400, carol 300 + 300 = 600.
	p.FeeBps = 0
	if err := p.Vote("bob", OutcomePass, 700, now); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if err := p.Vote("carol", OutcomePass, 300, now); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if err := p.Vote("dave", OutcomeFail, 1000, now); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if err := p.Resolve(p.VotingEndsAt); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if got, err := p.Claim("bob"); err != nil || got != 1400 {
		t.Errorf("Claim bob = (%d, %v), want (1400, nil)", got, err)
	}
	if got, err := p.Claim("carol"); err != nil || got != 600 {
		t.Errorf("Claim carol = (%d, %v), want (600, nil)", got, err)
	}
	if _, err := p.Claim("dave"); !errors.Is(err, ErrNoWinnings) {
		t.Errorf("loser claim error = %v, want ErrNoWinnings", err)
	}
	if _, err := p.Claim("bob"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Errorf("double claim error = %v, want ErrAlreadyClaimed", err)
	}
	if _, err := p.Claim("mallory"); !errors.Is(err, ErrNotJoined) {
		t.Errorf("stranger claim error = %v, want ErrNotJoined", err)
	}
}

func TestProposal_ClaimBothSidesPosition(t *testing.T) {
	// A voter holding both sides is paid only on the winning leg; the
	// losing leg is part of the distributed pool.
	p := mustProposal(t, testProposalParams())
	p.FeeBps = 0
	now := t0.Add(time.Minute)

	if err := p.Vote("bob", OutcomePass, 600, now); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if err := p.Vote("bob", OutcomeFail, 400, now); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if err := p.Resolve(p.VotingEndsAt); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Status != ProposalStatusPassed {
		t.Fatalf("status = %q, want passed", p.Status)
	}
	if got, err := p.Claim("bob"); err != nil || got != 1000 {
		t.Errorf("Claim = (%d, %v), want (1000, nil)", got, err)
	}
}

func TestProposal_EmptyWinningPoolRefunds(t *testing.T) {
	// Only fail votes were cast and fail wins trivially, but a proposal
	// with zero votes resolves Rejected with an empty winning pool too;
	// both settle in refund mode.
	p := mustProposal(t, testProposalParams())
	if err := p.Resolve(p.VotingEndsAt); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Status != ProposalStatusRejected || !p.Refund {
		t.Fatalf("status = %q refund = %v, want rejected refund", p.Status, p.Refund)
	}

	p = mustProposal(t, testProposalParams())
	if err := p.Vote("bob", OutcomePass, 500, t0.Add(time.Minute)); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if err := p.Vote("bob", OutcomeFail, 500, t0.Add(time.Minute)); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if err := p.Resolve(p.VotingEndsAt); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Refund {
		t.Fatal("tie with capital on both sides should not refund")
	}
}

func TestProposal_ExecuteOnce(t *testing.T) {
	p := mustProposal(t, testProposalParams())
	now := t0.Add(time.Minute)
	if err := p.Vote("bob", OutcomePass, sol, now); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if err := p.Resolve(p.VotingEndsAt); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if err := p.Execute(p.VotingEndsAt.Add(time.Minute)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if p.Status != ProposalStatusExecuted || p.ExecutedAt == nil {
		t.Errorf("status = %q executedAt = %v", p.Status, p.ExecutedAt)
	}
	if err := p.Execute(p.VotingEndsAt.Add(2 * time.Minute)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second execute error = %v, want ErrInvalidState", err)
	}
}

func TestProposal_ExecuteRejectedFails(t *testing.T) {
	p := mustProposal(t, testProposalParams())
	now := t0.Add(time.Minute)
	if err := p.Vote("bob", OutcomeFail, sol, now); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if err := p.Resolve(p.VotingEndsAt); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := p.Execute(p.VotingEndsAt.Add(time.Minute)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("execute rejected error = %v, want ErrInvalidState", err)
	}
}

func TestProposal_ClaimSurvivesExecution(t *testing.T) {
	p := mustProposal(t, testProposalParams())
	p.FeeBps = 0
	now := t0.Add(time.Minute)
	if err := p.Vote("bob", OutcomePass, 600, now); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if err := p.Vote("carol", OutcomeFail, 400, now); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if err := p.Resolve(p.VotingEndsAt); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := p.Execute(p.VotingEndsAt.Add(time.Minute)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got, err := p.Claim("bob"); err != nil || got != 1000 {
		t.Errorf("Claim after execute = (%d, %v), want (1000, nil)", got, err)
	}
}

func TestProposal_ProposerBonus(t *testing.T) {
	p := mustProposal(t, testProposalParams())
	now := t0.Add(time.Minute)
	if err := p.Vote("bob", OutcomePass, 10*sol, now); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if err := p.Vote("carol", OutcomeFail, 6*sol, now); err != nil {
		t.Fatalf("Vote: %v", err)
	}

	// 100 bps of 16 SOL volume.
	bonus, err := p.ProposerBonus(100)
	if err != nil {
		t.Fatalf("ProposerBonus: %v", err)
	}
	if want := uint64(160_000_000); bonus != want {
		t.Errorf("bonus = %d, want %d", bonus, want)
	}
}

func TestProposal_Cancel(t *testing.T) {
	p := mustProposal(t, testProposalParams())
	now := t0.Add(time.Minute)

	if err := p.Cancel("bob", now); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("non-proposer cancel error = %v, want ErrUnauthorized", err)
	}
	if err := p.Cancel("alice", now); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if p.Status != ProposalStatusCancelled {
		t.Errorf("status = %q, want cancelled", p.Status)
	}
	if err := p.Vote("bob", OutcomePass, sol, now); !errors.Is(err, ErrInvalidState) {
		t.Errorf("vote after cancel error = %v, want ErrInvalidState", err)
	}
}

func TestProposal_CancelBlockedByVotes(t *testing.T) {
	p := mustProposal(t, testProposalParams())
	now := t0.Add(time.Minute)
	if err := p.Vote("bob", OutcomePass, sol, now); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if err := p.Cancel("alice", now); !errors.Is(err, ErrInvalidState) {
		t.Errorf("cancel with votes error = %v, want ErrInvalidState", err)
	}
}
