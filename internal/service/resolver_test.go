package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/fateprotocol/fate-engine/internal/domain"
)

func TestResolver_SweepsDueEntities(t *testing.T) {
	mf := newMatchFixture()
	pf := newProposalFixture()

	mf.seedMatch(t, func(m *domain.Match) {
		m.Join("bob", t0)
		m.SubmitPrediction("alice", domain.PredictionHigher, t0)
		m.SubmitPrediction("bob", domain.PredictionLower, t0)
	})
	mf.oracle.price = 120 * domain.PricePrecision
	pf.seedProposal(t, func(p *domain.Proposal) {
		p.Vote("bob", domain.OutcomePass, sol, t0.Add(time.Minute))
	})

	r := NewResolver(mf.store, pf.store, mf.svc, pf.svc, 50, slog.New(slog.DiscardHandler))
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := mf.store.items[1].Status; got != domain.MatchStatusCompleted {
		t.Errorf("match status = %q, want completed", got)
	}
	if got := pf.store.items[1].Status; got != domain.ProposalStatusPassed {
		t.Errorf("proposal status = %q, want passed", got)
	}
}

func TestResolver_SweepIsIdempotent(t *testing.T) {
	mf := newMatchFixture()
	pf := newProposalFixture()
	mf.seedMatch(t, func(m *domain.Match) {
		m.Join("bob", t0)
		m.SubmitPrediction("alice", domain.PredictionHigher, t0)
		m.SubmitPrediction("bob", domain.PredictionLower, t0)
	})
	mf.oracle.price = 120 * domain.PricePrecision

	r := NewResolver(mf.store, pf.store, mf.svc, pf.svc, 50, slog.New(slog.DiscardHandler))
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("second sweep: %v", err)
	}

	// Resolution settled exactly once: the treasury fee was credited once.
	if got := mf.bank.creditedTo(treasury); got != 50_000_000 {
		t.Errorf("treasury fee = %d, want a single 50_000_000 credit", got)
	}
}

func TestResolver_SkipsLockedEntities(t *testing.T) {
	mf := newMatchFixture()
	pf := newProposalFixture()
	mf.seedMatch(t, nil)
	mf.oracle.price = 120 * domain.PricePrecision

	release, err := mf.locks.Acquire(context.Background(), "lock:match:1", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	r := NewResolver(mf.store, pf.store, mf.svc, pf.svc, 50, slog.New(slog.DiscardHandler))
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := mf.store.items[1].Status; got != domain.MatchStatusOpen {
		t.Errorf("locked match must stay open, status = %q", got)
	}
}
