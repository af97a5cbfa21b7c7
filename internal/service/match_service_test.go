package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/fateprotocol/fate-engine/internal/domain"
)

const (
	sol      = 1_000_000_000
	treasury = "treasury"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type matchFixture struct {
	svc    *MatchService
	store  *fakeMatchStore
	locks  *fakeLocks
	oracle *fakeOracle
	stats  *fakeStats
	bank   *fakeTreasury
	bus    *fakeBus
	audit  *fakeAudit
}

func newMatchFixture() *matchFixture {
	f := &matchFixture{
		store:  newFakeMatchStore(),
		locks:  newFakeLocks(),
		oracle: &fakeOracle{price: 100 * domain.PricePrecision},
		stats:  newFakeStats(),
		bank:   &fakeTreasury{},
		bus:    &fakeBus{},
		audit:  &fakeAudit{},
	}
	f.svc = NewMatchService(
		f.store, newFakeSequence(), f.locks, f.oracle, f.stats, f.bank, f.bus, f.audit,
		MatchConfig{
			FeeBps:              350,
			MinEntryFee:         1_000_000,
			MaxEntryFee:         10 * sol,
			MinPlayers:          2,
			MaxPlayers:          10,
			MinPredictionWindow: 30 * time.Second,
			MaxMatchDuration:    24 * time.Hour,
			TreasuryAddress:     treasury,
			LockTTL:             10 * time.Second,
		},
		slog.New(slog.DiscardHandler),
	)
	return f
}

func validCreateRequest() CreateRequest {
	return CreateRequest{
		Creator:          "alice",
		FeedID:           "sol-usd",
		Type:             domain.MatchTypeFlashDuel,
		EntryFee:         sol,
		MaxPlayers:       5,
		PredictionWindow: time.Minute,
		MatchDuration:    10 * time.Minute,
	}
}

// seedMatch plants a match created in the past directly in the store, so
// deadlines have already elapsed when the service looks at the clock.
func (f *matchFixture) seedMatch(t *testing.T, setup func(*domain.Match)) *domain.Match {
	t.Helper()
	m, err := domain.NewMatch(1, domain.MatchParams{
		Creator:          "alice",
		FeedID:           "sol-usd",
		Type:             domain.MatchTypeFlashDuel,
		EntryFee:         sol,
		MaxPlayers:       5,
		PredictionWindow: time.Minute,
		MatchDuration:    10 * time.Minute,
		StartingPrice:    100 * domain.PricePrecision,
		FeeBps:           500,
	}, t0)
	if err != nil {
		t.Fatalf("NewMatch: %v", err)
	}
	if setup != nil {
		setup(m)
	}
	f.store.items[m.ID] = m
	return m
}

func TestMatchService_CreateMatch(t *testing.T) {
	f := newMatchFixture()
	f.oracle.price = 142_500_000 // $142.50

	m, err := f.svc.CreateMatch(context.Background(), validCreateRequest())
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if m.ID != 1 {
		t.Errorf("id = %d, want 1", m.ID)
	}
	if m.StartingPrice != 142_500_000 {
		t.Errorf("starting price = %d, want oracle snapshot", m.StartingPrice)
	}
	if len(f.bank.debits) != 1 || f.bank.debits[0] != (transfer{"alice", sol}) {
		t.Errorf("debits = %+v, want entry fee from alice", f.bank.debits)
	}
	if got := f.bus.types(); len(got) != 1 || got[0] != domain.EventMatchCreated {
		t.Errorf("events = %v, want [match_created]", got)
	}
	if f.stats.joins != 1 {
		t.Errorf("recorded joins = %d, want 1", f.stats.joins)
	}
}

func TestMatchService_CreateMatchBounds(t *testing.T) {
	f := newMatchFixture()

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
		want   error
	}{
		{"entry fee too low", func(r *CreateRequest) { r.EntryFee = 999_999 }, domain.ErrInvalidAmount},
		{"entry fee too high", func(r *CreateRequest) { r.EntryFee = 11 * sol }, domain.ErrInvalidAmount},
		{"too few players", func(r *CreateRequest) { r.MaxPlayers = 1 }, domain.ErrValidation},
		{"too many players", func(r *CreateRequest) { r.MaxPlayers = 11 }, domain.ErrValidation},
		{"window too short", func(r *CreateRequest) { r.PredictionWindow = time.Second }, domain.ErrValidation},
		{"duration too long", func(r *CreateRequest) { r.MatchDuration = 25 * time.Hour }, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreateRequest()
			tt.mutate(&req)
			if _, err := f.svc.CreateMatch(context.Background(), req); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	if len(f.bank.debits) != 0 {
		t.Errorf("rejected requests must not move funds, got %+v", f.bank.debits)
	}
}

func TestMatchService_CreateMatchOracleFailsClosed(t *testing.T) {
	f := newMatchFixture()
	f.oracle.err = domain.ErrStalePrice

	_, err := f.svc.CreateMatch(context.Background(), validCreateRequest())
	if !errors.Is(err, domain.ErrStalePrice) {
		t.Fatalf("error = %v, want ErrStalePrice", err)
	}
	if len(f.store.items) != 0 || len(f.bank.debits) != 0 {
		t.Error("no match and no transfer may exist without a starting price")
	}
}

func TestMatchService_JoinCollectsFee(t *testing.T) {
	f := newMatchFixture()
	f.seedMatch(t, nil)

	// The seeded match's deadline is in the past, so joining reports the
	// window closed; the treasury must stay untouched.
	_, err := f.svc.JoinMatch(context.Background(), 1, "bob")
	if !errors.Is(err, domain.ErrPredictionClosed) {
		t.Fatalf("error = %v, want ErrPredictionClosed", err)
	}
	if len(f.bank.debits) != 0 {
		t.Errorf("failed join must not debit, got %+v", f.bank.debits)
	}
}

func TestMatchService_ResolveSettlesOnceAndPaysFee(t *testing.T) {
	f := newMatchFixture()
	f.seedMatch(t, func(m *domain.Match) {
		m.Join("bob", t0)
		m.SubmitPrediction("alice", domain.PredictionHigher, t0)
		m.SubmitPrediction("bob", domain.PredictionLower, t0)
	})
	f.oracle.price = 110 * domain.PricePrecision

	m, err := f.svc.ResolveMatch(context.Background(), 1)
	if err != nil {
		t.Fatalf("ResolveMatch: %v", err)
	}
	if m.Status != domain.MatchStatusCompleted {
		t.Errorf("status = %q, want completed", m.Status)
	}

	// 5% of the 1 SOL losing pool goes to the treasury at resolution.
	if got := f.bank.creditedTo(treasury); got != 50_000_000 {
		t.Errorf("treasury fee = %d, want 50_000_000", got)
	}

	if _, err := f.svc.ResolveMatch(context.Background(), 1); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("second resolve error = %v, want ErrInvalidState", err)
	}
	if got := f.bank.creditedTo(treasury); got != 50_000_000 {
		t.Errorf("second resolve must not re-credit the fee, treasury = %d", got)
	}
}

func TestMatchService_ResolveOracleFailureLeavesMatchOpen(t *testing.T) {
	f := newMatchFixture()
	f.seedMatch(t, func(m *domain.Match) {
		m.Join("bob", t0)
		m.SubmitPrediction("alice", domain.PredictionHigher, t0)
		m.SubmitPrediction("bob", domain.PredictionLower, t0)
	})
	f.oracle.err = domain.ErrConfidenceTooWide

	if _, err := f.svc.ResolveMatch(context.Background(), 1); !errors.Is(err, domain.ErrConfidenceTooWide) {
		t.Fatalf("error = %v, want ErrConfidenceTooWide", err)
	}
	if f.store.items[1].Status != domain.MatchStatusOpen {
		t.Error("match must stay open when the oracle fails")
	}
}

func TestMatchService_ClaimPaysPlayerOnce(t *testing.T) {
	f := newMatchFixture()
	f.seedMatch(t, func(m *domain.Match) {
		m.Join("bob", t0)
		m.SubmitPrediction("alice", domain.PredictionHigher, t0)
		m.SubmitPrediction("bob", domain.PredictionLower, t0)
	})
	f.oracle.price = 110 * domain.PricePrecision
	if _, err := f.svc.ResolveMatch(context.Background(), 1); err != nil {
		t.Fatalf("ResolveMatch: %v", err)
	}

	payout, err := f.svc.ClaimWinnings(context.Background(), 1, "alice")
	if err != nil {
		t.Fatalf("ClaimWinnings: %v", err)
	}
	// 1 SOL stake + (1 SOL - 5% fee) from the sole loser.
	if want := uint64(1_950_000_000); payout != want {
		t.Errorf("payout = %d, want %d", payout, want)
	}
	if got := f.bank.creditedTo("alice"); got != payout {
		t.Errorf("credited = %d, want payout %d", got, payout)
	}

	if _, err := f.svc.ClaimWinnings(context.Background(), 1, "alice"); !errors.Is(err, domain.ErrAlreadyClaimed) {
		t.Errorf("second claim error = %v, want ErrAlreadyClaimed", err)
	}
	if got := f.bank.creditedTo("alice"); got != payout {
		t.Errorf("second claim must not pay again, credited = %d", got)
	}

	// The winner's stats pick up the win.
	st, _ := f.stats.Get(context.Background(), "alice")
	if st.MatchesWon != 1 || st.TotalWinnings != payout {
		t.Errorf("stats = %+v, want 1 win worth %d", st, payout)
	}
}

func TestMatchService_RedundantResolveSkipsOracle(t *testing.T) {
	f := newMatchFixture()
	f.seedMatch(t, func(m *domain.Match) {
		m.Join("bob", t0)
		m.SubmitPrediction("alice", domain.PredictionHigher, t0)
		m.SubmitPrediction("bob", domain.PredictionLower, t0)
	})
	f.oracle.price = 110 * domain.PricePrecision

	if _, err := f.svc.ResolveMatch(context.Background(), 1); err != nil {
		t.Fatalf("ResolveMatch: %v", err)
	}
	if f.oracle.calls != 1 {
		t.Fatalf("oracle calls = %d, want 1", f.oracle.calls)
	}

	if _, err := f.svc.ResolveMatch(context.Background(), 1); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("second resolve error = %v, want ErrInvalidState", err)
	}
	if f.oracle.calls != 1 {
		t.Errorf("oracle calls = %d after redundant resolve, want still 1", f.oracle.calls)
	}
}

func TestMatchService_PrematureResolveSkipsOracle(t *testing.T) {
	f := newMatchFixture()

	// Created just now, so the resolution time is still in the future.
	m, err := domain.NewMatch(2, domain.MatchParams{
		Creator:          "alice",
		FeedID:           "sol-usd",
		Type:             domain.MatchTypeFlashDuel,
		EntryFee:         sol,
		MaxPlayers:       5,
		PredictionWindow: time.Minute,
		MatchDuration:    10 * time.Minute,
		StartingPrice:    100 * domain.PricePrecision,
		FeeBps:           500,
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("NewMatch: %v", err)
	}
	f.store.items[m.ID] = m

	// Even with a broken oracle, a premature resolve reports the timing
	// error; the oracle is never contacted.
	f.oracle.err = domain.ErrStalePrice
	if _, err := f.svc.ResolveMatch(context.Background(), 2); !errors.Is(err, domain.ErrResolutionNotReady) {
		t.Fatalf("error = %v, want ErrResolutionNotReady", err)
	}
	if f.oracle.calls != 0 {
		t.Errorf("oracle calls = %d, want 0", f.oracle.calls)
	}
}

func TestMatchService_RefundClaimLeavesStatsAlone(t *testing.T) {
	streak := func() *domain.PlayerStats {
		return &domain.PlayerStats{Player: "alice", MatchesWon: 2, WinStreak: 3, BestWinStreak: 3}
	}

	t.Run("cancelled match", func(t *testing.T) {
		f := newMatchFixture()
		f.stats.items["alice"] = streak()
		f.seedMatch(t, nil)

		if _, err := f.svc.CancelMatch(context.Background(), 1, "alice"); err != nil {
			t.Fatalf("CancelMatch: %v", err)
		}
		if _, err := f.svc.ClaimWinnings(context.Background(), 1, "alice"); err != nil {
			t.Fatalf("ClaimWinnings: %v", err)
		}

		st := f.stats.items["alice"]
		if st.WinStreak != 3 || st.MatchesWon != 2 {
			t.Errorf("stats = %+v, refund claim must not touch them", st)
		}
	})

	t.Run("tie settlement", func(t *testing.T) {
		f := newMatchFixture()
		f.stats.items["alice"] = streak()
		f.seedMatch(t, func(m *domain.Match) {
			m.Join("bob", t0)
			m.SubmitPrediction("alice", domain.PredictionHigher, t0)
			m.SubmitPrediction("bob", domain.PredictionLower, t0)
		})

		// Final price equals the starting price: refund-mode settlement.
		f.oracle.price = 100 * domain.PricePrecision
		if _, err := f.svc.ResolveMatch(context.Background(), 1); err != nil {
			t.Fatalf("ResolveMatch: %v", err)
		}
		if _, err := f.svc.ClaimWinnings(context.Background(), 1, "alice"); err != nil {
			t.Fatalf("ClaimWinnings: %v", err)
		}

		st := f.stats.items["alice"]
		if st.WinStreak != 3 || st.MatchesWon != 2 {
			t.Errorf("stats = %+v, refund claim must not touch them", st)
		}
	})
}

func TestMatchService_LockHeld(t *testing.T) {
	f := newMatchFixture()
	f.seedMatch(t, nil)

	release, err := f.locks.Acquire(context.Background(), "lock:match:1", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	if _, err := f.svc.JoinMatch(context.Background(), 1, "bob"); !errors.Is(err, domain.ErrLockHeld) {
		t.Errorf("error = %v, want ErrLockHeld", err)
	}
}
