package service

import (
	"context"
	"sync"
	"time"

	"github.com/fateprotocol/fate-engine/internal/domain"
)

// In-memory fakes for the domain ports. They are deliberately simple: maps
// behind a mutex, with error injection knobs where a test needs a failure.

type fakeMatchStore struct {
	mu      sync.Mutex
	items   map[uint64]*domain.Match
	failGet error
	failPut error
}

func newFakeMatchStore() *fakeMatchStore {
	return &fakeMatchStore{items: make(map[uint64]*domain.Match)}
}

func (s *fakeMatchStore) Create(_ context.Context, m *domain.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut != nil {
		return s.failPut
	}
	s.items[m.ID] = m
	return nil
}

func (s *fakeMatchStore) Get(_ context.Context, id uint64) (*domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return nil, s.failGet
	}
	m, ok := s.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

func (s *fakeMatchStore) Update(_ context.Context, m *domain.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut != nil {
		return s.failPut
	}
	if _, ok := s.items[m.ID]; !ok {
		return domain.ErrNotFound
	}
	s.items[m.ID] = m
	return nil
}

func (s *fakeMatchStore) List(_ context.Context, status domain.MatchStatus, _ domain.ListOpts) ([]*domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Match
	for _, m := range s.items {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeMatchStore) ListDue(_ context.Context, now time.Time, limit int) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint64
	for id, m := range s.items {
		if m.Status == domain.MatchStatusOpen && !now.Before(m.ResolutionTime) {
			out = append(out, id)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeMatchStore) ListSettledBefore(_ context.Context, cutoff time.Time, limit int) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint64
	for id, m := range s.items {
		if m.Status == domain.MatchStatusOpen || m.ResolvedAt == nil {
			continue
		}
		if m.ResolvedAt.Before(cutoff) {
			out = append(out, id)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeProposalStore struct {
	mu      sync.Mutex
	items   map[uint64]*domain.Proposal
	failPut error
}

func newFakeProposalStore() *fakeProposalStore {
	return &fakeProposalStore{items: make(map[uint64]*domain.Proposal)}
}

func (s *fakeProposalStore) Create(_ context.Context, p *domain.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut != nil {
		return s.failPut
	}
	s.items[p.ID] = p
	return nil
}

func (s *fakeProposalStore) Get(_ context.Context, id uint64) (*domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (s *fakeProposalStore) Update(_ context.Context, p *domain.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut != nil {
		return s.failPut
	}
	if _, ok := s.items[p.ID]; !ok {
		return domain.ErrNotFound
	}
	s.items[p.ID] = p
	return nil
}

func (s *fakeProposalStore) List(_ context.Context, status domain.ProposalStatus, _ domain.ListOpts) ([]*domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Proposal
	for _, p := range s.items {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeProposalStore) ListDue(_ context.Context, now time.Time, limit int) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint64
	for id, p := range s.items {
		if p.Status == domain.ProposalStatusVoting && !now.Before(p.VotingEndsAt) {
			out = append(out, id)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeProposalStore) ListSettledBefore(_ context.Context, cutoff time.Time, limit int) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint64
	for id, p := range s.items {
		if p.ResolvedAt != nil && p.ResolvedAt.Before(cutoff) {
			out = append(out, id)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeSequence struct {
	mu   sync.Mutex
	next map[string]uint64
}

func newFakeSequence() *fakeSequence {
	return &fakeSequence{next: make(map[string]uint64)}
}

func (s *fakeSequence) Next(_ context.Context, name string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[name]++
	return s.next[name], nil
}

type fakeLocks struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired []string
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: make(map[string]bool)}
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	l.acquired = append(l.acquired, key)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held[key] = false
	}, nil
}

type fakeOracle struct {
	price uint64
	conf  uint64
	err   error
	calls int
}

func (o *fakeOracle) GetPrice(_ context.Context, feedID string) (domain.PriceSnapshot, error) {
	o.calls++
	if o.err != nil {
		return domain.PriceSnapshot{}, o.err
	}
	return domain.PriceSnapshot{
		FeedID:      feedID,
		Price:       o.price,
		Confidence:  o.conf,
		PublishedAt: time.Now().UTC(),
	}, nil
}

type fakeStats struct {
	mu    sync.Mutex
	items map[string]*domain.PlayerStats
	joins int
}

func newFakeStats() *fakeStats {
	return &fakeStats{items: make(map[string]*domain.PlayerStats)}
}

func (s *fakeStats) Get(_ context.Context, player string) (*domain.PlayerStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.items[player]; ok {
		return st, nil
	}
	return &domain.PlayerStats{Player: player}, nil
}

func (s *fakeStats) Upsert(_ context.Context, st *domain.PlayerStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[st.Player] = st
	return nil
}

func (s *fakeStats) RecordJoin(_ context.Context, player string, stake uint64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.items[player]
	if !ok {
		st = &domain.PlayerStats{Player: player, CreatedAt: now}
		s.items[player] = st
	}
	st.MatchesPlayed++
	st.TotalStaked += stake
	t := now
	st.LastMatchAt = &t
	s.joins++
	return nil
}

type transfer struct {
	address string
	amount  uint64
}

type fakeTreasury struct {
	mu       sync.Mutex
	credits  []transfer
	debits   []transfer
	failNext error
}

func (t *fakeTreasury) Credit(_ context.Context, address string, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failNext != nil {
		err := t.failNext
		t.failNext = nil
		return err
	}
	t.credits = append(t.credits, transfer{address, amount})
	return nil
}

func (t *fakeTreasury) Debit(_ context.Context, address string, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failNext != nil {
		err := t.failNext
		t.failNext = nil
		return err
	}
	t.debits = append(t.debits, transfer{address, amount})
	return nil
}

func (t *fakeTreasury) creditedTo(address string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total uint64
	for _, c := range t.credits {
		if c.address == address {
			total += c.amount
		}
	}
	return total
}

type fakeBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *fakeBus) Publish(_ context.Context, e domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}

func (b *fakeBus) Subscribe(context.Context) (<-chan domain.Event, error) {
	ch := make(chan domain.Event)
	close(ch)
	return ch, nil
}

func (b *fakeBus) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.Type
	}
	return out
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []string
}

func (a *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, event)
	return nil
}

type fakeMarketCreator struct {
	mu      sync.Mutex
	created []string
}

func (c *fakeMarketCreator) CreateMarket(_ context.Context, name, _, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, name)
	return nil
}
