package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/fateprotocol/fate-engine/internal/domain"
)

// memBlob is an in-memory blob store implementing both writer and reader.
type memBlob struct {
	objects map[string][]byte
	puts    int
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte)}
}

func (b *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.objects[path] = buf
	b.puts++
	return nil
}

func (b *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return b.Put(ctx, path, data, "")
}

func (b *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	buf, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (b *memBlob) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	for path, buf := range b.objects {
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
			infos = append(infos, domain.BlobInfo{Path: path, Size: int64(len(buf))})
		}
	}
	return infos, nil
}

func (b *memBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := b.objects[path]
	return ok, nil
}

func (b *memBlob) Delete(_ context.Context, path string) error {
	delete(b.objects, path)
	return nil
}

// fakeMatchSource serves settled matches from a map.
type fakeMatchSource struct {
	matches map[uint64]*domain.Match
}

func (f *fakeMatchSource) ListSettledBefore(_ context.Context, cutoff time.Time, _ int) ([]uint64, error) {
	var ids []uint64
	for id, m := range f.matches {
		if m.ResolvedAt != nil && m.ResolvedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeMatchSource) Get(_ context.Context, id uint64) (*domain.Match, error) {
	m, ok := f.matches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

// fakeProposalSource serves no proposals.
type fakeProposalSource struct{}

func (fakeProposalSource) ListSettledBefore(context.Context, time.Time, int) ([]uint64, error) {
	return nil, nil
}

func (fakeProposalSource) Get(context.Context, uint64) (*domain.Proposal, error) {
	return nil, domain.ErrNotFound
}

// fakeAudit counts log entries.
type fakeAudit struct {
	events []string
}

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

func settledMatch(t *testing.T, id uint64, resolvedAt time.Time) *domain.Match {
	t.Helper()
	created := resolvedAt.Add(-time.Hour)
	m, err := domain.NewMatch(id, domain.MatchParams{
		Creator:          "alice",
		FeedID:           "sol-usd",
		Type:             domain.MatchTypeFlashDuel,
		EntryFee:         1_000_000_000,
		MaxPlayers:       5,
		PredictionWindow: 2 * time.Minute,
		MatchDuration:    10 * time.Minute,
		StartingPrice:    100_000_000,
		FeeBps:           500,
	}, created)
	if err != nil {
		t.Fatalf("NewMatch: %v", err)
	}
	if err := m.Join("bob", created); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := m.SubmitPrediction("alice", domain.PredictionHigher, created); err != nil {
		t.Fatalf("SubmitPrediction alice: %v", err)
	}
	if err := m.SubmitPrediction("bob", domain.PredictionLower, created); err != nil {
		t.Fatalf("SubmitPrediction bob: %v", err)
	}
	if err := m.Resolve(101_000_000, resolvedAt); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return m
}

func TestArchiveMatchesGroupsByMonth(t *testing.T) {
	blob := newMemBlob()
	audit := &fakeAudit{}
	src := &fakeMatchSource{matches: map[uint64]*domain.Match{
		1: settledMatch(t, 1, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
		2: settledMatch(t, 2, time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)),
		3: settledMatch(t, 3, time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)),
	}}

	a := NewSettlementArchiver(blob, blob, src, fakeProposalSource{}, audit)

	cutoff := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	count, err := a.ArchiveMatches(t.Context(), cutoff)
	if err != nil {
		t.Fatalf("ArchiveMatches: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}

	march, ok := blob.objects["archive/matches/2026-03.jsonl"]
	if !ok {
		t.Fatal("march archive missing")
	}
	if _, ok := blob.objects["archive/matches/2026-04.jsonl"]; !ok {
		t.Fatal("april archive missing")
	}

	// Two JSONL lines in the march file.
	lines := 0
	sc := bufio.NewScanner(bytes.NewReader(march))
	for sc.Scan() {
		var rec matchArchiveRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		if rec.Status != string(domain.MatchStatusCompleted) {
			t.Errorf("status = %q, want completed", rec.Status)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("march lines = %d, want 2", lines)
	}

	if len(audit.events) != 2 {
		t.Errorf("audit events = %d, want 2", len(audit.events))
	}
}

func TestArchiveMatchesSkipsCompleteMonths(t *testing.T) {
	blob := newMemBlob()
	src := &fakeMatchSource{matches: map[uint64]*domain.Match{
		1: settledMatch(t, 1, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
	}}
	a := NewSettlementArchiver(blob, blob, src, fakeProposalSource{}, &fakeAudit{})

	cutoff := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	if _, err := a.ArchiveMatches(t.Context(), cutoff); err != nil {
		t.Fatalf("first run: %v", err)
	}
	count, err := a.ArchiveMatches(t.Context(), cutoff)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if count != 0 {
		t.Errorf("second run count = %d, want 0", count)
	}
	if blob.puts != 1 {
		t.Errorf("puts = %d, want 1 (complete month rewritten)", blob.puts)
	}
}

func TestArchiveMatchesRewritesCutoffMonth(t *testing.T) {
	resolved := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	blob := newMemBlob()
	src := &fakeMatchSource{matches: map[uint64]*domain.Match{
		1: settledMatch(t, 1, resolved),
	}}
	a := NewSettlementArchiver(blob, blob, src, fakeProposalSource{}, &fakeAudit{})

	// Cutoff inside the same month: the month is not complete, so each run
	// rewrites the file.
	cutoff := time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		if _, err := a.ArchiveMatches(t.Context(), cutoff); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if blob.puts != 2 {
		t.Errorf("puts = %d, want 2", blob.puts)
	}
}
