package archive

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

// fakeSettlementArchiver records the cutoffs it was asked to archive.
type fakeSettlementArchiver struct {
	matchCutoff    time.Time
	proposalCutoff time.Time
	matchErr       error
	matchCount     int64
	proposalCount  int64
}

func (f *fakeSettlementArchiver) ArchiveMatches(_ context.Context, before time.Time) (int64, error) {
	f.matchCutoff = before
	return f.matchCount, f.matchErr
}

func (f *fakeSettlementArchiver) ArchiveProposals(_ context.Context, before time.Time) (int64, error) {
	f.proposalCutoff = before
	return f.proposalCount, nil
}

func TestRunUsesRetentionCutoff(t *testing.T) {
	fake := &fakeSettlementArchiver{matchCount: 3, proposalCount: 1}
	r := NewRunner(fake, 90, slog.New(slog.DiscardHandler))

	if err := r.Run(t.Context()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := time.Now().UTC().AddDate(0, 0, -90)
	if diff := fake.matchCutoff.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Errorf("match cutoff = %v, want about %v", fake.matchCutoff, want)
	}
	if !fake.matchCutoff.Equal(fake.proposalCutoff) {
		t.Errorf("cutoffs differ: %v vs %v", fake.matchCutoff, fake.proposalCutoff)
	}
}

func TestRunPropagatesArchiveError(t *testing.T) {
	fake := &fakeSettlementArchiver{matchErr: errors.New("bucket gone")}
	r := NewRunner(fake, 30, slog.New(slog.DiscardHandler))

	if err := r.Run(t.Context()); err == nil {
		t.Fatal("expected error from failed match archive")
	}
	if !fake.proposalCutoff.IsZero() {
		t.Error("proposal archive should not run after match archive fails")
	}
}

func TestRunCronRejectsBadExpression(t *testing.T) {
	r := NewRunner(&fakeSettlementArchiver{}, 30, slog.New(slog.DiscardHandler))

	if err := r.RunCron(t.Context(), "not a cron"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRunCronStopsOnCancel(t *testing.T) {
	r := NewRunner(&fakeSettlementArchiver{}, 30, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- r.RunCron(ctx, "0 3 * * *")
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunCron did not stop after cancel")
	}
}
