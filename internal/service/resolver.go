package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fateprotocol/fate-engine/internal/domain"
)

// Resolver sweeps for matches past their resolution time and proposals past
// their voting deadline and settles them, so settlement never depends on a
// caller showing up. Each entity resolves under its own lock, which makes a
// sweep racing an external resolve call a harmless loser.
type Resolver struct {
	matches   domain.MatchStore
	proposals domain.ProposalStore
	matchSvc  *MatchService
	propSvc   *ProposalService
	batchSize int
	logger    *slog.Logger
}

// NewResolver creates a Resolver with all required dependencies.
func NewResolver(
	matches domain.MatchStore,
	proposals domain.ProposalStore,
	matchSvc *MatchService,
	propSvc *ProposalService,
	batchSize int,
	logger *slog.Logger,
) *Resolver {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Resolver{
		matches:   matches,
		proposals: proposals,
		matchSvc:  matchSvc,
		propSvc:   propSvc,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run executes a single sweep over both entity kinds.
func (r *Resolver) Run(ctx context.Context) error {
	now := time.Now().UTC()

	matchIDs, err := r.matches.ListDue(ctx, now, r.batchSize)
	if err != nil {
		return fmt.Errorf("resolver: list due matches: %w", err)
	}
	for _, id := range matchIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.matchSvc.ResolveMatch(ctx, id); err != nil {
			if skippable(err) {
				continue
			}
			r.logger.ErrorContext(ctx, "resolver: match resolution failed",
				slog.Uint64("match_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	proposalIDs, err := r.proposals.ListDue(ctx, now, r.batchSize)
	if err != nil {
		return fmt.Errorf("resolver: list due proposals: %w", err)
	}
	for _, id := range proposalIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.propSvc.ResolveProposal(ctx, id); err != nil {
			if skippable(err) {
				continue
			}
			r.logger.ErrorContext(ctx, "resolver: proposal resolution failed",
				slog.Uint64("proposal_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	if n := len(matchIDs) + len(proposalIDs); n > 0 {
		r.logger.InfoContext(ctx, "resolver: sweep complete",
			slog.Int("matches", len(matchIDs)),
			slog.Int("proposals", len(proposalIDs)),
		)
	}
	return nil
}

// RunLoop runs sweeps on a repeating interval until the context is cancelled.
func (r *Resolver) RunLoop(ctx context.Context, interval time.Duration) error {
	if err := r.Run(ctx); err != nil {
		r.logger.Error("resolver: sweep failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("resolver: loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.Run(ctx); err != nil {
				r.logger.Error("resolver: sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// skippable reports whether a per-entity resolution error is an expected
// race: someone else settled first, or holds the lock right now.
func skippable(err error) bool {
	return errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrLockHeld)
}
