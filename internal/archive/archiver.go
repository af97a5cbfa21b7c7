// Package archive schedules cold-storage archival of settled matches and
// proposals.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// SettlementArchiver copies settled entities older than a cutoff to cold
// storage. Implemented by the s3blob package.
type SettlementArchiver interface {
	ArchiveMatches(ctx context.Context, before time.Time) (int64, error)
	ArchiveProposals(ctx context.Context, before time.Time) (int64, error)
}

// Runner executes archive runs, either once or on a cron schedule.
type Runner struct {
	archiver      SettlementArchiver
	retentionDays int
	logger        *slog.Logger
}

// NewRunner creates a Runner that archives entities settled more than
// retentionDays ago.
func NewRunner(archiver SettlementArchiver, retentionDays int, logger *slog.Logger) *Runner {
	return &Runner{
		archiver:      archiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive run with the cutoff derived from the
// retention window.
func (r *Runner) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -r.retentionDays)
	r.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", r.retentionDays),
	)

	matches, err := r.archiver.ArchiveMatches(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive: matches before %v: %w", cutoff, err)
	}

	proposals, err := r.archiver.ArchiveProposals(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive: proposals before %v: %w", cutoff, err)
	}

	r.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("matches_archived", matches),
		slog.Int64("proposals_archived", proposals),
	)
	return nil
}

// RunCron runs the archiver on a standard 5-field cron schedule until the
// context is cancelled. A failed run is logged and the schedule continues.
func (r *Runner) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return fmt.Errorf("archive: parse cron %q: %w", cronExpr, err)
	}

	r.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next := sched.Next(time.Now().UTC())
		r.logger.Info("archiver waiting for next trigger",
			slog.Time("next_run", next),
		)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := r.Run(ctx); err != nil {
				r.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
