package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fateprotocol/fate-engine/internal/server"
	"github.com/fateprotocol/fate-engine/internal/server/handler"
	"github.com/fateprotocol/fate-engine/internal/server/ws"
)

// ServerMode runs the HTTP API and WebSocket event stream without the
// background settlement sweep. Settlement still happens when callers hit the
// resolve endpoints; pair this mode with a separate resolver process.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startNotifier(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// ResolverMode runs the background settlement sweep and, when enabled, the
// settlement archive. No HTTP API is served.
func (a *App) ResolverMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting resolver mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startNotifier(ctx, g, deps)
	a.startResolver(ctx, g, deps)
	a.startArchive(ctx, g, deps)

	return g.Wait()
}

// FullMode runs everything in one process: the HTTP API, the settlement
// sweep, the archive, and notifications.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startNotifier(ctx, g, deps)
	a.startResolver(ctx, g, deps)
	a.startArchive(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	} else {
		a.logger.WarnContext(ctx, "server.enabled is false, HTTP API not started")
	}

	return g.Wait()
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server shuts down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.EventBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(
		server.Config{
			Port:            a.cfg.Server.Port,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			APIKey:          a.cfg.Server.APIKey,
			RateLimit:       a.cfg.Server.RateLimit,
			RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
		},
		server.Handlers{
			Health:    handler.NewHealthHandler(deps.Pingers, a.logger),
			Matches:   handler.NewMatchHandler(deps.MatchSvc, a.logger),
			Proposals: handler.NewProposalHandler(deps.ProposalSvc, a.logger),
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startResolver adds the periodic settlement sweep to the errgroup.
func (a *App) startResolver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	interval := a.cfg.Resolver.Interval.Duration
	g.Go(func() error {
		return deps.Resolver.RunLoop(ctx, interval)
	})
}

// startArchive adds the cron-scheduled settlement archive to the errgroup
// when archival is wired for this mode.
func (a *App) startArchive(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.ArchiveRunner == nil {
		return
	}
	cronExpr := a.cfg.Archive.Cron
	g.Go(func() error {
		return deps.ArchiveRunner.RunCron(ctx, cronExpr)
	})
}

// startNotifier adds the event notifier to the errgroup. With no senders
// configured it idles until shutdown.
func (a *App) startNotifier(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return deps.Notifier.Run(ctx)
	})
}
