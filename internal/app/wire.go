package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fateprotocol/fate-engine/internal/archive"
	s3blob "github.com/fateprotocol/fate-engine/internal/blob/s3"
	"github.com/fateprotocol/fate-engine/internal/cache/redis"
	"github.com/fateprotocol/fate-engine/internal/config"
	"github.com/fateprotocol/fate-engine/internal/domain"
	"github.com/fateprotocol/fate-engine/internal/notify"
	"github.com/fateprotocol/fate-engine/internal/oracle"
	"github.com/fateprotocol/fate-engine/internal/oracle/pyth"
	"github.com/fateprotocol/fate-engine/internal/server/handler"
	"github.com/fateprotocol/fate-engine/internal/service"
	"github.com/fateprotocol/fate-engine/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Matches   domain.MatchStore
	Proposals domain.ProposalStore
	Sequences domain.SequenceStore
	Stats     domain.PlayerStatsStore
	Audit     domain.AuditStore
	Treasury  domain.Treasury

	// Redis-backed infrastructure
	Locks       domain.LockManager
	PriceCache  domain.PriceCache
	EventBus    domain.EventBus
	RateLimiter domain.RateLimiter

	// Oracle
	Oracle domain.OracleResolver

	// Services
	MatchSvc    *service.MatchService
	ProposalSvc *service.ProposalService
	Resolver    *service.Resolver

	// Archival. Nil unless the archive is enabled in a sweeping mode.
	ArchiveRunner *archive.Runner

	// Notifications
	Notifier *notify.Notifier

	// Health probes exposed by the API
	Pingers map[string]handler.Pinger
}

// needsArchive returns true when this process should run the settlement
// archive. The server mode never archives; that belongs to the sweeper.
func needsArchive(cfg *config.Config) bool {
	if !cfg.Archive.Enabled {
		return false
	}
	switch strings.ToLower(cfg.Mode) {
	case "resolver", "full":
		return true
	default:
		return false
	}
}

// s3Pinger adapts the S3 client's HeadBucket health check to the Pinger shape
// the health endpoint expects.
type s3Pinger struct {
	c *s3blob.Client
}

func (p s3Pinger) Ping(ctx context.Context) error {
	return p.c.Health(ctx)
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Pingers: make(map[string]handler.Pinger),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Pingers["postgres"] = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Matches = postgres.NewMatchStore(pool)
	deps.Proposals = postgres.NewProposalStore(pool)
	deps.Sequences = postgres.NewSequenceStore(pool)
	deps.Stats = postgres.NewPlayerStatsStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)
	deps.Treasury = postgres.NewTreasuryStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Pingers["redis"] = redisClient

	deps.Locks = redis.NewLockManager(redisClient)
	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Oracle.MaxStaleness.Duration)
	deps.EventBus = redis.NewEventBus(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- Oracle ---
	hermes := pyth.NewClient(cfg.Oracle.HermesURL, cfg.Oracle.MaxStaleness.Duration, cfg.Oracle.MaxConfidenceBps)
	deps.Oracle = oracle.NewCachedResolver(hermes, deps.PriceCache, cfg.Oracle.MaxStaleness.Duration, logger)

	// --- Services ---
	deps.MatchSvc = service.NewMatchService(
		deps.Matches, deps.Sequences, deps.Locks, deps.Oracle,
		deps.Stats, deps.Treasury, deps.EventBus, deps.Audit,
		service.MatchConfig{
			FeeBps:              cfg.Protocol.FeeBps(),
			MinEntryFee:         cfg.Protocol.MinEntryFee,
			MaxEntryFee:         cfg.Protocol.MaxEntryFee,
			MinPlayers:          cfg.Protocol.MinPlayers,
			MaxPlayers:          cfg.Protocol.MaxPlayers,
			MinPredictionWindow: cfg.Protocol.MinPredictionWindow.Duration,
			MaxMatchDuration:    cfg.Protocol.MaxMatchDuration.Duration,
			TreasuryAddress:     cfg.Protocol.TreasuryAddress,
			LockTTL:             cfg.Protocol.LockTTL.Duration,
		},
		logger,
	)
	deps.ProposalSvc = service.NewProposalService(
		deps.Proposals, deps.Sequences, deps.Locks, deps.Treasury,
		service.NewMarketRegistrar(deps.Audit, logger),
		deps.EventBus, deps.Audit,
		service.ProposalConfig{
			FeeBps:           cfg.Protocol.FeeBps(),
			ProposerBonusBps: cfg.Protocol.ProposerBonusBps,
			MinProposerStake: cfg.Protocol.MinProposerStake,
			MinVoteAmount:    cfg.Protocol.MinVoteAmount,
			MinVotingPeriod:  cfg.Protocol.MinVotingPeriod.Duration,
			MaxVotingPeriod:  cfg.Protocol.MaxVotingPeriod.Duration,
			TreasuryAddress:  cfg.Protocol.TreasuryAddress,
			LockTTL:          cfg.Protocol.LockTTL.Duration,
		},
		logger,
	)
	deps.Resolver = service.NewResolver(
		deps.Matches, deps.Proposals, deps.MatchSvc, deps.ProposalSvc,
		cfg.Resolver.BatchSize, logger,
	)

	// --- S3 settlement archive ---
	if needsArchive(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Pingers["s3"] = s3Pinger{c: s3Client}

		archiver := s3blob.NewSettlementArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Matches,
			deps.Proposals,
			deps.Audit,
		)
		deps.ArchiveRunner = archive.NewRunner(archiver, cfg.Archive.RetentionDays, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(deps.EventBus, senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
