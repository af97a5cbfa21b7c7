// Package config defines the top-level configuration for the settlement
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FATE_* environment variables.
type Config struct {
	Protocol ProtocolConfig `toml:"protocol"`
	Oracle   OracleConfig   `toml:"oracle"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Resolver ResolverConfig `toml:"resolver"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ProtocolConfig holds the economic parameters of the engine. Fees are basis
// points of the losing pool; amounts are lamports.
type ProtocolConfig struct {
	PlatformFeeBps      uint16   `toml:"platform_fee_bps"`
	TreasuryFeeBps      uint16   `toml:"treasury_fee_bps"`
	ProposerBonusBps    uint16   `toml:"proposer_bonus_bps"`
	MinEntryFee         uint64   `toml:"min_entry_fee"`
	MaxEntryFee         uint64   `toml:"max_entry_fee"`
	MinPlayers          int      `toml:"min_players"`
	MaxPlayers          int      `toml:"max_players"`
	MinPredictionWindow duration `toml:"min_prediction_window"`
	MaxMatchDuration    duration `toml:"max_match_duration"`
	MinProposerStake    uint64   `toml:"min_proposer_stake"`
	MinVoteAmount       uint64   `toml:"min_vote_amount"`
	MinVotingPeriod     duration `toml:"min_voting_period"`
	MaxVotingPeriod     duration `toml:"max_voting_period"`
	TreasuryAddress     string   `toml:"treasury_address"`
	LockTTL             duration `toml:"lock_ttl"`
}

// FeeBps is the combined protocol fee applied to losing pools.
func (p ProtocolConfig) FeeBps() uint16 {
	return p.PlatformFeeBps + p.TreasuryFeeBps
}

// OracleConfig holds Pyth Hermes parameters and the fail-closed gates.
type OracleConfig struct {
	HermesURL        string   `toml:"hermes_url"`
	MaxStaleness     duration `toml:"max_staleness"`
	MaxConfidenceBps uint64   `toml:"max_confidence_bps"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the settlement
// archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects mutating endpoints. Empty disables authentication.
	APIKey string `toml:"api_key"`
	// RateLimit is the per-client request budget per RateLimitWindow.
	// Zero disables rate limiting.
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// ResolverConfig holds the background settlement sweep parameters.
type ResolverConfig struct {
	Interval  duration `toml:"interval"`
	BatchSize int      `toml:"batch_size"`
}

// ArchiveConfig holds the settlement report archival parameters.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the protocol's canonical values:
// a 2.5% platform plus 1% treasury fee on losing pools, entry fees between
// 0.001 and 10 SOL, 2-10 players, a 1 SOL proposer stake, and a 30-second
// oracle staleness gate at 100 bps maximum confidence.
func Defaults() Config {
	return Config{
		Protocol: ProtocolConfig{
			PlatformFeeBps:      250,
			TreasuryFeeBps:      100,
			ProposerBonusBps:    100,
			MinEntryFee:         1_000_000,
			MaxEntryFee:         10_000_000_000,
			MinPlayers:          2,
			MaxPlayers:          10,
			MinPredictionWindow: duration{30 * time.Second},
			MaxMatchDuration:    duration{24 * time.Hour},
			MinProposerStake:    1_000_000_000,
			MinVoteAmount:       1_000_000,
			MinVotingPeriod:     duration{time.Hour},
			MaxVotingPeriod:     duration{7 * 24 * time.Hour},
			TreasuryAddress:     "treasury",
			LockTTL:             duration{10 * time.Second},
		},
		Oracle: OracleConfig{
			HermesURL:        "https://hermes.pyth.network",
			MaxStaleness:     duration{30 * time.Second},
			MaxConfidenceBps: 100,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Resolver: ResolverConfig{
			Interval:  duration{10 * time.Second},
			BatchSize: 50,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 * * *",
		},
		Notify: NotifyConfig{
			Events: []string{"match_resolved", "proposal_resolved", "proposal_executed", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":   true,
	"resolver": true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, resolver, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Protocol
	p := c.Protocol
	if p.FeeBps() >= 10_000 {
		errs = append(errs, fmt.Sprintf("protocol: combined fee must be under 10000 bps, got %d", p.FeeBps()))
	}
	if p.MinEntryFee == 0 {
		errs = append(errs, "protocol: min_entry_fee must be positive")
	}
	if p.MaxEntryFee < p.MinEntryFee {
		errs = append(errs, "protocol: max_entry_fee must not be below min_entry_fee")
	}
	if p.MinPlayers < 2 {
		errs = append(errs, "protocol: min_players must be >= 2")
	}
	if p.MaxPlayers < p.MinPlayers {
		errs = append(errs, "protocol: max_players must not be below min_players")
	}
	if p.MinPredictionWindow.Duration <= 0 {
		errs = append(errs, "protocol: min_prediction_window must be positive")
	}
	if p.MaxMatchDuration.Duration < p.MinPredictionWindow.Duration {
		errs = append(errs, "protocol: max_match_duration must not be below min_prediction_window")
	}
	if p.MinVotingPeriod.Duration <= 0 || p.MaxVotingPeriod.Duration < p.MinVotingPeriod.Duration {
		errs = append(errs, "protocol: voting period bounds must be positive and ordered")
	}
	if p.TreasuryAddress == "" {
		errs = append(errs, "protocol: treasury_address must not be empty")
	}
	if p.LockTTL.Duration <= 0 {
		errs = append(errs, "protocol: lock_ttl must be positive")
	}

	// Oracle
	if c.Oracle.HermesURL == "" {
		errs = append(errs, "oracle: hermes_url must not be empty")
	}
	if c.Oracle.MaxStaleness.Duration <= 0 {
		errs = append(errs, "oracle: max_staleness must be positive")
	}
	if c.Oracle.MaxConfidenceBps == 0 {
		errs = append(errs, "oracle: max_confidence_bps must be positive")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 only matters when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty when archive is enabled")
		}
	}

	// Resolver
	if c.Resolver.Interval.Duration <= 0 {
		errs = append(errs, "resolver: interval must be positive")
	}
	if c.Resolver.BatchSize < 1 {
		errs = append(errs, "resolver: batch_size must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
			errs = append(errs, "server: rate_limit_window must be positive when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
