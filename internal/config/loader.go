package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FATE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FATE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Protocol ──
	setUint16(&cfg.Protocol.PlatformFeeBps, "FATE_PROTOCOL_PLATFORM_FEE_BPS")
	setUint16(&cfg.Protocol.TreasuryFeeBps, "FATE_PROTOCOL_TREASURY_FEE_BPS")
	setUint16(&cfg.Protocol.ProposerBonusBps, "FATE_PROTOCOL_PROPOSER_BONUS_BPS")
	setUint64(&cfg.Protocol.MinEntryFee, "FATE_PROTOCOL_MIN_ENTRY_FEE")
	setUint64(&cfg.Protocol.MaxEntryFee, "FATE_PROTOCOL_MAX_ENTRY_FEE")
	setInt(&cfg.Protocol.MinPlayers, "FATE_PROTOCOL_MIN_PLAYERS")
	setInt(&cfg.Protocol.MaxPlayers, "FATE_PROTOCOL_MAX_PLAYERS")
	setDuration(&cfg.Protocol.MinPredictionWindow, "FATE_PROTOCOL_MIN_PREDICTION_WINDOW")
	setDuration(&cfg.Protocol.MaxMatchDuration, "FATE_PROTOCOL_MAX_MATCH_DURATION")
	setUint64(&cfg.Protocol.MinProposerStake, "FATE_PROTOCOL_MIN_PROPOSER_STAKE")
	setUint64(&cfg.Protocol.MinVoteAmount, "FATE_PROTOCOL_MIN_VOTE_AMOUNT")
	setDuration(&cfg.Protocol.MinVotingPeriod, "FATE_PROTOCOL_MIN_VOTING_PERIOD")
	setDuration(&cfg.Protocol.MaxVotingPeriod, "FATE_PROTOCOL_MAX_VOTING_PERIOD")
	setStr(&cfg.Protocol.TreasuryAddress, "FATE_PROTOCOL_TREASURY_ADDRESS")
	setDuration(&cfg.Protocol.LockTTL, "FATE_PROTOCOL_LOCK_TTL")

	// ── Oracle ──
	setStr(&cfg.Oracle.HermesURL, "FATE_ORACLE_HERMES_URL")
	setDuration(&cfg.Oracle.MaxStaleness, "FATE_ORACLE_MAX_STALENESS")
	setUint64(&cfg.Oracle.MaxConfidenceBps, "FATE_ORACLE_MAX_CONFIDENCE_BPS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FATE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FATE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FATE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FATE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FATE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FATE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FATE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FATE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FATE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FATE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FATE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FATE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FATE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FATE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FATE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FATE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FATE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FATE_S3_REGION")
	setStr(&cfg.S3.Bucket, "FATE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FATE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FATE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FATE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FATE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FATE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FATE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FATE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FATE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "FATE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "FATE_SERVER_RATE_LIMIT_WINDOW")

	// ── Resolver ──
	setDuration(&cfg.Resolver.Interval, "FATE_RESOLVER_INTERVAL")
	setInt(&cfg.Resolver.BatchSize, "FATE_RESOLVER_BATCH_SIZE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "FATE_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "FATE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "FATE_ARCHIVE_CRON")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FATE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FATE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FATE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FATE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FATE_MODE")
	setStr(&cfg.LogLevel, "FATE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint16(dst *uint16, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			*dst = uint16(n)
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
