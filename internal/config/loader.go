package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies UPDOWN_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known UPDOWN_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "UPDOWN_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.SafeAddress, "UPDOWN_WALLET_SAFE_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "UPDOWN_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "UPDOWN_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "UPDOWN_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "UPDOWN_POLYMARKET_GAMMA_HOST")
	setInt(&cfg.Polymarket.ChainID, "UPDOWN_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "UPDOWN_POLYMARKET_SIGNATURE_TYPE")
	setStr(&cfg.Polymarket.ExchangeAddress, "UPDOWN_POLYMARKET_EXCHANGE_ADDRESS")
	setDuration(&cfg.Polymarket.Timeout, "UPDOWN_POLYMARKET_TIMEOUT")
	setInt(&cfg.Polymarket.RateLimit, "UPDOWN_POLYMARKET_RATE_LIMIT")
	setDuration(&cfg.Polymarket.RateWindow, "UPDOWN_POLYMARKET_RATE_WINDOW")

	// ── Feed ──
	setStr(&cfg.Feed.WSURL, "UPDOWN_FEED_WS_URL")
	setStr(&cfg.Feed.RESTURL, "UPDOWN_FEED_REST_URL")
	setStr(&cfg.Feed.Quote, "UPDOWN_FEED_QUOTE")
	setDuration(&cfg.Feed.Window, "UPDOWN_FEED_WINDOW")
	setDuration(&cfg.Feed.CacheInterval, "UPDOWN_FEED_CACHE_INTERVAL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "UPDOWN_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "UPDOWN_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "UPDOWN_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "UPDOWN_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "UPDOWN_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "UPDOWN_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "UPDOWN_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "UPDOWN_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "UPDOWN_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "UPDOWN_POSTGRES_RUN_MIGRATIONS")

	// ── ClickHouse ──
	setStr(&cfg.ClickHouse.DSN, "UPDOWN_CLICKHOUSE_DSN")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "UPDOWN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "UPDOWN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "UPDOWN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "UPDOWN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "UPDOWN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "UPDOWN_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "UPDOWN_REDIS_LOCK_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "UPDOWN_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "UPDOWN_S3_REGION")
	setStr(&cfg.S3.Bucket, "UPDOWN_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "UPDOWN_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "UPDOWN_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "UPDOWN_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "UPDOWN_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setStr(&cfg.Archive.Prefix, "UPDOWN_ARCHIVE_PREFIX")
	setInt(&cfg.Archive.BackfillDays, "UPDOWN_ARCHIVE_BACKFILL_DAYS")
	setDuration(&cfg.Archive.Interval, "UPDOWN_ARCHIVE_INTERVAL")

	// ── Engine ──
	setDuration(&cfg.Engine.TickInterval, "UPDOWN_ENGINE_TICK_INTERVAL")
	setDuration(&cfg.Engine.StructureInterval, "UPDOWN_ENGINE_STRUCTURE_INTERVAL")
	setDuration(&cfg.Engine.ScanInterval, "UPDOWN_ENGINE_SCAN_INTERVAL")
	setDuration(&cfg.Engine.BroadcastInterval, "UPDOWN_ENGINE_BROADCAST_INTERVAL")
	setDuration(&cfg.Engine.CallTimeout, "UPDOWN_ENGINE_CALL_TIMEOUT")
	setBool(&cfg.Engine.AutoStart, "UPDOWN_ENGINE_AUTO_START")
	setDuration(&cfg.Engine.SettingsTTL, "UPDOWN_ENGINE_SETTINGS_TTL")
	setDuration(&cfg.Engine.DedupTTL, "UPDOWN_ENGINE_DEDUP_TTL")
	setInt(&cfg.Engine.RetryAttempts, "UPDOWN_ENGINE_RETRY_ATTEMPTS")
	setDuration(&cfg.Engine.RetryBaseDelay, "UPDOWN_ENGINE_RETRY_BASE_DELAY")
	setBool(&cfg.Settings.PaperTrading, "UPDOWN_ENGINE_PAPER_TRADING")
	setFloat64(&cfg.Settings.Bankroll, "UPDOWN_ENGINE_BANKROLL")
	setStringSlice(&cfg.Settings.EnabledAssets, "UPDOWN_ENGINE_ASSETS")
	setStringSlice(&cfg.Settings.ArbEnabledAssets, "UPDOWN_ENGINE_ARB_ASSETS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "UPDOWN_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "UPDOWN_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "UPDOWN_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "UPDOWN_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "UPDOWN_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "UPDOWN_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "UPDOWN_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "UPDOWN_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Levels, "UPDOWN_NOTIFY_LEVELS")
	setStr(&cfg.Notify.Prefix, "UPDOWN_NOTIFY_PREFIX")

	// ── Top-level ──
	setStr(&cfg.Mode, "UPDOWN_MODE")
	setStr(&cfg.LogLevel, "UPDOWN_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
