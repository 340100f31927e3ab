// Package config defines the top-level configuration for the up/down bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by UPDOWN_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Feed       FeedConfig       `toml:"feed"`
	Postgres   PostgresConfig   `toml:"postgres"`
	ClickHouse ClickHouseConfig `toml:"clickhouse"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Engine     EngineConfig     `toml:"engine"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`

	// Settings seeds the runtime trading knobs when nothing is persisted yet.
	Settings domain.Settings `toml:"settings"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	SafeAddress      string `toml:"safe_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost        string   `toml:"clob_host"`
	GammaHost       string   `toml:"gamma_host"`
	ChainID         int      `toml:"chain_id"`
	SignatureType   int      `toml:"signature_type"`
	ExchangeAddress string   `toml:"exchange_address"`
	Timeout         duration `toml:"timeout"`
	// RateLimit caps venue calls per RateWindow when Redis is configured.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// FeedConfig holds the spot price stream parameters.
type FeedConfig struct {
	WSURL   string `toml:"ws_url"`
	RESTURL string `toml:"rest_url"`
	Quote   string `toml:"quote"`
	// Window is how much trade history the book keeps for momentum.
	Window duration `toml:"window"`
	// CacheInterval is how often prices are mirrored to Redis.
	CacheInterval duration `toml:"cache_interval"`
}

// PostgresConfig holds ledger database connection parameters. An empty DSN
// and Host keep the ledger in memory.
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

// Enabled reports whether a Postgres ledger is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || p.Host != ""
}

// ClickHouseConfig holds the snapshot analytics connection.
type ClickHouseConfig struct {
	DSN string `toml:"dsn"`
}

// RedisConfig holds Redis connection parameters. An empty Addr disables Redis.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	LockTTL    duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters. An empty Bucket
// disables archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the daily ledger export.
type ArchiveConfig struct {
	Prefix       string   `toml:"prefix"`
	BackfillDays int      `toml:"backfill_days"`
	Interval     duration `toml:"interval"`
}

// EngineConfig holds the orchestrator timers.
type EngineConfig struct {
	TickInterval      duration `toml:"tick_interval"`
	StructureInterval duration `toml:"structure_interval"`
	ScanInterval      duration `toml:"scan_interval"`
	BroadcastInterval duration `toml:"broadcast_interval"`
	CallTimeout       duration `toml:"call_timeout"`
	AutoStart         bool     `toml:"auto_start"`
	SettingsTTL       duration `toml:"settings_ttl"`
	DedupTTL          duration `toml:"dedup_ttl"`
	RetryAttempts     int      `toml:"retry_attempts"`
	RetryBaseDelay    duration `toml:"retry_base_delay"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Levels            []string `toml:"levels"`
	Prefix            string   `toml:"prefix"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:        "https://clob.polymarket.com",
			GammaHost:       "https://gamma-api.polymarket.com",
			ChainID:         137,
			SignatureType:   2,
			ExchangeAddress: "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
			Timeout:         duration{10 * time.Second},
			RateLimit:       60,
			RateWindow:      duration{10 * time.Second},
		},
		Feed: FeedConfig{
			WSURL:         "wss://stream.binance.com:9443",
			RESTURL:       "https://api.binance.com",
			Quote:         "usdt",
			Window:        duration{5 * time.Minute},
			CacheInterval: duration{2 * time.Second},
		},
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "updown",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
			LockTTL:    duration{30 * time.Second},
		},
		S3: S3Config{
			Region: "us-east-1",
			UseSSL: true,
		},
		Archive: ArchiveConfig{
			Prefix:       "trades",
			BackfillDays: 3,
			Interval:     duration{time.Hour},
		},
		Engine: EngineConfig{
			TickInterval:      duration{3 * time.Second},
			StructureInterval: duration{30 * time.Second},
			ScanInterval:      duration{5 * time.Second},
			BroadcastInterval: duration{2 * time.Second},
			CallTimeout:       duration{10 * time.Second},
			AutoStart:         true,
			SettingsTTL:       duration{30 * time.Second},
			DedupTTL:          duration{30 * time.Second},
			RetryAttempts:     3,
			RetryBaseDelay:    duration{500 * time.Millisecond},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"*"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			Levels: []string{"warn", "error"},
			Prefix: "[updown]",
		},
		Mode:     "trade",
		LogLevel: "info",
		Settings: domain.DefaultSettings(),
	}
}

var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"server":  true,
}

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
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Live trading needs a signing key; paper trading does not.
	if strings.EqualFold(c.Mode, "trade") && !c.Settings.PaperTrading {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for live trading")
		}
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType < 0 || c.Polymarket.SignatureType > 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 0, 1 or 2, got %d", c.Polymarket.SignatureType))
	}
	if c.Polymarket.RateLimit < 0 {
		errs = append(errs, "polymarket: rate_limit must be >= 0")
	}

	if c.Feed.WSURL == "" && !strings.EqualFold(c.Mode, "server") {
		errs = append(errs, "feed: ws_url must not be empty")
	}
	if c.Feed.Window.Duration <= 0 {
		errs = append(errs, "feed: window must be > 0")
	}

	if c.Postgres.Enabled() {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Redis.Addr != "" {
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration < time.Second {
			errs = append(errs, "redis: lock_ttl must be at least 1s")
		}
	}

	if c.S3.Bucket != "" {
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.BackfillDays < 0 {
			errs = append(errs, "archive: backfill_days must be >= 0")
		}
	}

	e := c.Engine
	for name, d := range map[string]time.Duration{
		"tick_interval":      e.TickInterval.Duration,
		"structure_interval": e.StructureInterval.Duration,
		"scan_interval":      e.ScanInterval.Duration,
		"broadcast_interval": e.BroadcastInterval.Duration,
		"call_timeout":       e.CallTimeout.Duration,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("engine: %s must be > 0", name))
		}
	}
	if e.RetryAttempts < 1 {
		errs = append(errs, "engine: retry_attempts must be >= 1")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	} else if strings.EqualFold(c.Mode, "server") {
		errs = append(errs, "server: must be enabled in server mode")
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(c.Settings.EnabledAssets) == 0 && len(c.Settings.ArbEnabledAssets) == 0 {
		errs = append(errs, "settings: enabled_assets or arb_enabled_assets must list at least one asset")
	}
	if c.Settings.Bankroll <= 0 {
		errs = append(errs, "settings: bankroll must be > 0")
	}
	if c.Settings.BuyAmount < 0 || c.Settings.MaxTotalExposure < 0 {
		errs = append(errs, "settings: buy_amount and max_total_exposure must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
