package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Settings.PaperTrading)
	assert.False(t, cfg.Postgres.Enabled())
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := writeTOML(t, `
mode = "monitor"
log_level = "debug"

[engine]
tick_interval = "1s"

[redis]
addr = "localhost:6379"

[settings]
paper_trading = true
bankroll = 250.0
enabled_assets = ["btc"]
`)
	t.Setenv("UPDOWN_SERVER_PORT", "9090")
	t.Setenv("UPDOWN_ENGINE_ASSETS", "btc, eth ,")
	t.Setenv("UPDOWN_POSTGRES_DSN", "postgres://u:p@db:5432/updown")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, time.Second, cfg.Engine.TickInterval.Duration)
	// Untouched defaults survive the file decode.
	assert.Equal(t, 30*time.Second, cfg.Engine.StructureInterval.Duration)
	assert.Equal(t, 250.0, cfg.Settings.Bankroll)
	assert.Equal(t, []string{"btc", "eth"}, cfg.Settings.EnabledAssets)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Postgres.Enabled())
	require.NoError(t, cfg.Validate())
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("UPDOWN_MODE", "server")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "server", cfg.Mode)
}

func TestLoadBadDuration(t *testing.T) {
	path := writeTOML(t, "[engine]\ntick_interval = \"soon\"\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "backtest"
	cfg.LogLevel = "loud"
	cfg.Engine.TickInterval = duration{}
	cfg.Notify.TelegramToken = "t"
	cfg.Settings.Bankroll = 0

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "backtest"`)
	assert.Contains(t, msg, `unknown log_level "loud"`)
	assert.Contains(t, msg, "engine: tick_interval must be > 0")
	assert.Contains(t, msg, "telegram_chat_id")
	assert.Contains(t, msg, "bankroll")
}

func TestValidateLiveTradingNeedsKey(t *testing.T) {
	cfg := Defaults()
	cfg.Settings.PaperTrading = false
	require.ErrorContains(t, cfg.Validate(), "wallet")

	cfg.Wallet.PrivateKey = "0xabc"
	require.NoError(t, cfg.Validate())

	cfg.Mode = "monitor"
	cfg.Wallet.PrivateKey = ""
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xsecret"
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.Server.APIKey = "key"
	cfg.Notify.DiscordWebhookURL = "https://discord/hook"

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Wallet.PrivateKey)
	assert.Equal(t, redacted, out.Postgres.DSN)
	assert.Equal(t, redacted, out.Server.APIKey)
	assert.Equal(t, redacted, out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Redis.Password)

	out.Settings.EnabledAssets[0] = "doge"
	assert.Equal(t, "0xsecret", cfg.Wallet.PrivateKey)
	assert.Equal(t, domain.DefaultSettings().EnabledAssets[0], cfg.Settings.EnabledAssets[0])
}
