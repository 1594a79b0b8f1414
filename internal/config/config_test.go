package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/leadextract/internal/cost"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://services.leadconnectorhq.com", cfg.HighLevel.BaseURL)
	assert.Equal(t, "https://services.leadconnectorhq.com/oauth/token", cfg.HighLevel.TokenURL)
	assert.Equal(t, "2021-07-28", cfg.HighLevel.APIVersion)
	assert.InDelta(t, 10, cfg.HighLevel.RateRPS, 0.001)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, 1024, cfg.Anthropic.MaxTokens)
	assert.InDelta(t, 0.1, cfg.Anthropic.Temperature, 0.001)
	assert.Equal(t, 100, cfg.Billing.DefaultMonthlyQuota)
	assert.Equal(t, []string{"sms", "live_chat", "facebook", "instagram", "whatsapp", "gmb", "custom"}, cfg.Extraction.Channels)
	assert.Equal(t, 20, cfg.Extraction.TranscriptLimit)
	assert.Equal(t, 50, cfg.Extraction.AuditLimit)
	assert.Equal(t, 1, cfg.Token.RefreshThresholdHours)
	assert.Equal(t, 24, cfg.Token.SweepThresholdHours)
	assert.Equal(t, "0 3 * * *", cfg.Token.SweepCron)
	assert.Equal(t, 4, cfg.Token.SweepConcurrency)
	assert.Equal(t, 3, cfg.Token.SweepRetries)
	assert.Equal(t, 5, cfg.Wallet.BreakerFailures)
	assert.Equal(t, 30, cfg.Wallet.BreakerResetSeconds)
}

func TestLoadPricingOverrides(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
pricing:
  anthropic:
    claude-haiku-4-5-20251001:
      input: 1.00
      output: 5.00
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	require.Contains(t, cfg.Pricing.Anthropic, "claude-haiku-4-5-20251001")
	assert.InDelta(t, 1.00, cfg.Pricing.Anthropic["claude-haiku-4-5-20251001"].Input, 0.001)

	merged := cost.DefaultRates().Merge(cfg.Pricing.Anthropic)
	assert.InDelta(t, 1.00, merged.Anthropic["claude-haiku-4-5-20251001"].Input, 0.001)
	// untouched model keeps its default
	assert.InDelta(t, 3.00, merged.Anthropic["claude-sonnet-4-5-20250929"].Input, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
  format: console
server:
  port: 9090
extraction:
  transcript_limit: 10
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Extraction.TranscriptLimit)
	// Defaults still apply for unset values
	assert.Equal(t, 50, cfg.Extraction.AuditLimit)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("LEADEXTRACT_STORE_DRIVER", "postgres")
	t.Setenv("LEADEXTRACT_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("LEADEXTRACT_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func validServeConfig() *Config {
	return &Config{
		Store:     StoreConfig{Driver: "sqlite"},
		Server:    ServerConfig{Port: 8080},
		HighLevel: HighLevelConfig{ClientID: "client-1", ClientSecret: "secret-1"},
		Anthropic: AnthropicConfig{Key: "sk-ant-key"},
		Token:     TokenConfig{SweepConcurrency: 4},
	}
}

func TestValidateServe_AllPresent(t *testing.T) {
	assert.NoError(t, validServeConfig().Validate("serve"))
}

func TestValidateServe_MissingFields(t *testing.T) {
	cfg := validServeConfig()
	cfg.Store.Driver = "postgres"
	cfg.Anthropic.Key = ""
	cfg.HighLevel.ClientSecret = ""

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.Contains(t, err.Error(), "highlevel.client_secret is required")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validServeConfig()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateSweep_ConcurrencyBounds(t *testing.T) {
	cfg := validServeConfig()

	cfg.Token.SweepConcurrency = 0
	err := cfg.Validate("sweep")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token.sweep_concurrency must be between 1 and 32")

	cfg.Token.SweepConcurrency = 33
	err = cfg.Validate("sweep")
	require.Error(t, err)

	cfg.Token.SweepConcurrency = 32
	assert.NoError(t, cfg.Validate("sweep"))
}

func TestValidateOffline_OnlyNeedsDatabase(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Driver: "sqlite"}}
	assert.NoError(t, cfg.Validate("offline"))

	cfg.Store.Driver = "postgres"
	err := cfg.Validate("offline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validServeConfig().Validate("replicate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestTokenThresholds(t *testing.T) {
	c := TokenConfig{RefreshThresholdHours: 1, SweepThresholdHours: 24}
	assert.Equal(t, time.Hour, c.RefreshThreshold())
	assert.Equal(t, 24*time.Hour, c.SweepThreshold())
}

func TestWalletBreakerReset(t *testing.T) {
	c := WalletConfig{BreakerResetSeconds: 45}
	assert.Equal(t, 45*time.Second, c.BreakerReset())
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	require.Error(t, err)
}
