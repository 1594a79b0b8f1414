package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/leadextract/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	HighLevel  HighLevelConfig  `yaml:"highlevel" mapstructure:"highlevel"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Wallet     WalletConfig     `yaml:"wallet" mapstructure:"wallet"`
	Billing    BillingConfig    `yaml:"billing" mapstructure:"billing"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Token      TokenConfig      `yaml:"token" mapstructure:"token"`
	Report     ReportConfig     `yaml:"report" mapstructure:"report"`
	SSO        SSOConfig        `yaml:"sso" mapstructure:"sso"`
	Pricing    cost.Rates       `yaml:"pricing" mapstructure:"pricing"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// HighLevelConfig holds CRM API and OAuth app settings.
type HighLevelConfig struct {
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	TokenURL     string  `yaml:"token_url" mapstructure:"token_url"`
	ClientID     string  `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string  `yaml:"client_secret" mapstructure:"client_secret"`
	APIVersion   string  `yaml:"api_version" mapstructure:"api_version"`
	RateRPS      float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
}

// AnthropicConfig holds LLM API settings.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// WalletConfig holds wallet API settings for metered billing. The breaker
// knobs gate the has-funds check so a wallet outage degrades to
// log-and-proceed instead of stalling every overage message.
type WalletConfig struct {
	BaseURL             string `yaml:"base_url" mapstructure:"base_url"`
	Key                 string `yaml:"key" mapstructure:"key"`
	AppID               string `yaml:"app_id" mapstructure:"app_id"`
	DirectMeterID       string `yaml:"direct_meter_id" mapstructure:"direct_meter_id"`
	AgencyMeterID       string `yaml:"agency_meter_id" mapstructure:"agency_meter_id"`
	BreakerFailures     int    `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSeconds int    `yaml:"breaker_reset_seconds" mapstructure:"breaker_reset_seconds"`
}

// BreakerReset returns the circuit breaker reset timeout as a duration.
func (c WalletConfig) BreakerReset() time.Duration {
	return time.Duration(c.BreakerResetSeconds) * time.Second
}

// BillingConfig configures quota and customer pricing.
type BillingConfig struct {
	DefaultMonthlyQuota int     `yaml:"default_monthly_quota" mapstructure:"default_monthly_quota"`
	DirectUnitPrice     float64 `yaml:"direct_unit_price" mapstructure:"direct_unit_price"`
	AgencyUnitPrice     float64 `yaml:"agency_unit_price" mapstructure:"agency_unit_price"`
}

// ExtractionConfig configures eligibility and transcript bounds.
type ExtractionConfig struct {
	Channels        []string `yaml:"channels" mapstructure:"channels"`
	TranscriptLimit int      `yaml:"transcript_limit" mapstructure:"transcript_limit"`
	AuditLimit      int      `yaml:"audit_limit" mapstructure:"audit_limit"`
}

// TokenConfig configures OAuth refresh thresholds and the sweep.
type TokenConfig struct {
	RefreshThresholdHours int    `yaml:"refresh_threshold_hours" mapstructure:"refresh_threshold_hours"`
	SweepThresholdHours   int    `yaml:"sweep_threshold_hours" mapstructure:"sweep_threshold_hours"`
	SweepCron             string `yaml:"sweep_cron" mapstructure:"sweep_cron"`
	SweepConcurrency      int    `yaml:"sweep_concurrency" mapstructure:"sweep_concurrency"`
	SweepRetries          int    `yaml:"sweep_retries" mapstructure:"sweep_retries"`
}

// ReportConfig configures the monthly usage report export.
type ReportConfig struct {
	OutputDir   string `yaml:"output_dir" mapstructure:"output_dir"`
	FTPURL      string `yaml:"ftp_url" mapstructure:"ftp_url"` // ftp://host[:port]/path; empty disables delivery
	FTPUser     string `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPassword string `yaml:"ftp_password" mapstructure:"ftp_password"`
}

// SSOConfig holds the shared secret for admin-UI session decryption.
type SSOConfig struct {
	SharedSecret string `yaml:"shared_secret" mapstructure:"shared_secret"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RefreshThreshold returns the billing-path refresh window as a duration.
func (c TokenConfig) RefreshThreshold() time.Duration {
	return time.Duration(c.RefreshThresholdHours) * time.Hour
}

// SweepThreshold returns the sweep refresh window as a duration.
func (c TokenConfig) SweepThreshold() time.Duration {
	return time.Duration(c.SweepThresholdHours) * time.Hour
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADEXTRACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("highlevel.base_url", "https://services.leadconnectorhq.com")
	v.SetDefault("highlevel.token_url", "https://services.leadconnectorhq.com/oauth/token")
	v.SetDefault("highlevel.api_version", "2021-07-28")
	v.SetDefault("highlevel.rate_rps", 10)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.temperature", 0.1)
	v.SetDefault("wallet.base_url", "https://services.leadconnectorhq.com")
	v.SetDefault("wallet.breaker_failures", 5)
	v.SetDefault("wallet.breaker_reset_seconds", 30)
	v.SetDefault("billing.default_monthly_quota", 100)
	v.SetDefault("billing.direct_unit_price", 0.03)
	v.SetDefault("billing.agency_unit_price", 0.02)
	v.SetDefault("extraction.channels", []string{"sms", "live_chat", "facebook", "instagram", "whatsapp", "gmb", "custom"})
	v.SetDefault("extraction.transcript_limit", 20)
	v.SetDefault("extraction.audit_limit", 50)
	v.SetDefault("token.refresh_threshold_hours", 1)
	v.SetDefault("token.sweep_threshold_hours", 24)
	v.SetDefault("token.sweep_cron", "0 3 * * *")
	v.SetDefault("token.sweep_concurrency", 4)
	v.SetDefault("token.sweep_retries", 3)
	v.SetDefault("report.output_dir", ".")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes: "serve"
// (webhook server), "sweep" (credential refresh), "offline" (store-only
// commands). It reports every missing key at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	need := func(val, key string) {
		if val == "" {
			problems = append(problems, key+" is required")
		}
	}

	if c.Store.Driver == "postgres" {
		need(c.Store.DatabaseURL, "store.database_url")
	}

	switch mode {
	case "serve":
		need(c.Anthropic.Key, "anthropic.key")
		need(c.HighLevel.ClientID, "highlevel.client_id")
		need(c.HighLevel.ClientSecret, "highlevel.client_secret")
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "sweep":
		need(c.HighLevel.ClientID, "highlevel.client_id")
		need(c.HighLevel.ClientSecret, "highlevel.client_secret")
		if c.Token.SweepConcurrency < 1 || c.Token.SweepConcurrency > 32 {
			problems = append(problems, "token.sweep_concurrency must be between 1 and 32")
		}
	case "offline":
		// Store-only commands need nothing beyond the database.
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
