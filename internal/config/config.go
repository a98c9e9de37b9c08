package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Reasoning  ReasoningConfig  `yaml:"reasoning" mapstructure:"reasoning"`
	Compliance ComplianceConfig `yaml:"compliance" mapstructure:"compliance"`
	Budget     BudgetConfig     `yaml:"budget" mapstructure:"budget"`
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	Provision  ProvisionConfig  `yaml:"provision" mapstructure:"provision"`
	Audit      AuditConfig      `yaml:"audit" mapstructure:"audit"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ReasoningConfig holds medical-reasoning service settings.
type ReasoningConfig struct {
	Key           string  `yaml:"key" mapstructure:"key"`
	Model         string  `yaml:"model" mapstructure:"model"`
	MaxTokens     int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature   float64 `yaml:"temperature" mapstructure:"temperature"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	InputPerMTok  float64 `yaml:"input_per_mtok" mapstructure:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok" mapstructure:"output_per_mtok"`
	BaseCallUSD   float64 `yaml:"base_call_usd" mapstructure:"base_call_usd"`
}

// ComplianceConfig holds governance service settings.
type ComplianceConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	PerCheckUSD float64 `yaml:"per_check_usd" mapstructure:"per_check_usd"`
}

// BudgetConfig holds session cost limits.
type BudgetConfig struct {
	LimitUSD float64 `yaml:"limit_usd" mapstructure:"limit_usd"`
	WarnUSD  float64 `yaml:"warn_usd" mapstructure:"warn_usd"`
}

// SessionConfig configures session processing behavior.
type SessionConfig struct {
	MaxConcurrentClaims  int `yaml:"max_concurrent_claims" mapstructure:"max_concurrent_claims"`
	ProvisionTimeoutSecs int `yaml:"provision_timeout_secs" mapstructure:"provision_timeout_secs"`
	RetryMaxAttempts     int `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
}

// ProvisionConfig configures the demonstration environment service.
// An empty base URL selects the no-op local provisioner.
type ProvisionConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Key     string `yaml:"key" mapstructure:"key"`
}

// AuditConfig configures audit trail delivery. An empty webhook URL
// sends audit events to the process log only.
type AuditConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ProvisionTimeout returns the configured provisioning timeout.
func (c SessionConfig) ProvisionTimeout() time.Duration {
	return time.Duration(c.ProvisionTimeoutSecs) * time.Second
}

// Timeout returns the per-call reasoning timeout.
func (c ReasoningConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Timeout returns the per-call compliance timeout.
func (c ComplianceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CLAIMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "claims.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("reasoning.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("reasoning.max_tokens", 1024)
	v.SetDefault("reasoning.temperature", 0.2)
	v.SetDefault("reasoning.timeout_secs", 30)
	v.SetDefault("reasoning.input_per_mtok", 3.00)
	v.SetDefault("reasoning.output_per_mtok", 15.00)
	v.SetDefault("reasoning.base_call_usd", 0.03)
	v.SetDefault("compliance.base_url", "https://compliance.example.com/api/v2")
	v.SetDefault("compliance.timeout_secs", 90)
	v.SetDefault("compliance.rate_per_sec", 5)
	v.SetDefault("compliance.per_check_usd", 0.10)
	v.SetDefault("budget.limit_usd", 50.00)
	v.SetDefault("budget.warn_usd", 45.00)
	v.SetDefault("session.max_concurrent_claims", 4)
	v.SetDefault("session.provision_timeout_secs", 60)
	v.SetDefault("session.retry_max_attempts", 3)

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

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Budget.LimitUSD <= 0 {
		return eris.New("config: budget.limit_usd must be positive")
	}
	if c.Budget.WarnUSD > c.Budget.LimitUSD {
		return eris.New("config: budget.warn_usd cannot exceed budget.limit_usd")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
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
