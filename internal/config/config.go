// Package config loads application configuration from file and environment.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Warehouse  WarehouseConfig  `yaml:"warehouse" mapstructure:"warehouse"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Freshness  FreshnessConfig  `yaml:"freshness" mapstructure:"freshness"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Enrichment EnrichmentConfig `yaml:"enrichment" mapstructure:"enrichment"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the profile database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	StaleDays   int    `yaml:"stale_days" mapstructure:"stale_days"`
}

// WarehouseConfig points at the analytical warehouse the financial and
// network providers and the freshness probe read from.
type WarehouseConfig struct {
	DatabaseURL string   `yaml:"database_url" mapstructure:"database_url"`
	Tables      []string `yaml:"tables" mapstructure:"tables"`
}

// CacheConfig configures the in-process front cache.
type CacheConfig struct {
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries"`
	TTLMinutes int `yaml:"ttl_minutes" mapstructure:"ttl_minutes"`
}

// FreshnessConfig configures upstream staleness and cadence thresholds.
type FreshnessConfig struct {
	StaleThresholdHours int `yaml:"stale_threshold_hours" mapstructure:"stale_threshold_hours"`
	CadenceWindowDays   int `yaml:"cadence_window_days" mapstructure:"cadence_window_days"`
	MaxEntityScan       int `yaml:"max_entity_scan" mapstructure:"max_entity_scan"`
}

// SchedulerConfig configures the refresh loop.
type SchedulerConfig struct {
	BatchLimit      int `yaml:"batch_limit" mapstructure:"batch_limit"`
	Concurrency     int `yaml:"concurrency" mapstructure:"concurrency"`
	MinIntervalMins int `yaml:"min_interval_mins" mapstructure:"min_interval_mins"`
}

// EnrichmentConfig holds the firmographic API settings.
type EnrichmentConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// AnthropicConfig holds Anthropic API settings for insight generation.
type AnthropicConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	InsightsModel string `yaml:"insights_model" mapstructure:"insights_model"`
}

// ResilienceConfig configures retry and circuit breaker behavior for
// provider calls.
type ResilienceConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
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

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROFILE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "profiles.db")
	v.SetDefault("store.stale_days", 7)
	v.SetDefault("warehouse.tables", []string{"award_facts", "recipient_summaries", "recipient_relationships"})
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.ttl_minutes", 5)
	v.SetDefault("freshness.stale_threshold_hours", 48)
	v.SetDefault("freshness.cadence_window_days", 60)
	v.SetDefault("freshness.max_entity_scan", 1000)
	v.SetDefault("scheduler.batch_limit", 500)
	v.SetDefault("scheduler.concurrency", 10)
	v.SetDefault("scheduler.min_interval_mins", 15)
	v.SetDefault("enrichment.key", "")
	v.SetDefault("enrichment.base_url", "https://api.companydata.io/v2")
	v.SetDefault("enrichment.rate_limit", 5.0)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.insights_model", "claude-haiku-4-5-20251001")
	v.SetDefault("store.database_url", "")
	v.SetDefault("warehouse.database_url", "")
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 30000)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.jitter_fraction", 0.25)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 60)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
