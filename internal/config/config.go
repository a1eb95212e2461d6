package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/eligibility"
	"github.com/bananahana720/PHX-houses-Dec-2025-sub000/internal/scoring"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig            `yaml:"store" mapstructure:"store"`
	Criteria CriteriaConfig         `yaml:"criteria" mapstructure:"criteria"`
	Scoring  ScoringConfig          `yaml:"scoring" mapstructure:"scoring"`
	Tiers    scoring.TierThresholds `yaml:"tiers" mapstructure:"tiers"`
	Pipeline PipelineConfig         `yaml:"pipeline" mapstructure:"pipeline"`
	Retry    RetryConfig            `yaml:"retry" mapstructure:"retry"`
	Breaker  BreakerConfig          `yaml:"breaker" mapstructure:"breaker"`
	Server   ServerConfig           `yaml:"server" mapstructure:"server"`
	Log      LogConfig              `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the flat-file state of record and the evaluation
// archive.
type StoreConfig struct {
	PropertyFile string `yaml:"property_file" mapstructure:"property_file"`
	SessionFile  string `yaml:"session_file" mapstructure:"session_file"`
	ArchiveDSN   string `yaml:"archive_dsn" mapstructure:"archive_dsn"`
}

// CriteriaConfig points at an optional eligibility criteria file. When Path
// is empty the built-in defaults apply.
type CriteriaConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ScoringConfig points at an optional strategy weights file. When Path is
// empty the built-in defaults apply.
type ScoringConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PipelineConfig configures batch execution behavior.
type PipelineConfig struct {
	InboxDir         string  `yaml:"inbox_dir" mapstructure:"inbox_dir"`
	StaleTimeoutMins int     `yaml:"stale_timeout_mins" mapstructure:"stale_timeout_mins"`
	PairTimeoutMins  int     `yaml:"pair_timeout_mins" mapstructure:"pair_timeout_mins"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// RetryConfig configures the retry policy for acquisition calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// BreakerConfig configures per-source circuit breaking.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the read-only snapshot server.
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
	v.SetEnvPrefix("PHX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.property_file", "data/properties.json")
	v.SetDefault("store.session_file", "data/session.json")
	v.SetDefault("store.archive_dsn", "data/evaluations.db")
	v.SetDefault("tiers.upper", 80)
	v.SetDefault("tiers.lower", 60)
	v.SetDefault("pipeline.inbox_dir", "data/inbox")
	v.SetDefault("pipeline.stale_timeout_mins", 30)
	v.SetDefault("pipeline.pair_timeout_mins", 10)
	v.SetDefault("pipeline.rate_per_sec", 2.0)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.jitter_fraction", 0.1)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout_secs", 30)
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

	if err := scoring.ValidateTiers(cfg.Tiers); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadCriteria returns the eligibility criteria: the configured file when one
// is set, otherwise the shipped defaults. A criteria file that fails
// validation blocks startup; the system never evaluates against a half-read
// criteria set.
func (c *Config) LoadCriteria() (eligibility.Config, error) {
	if c.Criteria.Path == "" {
		return eligibility.Default(), nil
	}
	return eligibility.LoadFile(c.Criteria.Path)
}

// LoadWeights returns the strategy weights: the configured file when one is
// set, otherwise the shipped defaults.
func (c *Config) LoadWeights() (scoring.WeightsConfig, error) {
	if c.Scoring.Path == "" {
		return scoring.DefaultWeights(), nil
	}
	return scoring.LoadWeightsFile(c.Scoring.Path)
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
