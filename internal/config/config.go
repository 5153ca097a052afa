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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Oracle    OracleConfig    `yaml:"oracle" mapstructure:"oracle"`
	Decay     DecayConfig     `yaml:"decay" mapstructure:"decay"`
	Reward    RewardConfig    `yaml:"reward" mapstructure:"reward"`
	Measure   MeasureConfig   `yaml:"measure" mapstructure:"measure"`
	Composer  ComposerConfig  `yaml:"composer" mapstructure:"composer"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings for the LLM oracle.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// OracleConfig configures how the pipeline drives the scoring oracle.
type OracleConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// DecayConfig configures observation aggregation.
type DecayConfig struct {
	HalfLifeDays float64 `yaml:"half_life_days" mapstructure:"half_life_days"`
}

// RewardConfig configures reward scoring.
type RewardConfig struct {
	Tolerance          float64 `yaml:"tolerance" mapstructure:"tolerance"`
	BehaviorWeight     float64 `yaml:"behavior_weight" mapstructure:"behavior_weight"`
	OutcomeWeight      float64 `yaml:"outcome_weight" mapstructure:"outcome_weight"`
	ResolutionPositive float64 `yaml:"resolution_positive" mapstructure:"resolution_positive"`
	ResolutionNegative float64 `yaml:"resolution_negative" mapstructure:"resolution_negative"`
	EscalationWeight   float64 `yaml:"escalation_weight" mapstructure:"escalation_weight"`
}

// MeasureConfig configures measurement recording and its data-quality gates.
type MeasureConfig struct {
	// MinWords is the absolute floor: shorter transcripts are skipped
	// entirely, no observation written.
	MinWords int `yaml:"min_words" mapstructure:"min_words"`
	// LowSignalWords is the soft gate: below it fallback confidence is
	// capped at LowSignalConfidenceCap.
	LowSignalWords         int     `yaml:"low_signal_words" mapstructure:"low_signal_words"`
	FallbackConfidenceCap  float64 `yaml:"fallback_confidence_cap" mapstructure:"fallback_confidence_cap"`
	LowSignalConfidenceCap float64 `yaml:"low_signal_confidence_cap" mapstructure:"low_signal_confidence_cap"`
}

// ComposerConfig configures prompt composition.
type ComposerConfig struct {
	HighTrait      float64 `yaml:"high_trait" mapstructure:"high_trait"`
	LowTrait       float64 `yaml:"low_trait" mapstructure:"low_trait"`
	LowConfidence  float64 `yaml:"low_confidence" mapstructure:"low_confidence"`
	HighConfidence float64 `yaml:"high_confidence" mapstructure:"high_confidence"`
	MemoryLimit    int     `yaml:"memory_limit" mapstructure:"memory_limit"`
	RecentCalls    int     `yaml:"recent_calls" mapstructure:"recent_calls"`
	// GroupsFile optionally overrides the built-in target groups and band
	// phrasing with a YAML definition.
	GroupsFile string `yaml:"groups_file" mapstructure:"groups_file"`
}

// PipelineConfig configures batch behavior.
type PipelineConfig struct {
	Limit int `yaml:"limit" mapstructure:"limit"`
}

// ServerConfig configures the HTTP trigger surface.
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
	v.SetEnvPrefix("COACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "coach.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.temperature", 0.0)
	v.SetDefault("oracle.requests_per_minute", 60)
	v.SetDefault("oracle.max_concurrent", 4)
	v.SetDefault("decay.half_life_days", 30.0)
	v.SetDefault("reward.tolerance", 0.15)
	v.SetDefault("reward.behavior_weight", 0.4)
	v.SetDefault("reward.outcome_weight", 0.6)
	v.SetDefault("reward.resolution_positive", 0.5)
	v.SetDefault("reward.resolution_negative", -0.5)
	v.SetDefault("reward.escalation_weight", -0.6)
	v.SetDefault("measure.min_words", 20)
	v.SetDefault("measure.low_signal_words", 80)
	v.SetDefault("measure.fallback_confidence_cap", 0.4)
	v.SetDefault("measure.low_signal_confidence_cap", 0.25)
	v.SetDefault("composer.high_trait", 0.7)
	v.SetDefault("composer.low_trait", 0.3)
	v.SetDefault("composer.low_confidence", 0.35)
	v.SetDefault("composer.high_confidence", 0.75)
	v.SetDefault("composer.memory_limit", 10)
	v.SetDefault("composer.recent_calls", 5)
	v.SetDefault("pipeline.limit", 100)

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

// Validate checks tunables for internal consistency.
func (c *Config) Validate() error {
	var errs []string
	if c.Decay.HalfLifeDays <= 0 {
		errs = append(errs, "decay.half_life_days must be > 0")
	}
	if c.Reward.Tolerance < 0 || c.Reward.Tolerance > 1 {
		errs = append(errs, "reward.tolerance must be in [0, 1]")
	}
	if c.Reward.BehaviorWeight < 0 || c.Reward.OutcomeWeight < 0 {
		errs = append(errs, "reward weights must be >= 0")
	}
	if c.Reward.BehaviorWeight+c.Reward.OutcomeWeight <= 0 {
		errs = append(errs, "reward weight sum must be > 0")
	}
	if c.Measure.MinWords < 0 || c.Measure.LowSignalWords < c.Measure.MinWords {
		errs = append(errs, "measure word gates must satisfy 0 <= min_words <= low_signal_words")
	}
	if c.Measure.FallbackConfidenceCap < c.Measure.LowSignalConfidenceCap {
		errs = append(errs, "measure.fallback_confidence_cap must be >= low_signal_confidence_cap")
	}
	if c.Composer.LowConfidence > c.Composer.HighConfidence {
		errs = append(errs, "composer.low_confidence must be <= high_confidence")
	}
	if c.Composer.LowTrait > c.Composer.HighTrait {
		errs = append(errs, "composer.low_trait must be <= high_trait")
	}
	if c.Oracle.RequestsPerMinute <= 0 {
		errs = append(errs, "oracle.requests_per_minute must be > 0")
	}
	if c.Oracle.MaxConcurrent <= 0 {
		errs = append(errs, "oracle.max_concurrent must be > 0")
	}
	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
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
