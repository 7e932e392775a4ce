package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/invoice-memory/internal/confidence"
	"github.com/sells-group/invoice-memory/internal/pipeline"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig       `yaml:"store" mapstructure:"store"`
	Confidence confidence.Params `yaml:"confidence" mapstructure:"confidence"`
	Pipeline   PipelineConfig    `yaml:"pipeline" mapstructure:"pipeline"`
	Batch      BatchConfig       `yaml:"batch" mapstructure:"batch"`
	Log        LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// PipelineConfig configures processing behavior.
type PipelineConfig struct {
	DuplicateWindowDays int     `yaml:"duplicate_window_days" mapstructure:"duplicate_window_days"`
	POPatternThreshold  float64 `yaml:"po_pattern_threshold" mapstructure:"po_pattern_threshold"`
	POSuggestThreshold  float64 `yaml:"po_suggest_threshold" mapstructure:"po_suggest_threshold"`
	RegistryTTLHours    int     `yaml:"registry_ttl_hours" mapstructure:"registry_ttl_hours"`
}

// Options converts the file representation to pipeline options.
func (pc PipelineConfig) Options() pipeline.Options {
	return pipeline.Options{
		DuplicateWindow:    time.Duration(pc.DuplicateWindowDays) * 24 * time.Hour,
		POPatternThreshold: pc.POPatternThreshold,
		POSuggestThreshold: pc.POSuggestThreshold,
		RegistryTTL:        time.Duration(pc.RegistryTTLHours) * time.Hour,
	}
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentInvoices int `yaml:"max_concurrent_invoices" mapstructure:"max_concurrent_invoices"`
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
	v.SetEnvPrefix("INVOICE_MEMORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "invoice-memory.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("batch.max_concurrent_invoices", 5)
	v.SetDefault("pipeline.duplicate_window_days", 7)
	v.SetDefault("pipeline.po_pattern_threshold", 0.5)
	v.SetDefault("pipeline.po_suggest_threshold", 0.7)
	v.SetDefault("pipeline.registry_ttl_hours", 24)

	defaults := confidence.Default()
	v.SetDefault("confidence.max_confidence", defaults.MaxConfidence)
	v.SetDefault("confidence.reinforcement_factor", defaults.ReinforcementFactor)
	v.SetDefault("confidence.penalty_factor", defaults.PenaltyFactor)
	v.SetDefault("confidence.contradiction_penalty", defaults.ContradictionPenalty)
	v.SetDefault("confidence.decay_half_life_days", defaults.DecayHalfLifeDays)
	v.SetDefault("confidence.auto_apply_threshold", defaults.AutoApplyThreshold)
	v.SetDefault("confidence.suggest_threshold", defaults.SuggestThreshold)
	v.SetDefault("confidence.minimum_confidence", defaults.MinimumConfidence)
	v.SetDefault("confidence.initial_confidence", defaults.InitialConfidence)
	v.SetDefault("confidence.deactivation_limit", defaults.DeactivationLimit)

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
