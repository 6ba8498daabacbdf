package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/assay-cli/internal/ingest"
	"github.com/sells-group/assay-cli/internal/matcher"
	"github.com/sells-group/assay-cli/internal/resilience"
	"github.com/sells-group/assay-cli/internal/store"
	"github.com/sells-group/assay-cli/internal/views"
	"github.com/sells-group/assay-cli/internal/workflow"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig           `yaml:"store" mapstructure:"store"`
	Entities EntitiesConfig        `yaml:"entities" mapstructure:"entities"`
	Match    matcher.Config        `yaml:"match" mapstructure:"match"`
	Ingest   ingest.Options        `yaml:"ingest" mapstructure:"ingest"`
	Views    views.Options         `yaml:"views" mapstructure:"views"`
	Merge    workflow.MergeOptions `yaml:"merge" mapstructure:"merge"`
	Server   ServerConfig          `yaml:"server" mapstructure:"server"`
	Log      LogConfig             `yaml:"log" mapstructure:"log"`
	Metrics  MetricsConfig         `yaml:"metrics" mapstructure:"metrics"`
}

// StoreConfig configures the entity registry backend.
type StoreConfig struct {
	Driver      string                 `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string                 `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig       `yaml:"pool" mapstructure:"pool"`
	Retry       resilience.RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// EntitiesConfig points at an optional seed file loaded on startup.
type EntitiesConfig struct {
	SeedFile string `yaml:"seed_file" mapstructure:"seed_file"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	RateLimit      float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst          int      `yaml:"burst" mapstructure:"burst"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ASSAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "assay.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 1)
	v.SetDefault("store.retry.max_attempts", 5)
	v.SetDefault("store.retry.initial_backoff", "250ms")
	v.SetDefault("store.retry.max_backoff", "5s")
	v.SetDefault("store.retry.multiplier", 2.0)
	v.SetDefault("store.retry.jitter_fraction", 0.2)
	v.SetDefault("match.lineage_policy", string(matcher.LineageLenient))
	v.SetDefault("match.min_alias_substring", 3)
	v.SetDefault("ingest.max_file_bytes", ingest.DefaultMaxFileBytes)
	v.SetDefault("ingest.max_rows", ingest.DefaultMaxRows)
	v.SetDefault("views.histogram_bins", 10)
	v.SetDefault("views.min_correlation_pairs", 3)
	v.SetDefault("views.sample_rows", 10)
	v.SetDefault("merge.max_rows", workflow.DefaultMaxMergeRows)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.burst", 40)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("metrics.enabled", true)

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

// Validate checks the settings a command mode depends on. Mode is "serve"
// for the HTTP API or "cli" for offline commands.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if _, err := matcher.ParseLineagePolicy(string(c.Match.LineagePolicy)); err != nil {
		problems = append(problems, "match.lineage_policy must be lenient, strict or ignore")
	}
	if c.Ingest.MaxFileBytes < 0 || c.Ingest.MaxRows < 0 {
		problems = append(problems, "ingest limits must be >= 0")
	}
	if c.Views.HistogramBins < 0 || c.Views.MinCorrelationPairs < 0 || c.Views.SampleRows < 0 {
		problems = append(problems, "views settings must be >= 0")
	}
	if c.Merge.MaxRows < 0 {
		problems = append(problems, "merge.max_rows must be >= 0")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and <= 65535")
		}
		if c.Server.RateLimit < 0 {
			problems = append(problems, "server.rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.Burst <= 0 {
			problems = append(problems, "server.burst must be > 0 when rate limiting")
		}
	case "cli":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
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
