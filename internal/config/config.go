// Package config loads application configuration from file and environment
// and initializes the global logger.
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
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Engine   EngineConfig   `yaml:"engine" mapstructure:"engine"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Geometry GeometryConfig `yaml:"geometry" mapstructure:"geometry"`
	Jobs     JobsConfig     `yaml:"jobs" mapstructure:"jobs"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// EngineConfig configures the raster engine client.
type EngineConfig struct {
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries   int    `yaml:"max_retries" mapstructure:"max_retries"`
	RateLimitRPS int    `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	TTLHours int `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// GeometryConfig bounds the accepted request geometries.
type GeometryConfig struct {
	MaxAreaKm2 float64 `yaml:"max_area_km2" mapstructure:"max_area_km2"`
	MaxBufferM float64 `yaml:"max_buffer_m" mapstructure:"max_buffer_m"`
}

// JobsConfig configures the export job executor.
type JobsConfig struct {
	Workers        int    `yaml:"workers" mapstructure:"workers"`
	QueueSize      int    `yaml:"queue_size" mapstructure:"queue_size"`
	StaleAfterMins int    `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
	RetentionHours int    `yaml:"retention_hours" mapstructure:"retention_hours"`
	ArtifactDir    string `yaml:"artifact_dir" mapstructure:"artifact_dir"`
}

// ServerConfig configures the HTTP server.
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
	v.SetEnvPrefix("DATAHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "datahub.db")
	v.SetDefault("engine.base_url", "http://localhost:9090")
	v.SetDefault("engine.timeout_secs", 120)
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.rate_limit_rps", 5)
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("geometry.max_area_km2", 50000)
	v.SetDefault("geometry.max_buffer_m", 100000)
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.queue_size", 1024)
	v.SetDefault("jobs.stale_after_mins", 10)
	v.SetDefault("jobs.retention_hours", 72)
	v.SetDefault("jobs.artifact_dir", "artifacts")
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

// Validate checks the configuration for the given run mode. serve needs the
// full stack; sweep only needs the store.
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		problems = append(problems, `store.driver must be "sqlite" or "postgres"`)
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Engine.BaseURL == "" {
			problems = append(problems, "engine.base_url is required")
		}
		if c.Jobs.Workers < 1 || c.Jobs.Workers > 32 {
			problems = append(problems, "jobs.workers must be between 1 and 32")
		}
		if c.Jobs.ArtifactDir == "" {
			problems = append(problems, "jobs.artifact_dir is required")
		}
		if c.Cache.TTLHours <= 0 {
			problems = append(problems, "cache.ttl_hours must be > 0")
		}
	case "sweep":
		// Store checks above are sufficient.
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
