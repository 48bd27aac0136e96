// Package config loads compass settings. COMPASS_* environment variables
// override the config file, which overrides built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
}

type DatabaseConfig struct {
	Path          string `mapstructure:"path"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type EngineConfig struct {
	MaxUpdateAttempts    uint          `mapstructure:"max_update_attempts"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
}

type AnalyticsConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "compass.db")
	v.SetDefault("database.migrations_dir", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("engine.max_update_attempts", 5)
	v.SetDefault("engine.retry_initial_interval", "10ms")
	v.SetDefault("analytics.concurrency", 4)
}

// Load reads configuration. path may be empty, in which case compass.yaml in
// the working directory is used if present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("compass")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("COMPASS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.Database.Path) == "" {
		return fmt.Errorf("database.path must be set")
	}
	switch cfg.Log.Level {
	case "debug", "info", "error", "fatal":
	default:
		return fmt.Errorf("invalid log level: %s. Must be 'debug', 'info', 'error', or 'fatal'", cfg.Log.Level)
	}
	if cfg.Engine.MaxUpdateAttempts < 1 {
		return fmt.Errorf("engine.max_update_attempts must be at least 1")
	}
	if cfg.Engine.RetryInitialInterval <= 0 {
		return fmt.Errorf("engine.retry_initial_interval must be positive")
	}
	if cfg.Analytics.Concurrency < 1 {
		return fmt.Errorf("analytics.concurrency must be at least 1")
	}
	return nil
}
