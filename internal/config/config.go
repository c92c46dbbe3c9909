// Package config loads marketplace configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Platform PlatformConfig `yaml:"platform"`
}

// ServerConfig controls the HTTP listener and its middleware.
type ServerConfig struct {
	Host              string   `yaml:"host"`
	Port              int      `yaml:"port"`
	AuthSecret        string   `yaml:"auth_secret"`
	AllowedOrigins    []string `yaml:"allowed_origins"`
	RequestsPerSecond int      `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
}

// DatabaseConfig selects the persistence backend. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePrefix string `yaml:"file_prefix"`
}

// PlatformConfig seeds the marketplace singleton on first start.
type PlatformConfig struct {
	Owner                string `yaml:"owner"`
	PlatformFee          uint64 `yaml:"platform_fee"`
	StatsIntervalSeconds int    `yaml:"stats_interval_seconds"`
}

// Load reads the configuration file at path, then applies environment
// overrides. A missing file is not an error; defaults plus environment win.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			RequestsPerSecond: 50,
			Burst:             100,
			AllowedOrigins:    []string{"*"},
		},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to env
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Platform.Owner == "" {
		return nil, fmt.Errorf("platform owner is required (MARKET_OWNER or platform.owner)")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MARKET_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("MARKET_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MARKET_AUTH_SECRET"); v != "" {
		cfg.Server.AuthSecret = v
	}
	if v := os.Getenv("MARKET_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("MARKET_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("MARKET_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("MARKET_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MARKET_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("MARKET_OWNER"); v != "" {
		cfg.Platform.Owner = v
	}
	if v := os.Getenv("MARKET_PLATFORM_FEE"); v != "" {
		if fee, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Platform.PlatformFee = fee
		}
	}
}
