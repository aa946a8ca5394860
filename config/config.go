/*
Package config loads server configuration.

SOURCES (later wins):
  1. Built-in defaults (NewDefaultConfig)
  2. TOML file, if present
  3. CASHBACK_* environment variables named after the field path, e.g.
     CASHBACK_SERVER_PORT, CASHBACK_REDIS_ADDR, CASHBACK_LOGGING_LEVEL,
     CASHBACK_SERVER_CORS_ORIGINS (comma separated)

  Load then trims, fills gaps and rejects values the server cannot run
  with (validateAndAddDefaults).

EXAMPLE (cashback.toml):
  environment = "production"

  [server]
  port = 8080
  cors_origins = ["https://app.example.com"]

  [database]
  path = "./data/cashback.db"

  [redis]
  addr = "localhost:6379"

  [scheduler]
  enabled = true
  interval = "1h"

  [logging]
  level = "info"
  format = "json"
*/
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const envPrefix = "cashback"

// Config holds all configuration for the cashback server.
type Config struct {
	Environment string          `toml:"environment"`
	Server      ServerConfig    `toml:"server"`
	Database    DatabaseConfig  `toml:"database"`
	Redis       RedisConfig     `toml:"redis"`
	Cache       CacheConfig     `toml:"cache"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	ReadTimeout     string   `toml:"read_timeout" split_words:"true"`
	WriteTimeout    string   `toml:"write_timeout" split_words:"true"`
	ShutdownTimeout string   `toml:"shutdown_timeout" split_words:"true"`
	CORSOrigins     []string `toml:"cors_origins" split_words:"true"`
}

// DatabaseConfig holds the SQLite location.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds the shared cache tier. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// CacheConfig holds snapshot cache sizing.
type CacheConfig struct {
	Enabled   bool   `toml:"enabled"`
	LocalSize int    `toml:"local_size" split_words:"true"`
	TTL       string `toml:"ttl"`
}

// SchedulerConfig holds the cycle-close scheduler settings.
type SchedulerConfig struct {
	Enabled  bool   `toml:"enabled"`
	Interval string `toml:"interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     "15s",
			WriteTimeout:    "15s",
			ShutdownTimeout: "10s",
			CORSOrigins:     []string{"*"},
		},
		Database:  DatabaseConfig{Path: "./data/cashback.db"},
		Cache:     CacheConfig{Enabled: true, LocalSize: 10000, TTL: "5m"},
		Scheduler: SchedulerConfig{Enabled: true, Interval: "1h"},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (skipped when empty or missing), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrapf(err, "failed to parse config file %s", path)
			}
		case errors.Is(err, os.ErrNotExist):
			logrus.WithField("path", path).Info("config file not found, using defaults and environment")
		default:
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to apply environment overrides")
	}

	if err := cfg.validateAndAddDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validateAndAddDefaults() error {
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.Server.Host = strings.TrimSpace(cfg.Server.Host)
	cfg.Database.Path = strings.TrimSpace(cfg.Database.Path)
	cfg.Redis.Addr = strings.TrimSpace(cfg.Redis.Addr)
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", cfg.Server.Port)
	}
	if cfg.Database.Path == "" {
		return errors.New("database path is required")
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if _, err := logrus.ParseLevel(cfg.Logging.Level); err != nil {
		return errors.Wrap(err, "invalid logging level")
	}
	switch cfg.Logging.Format {
	case "":
		cfg.Logging.Format = "json"
	case "json", "text":
	default:
		return fmt.Errorf("logging format %q must be json or text", cfg.Logging.Format)
	}

	if cfg.Cache.LocalSize < 0 {
		cfg.Cache.LocalSize = 0
	}

	for name, value := range map[string]string{
		"server.read_timeout":     cfg.Server.ReadTimeout,
		"server.write_timeout":    cfg.Server.WriteTimeout,
		"server.shutdown_timeout": cfg.Server.ShutdownTimeout,
		"cache.ttl":               cfg.Cache.TTL,
		"scheduler.interval":      cfg.Scheduler.Interval,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return errors.Wrapf(err, "invalid duration for %s", name)
		}
	}
	return nil
}

// Addr returns the listen address.
func (cfg *Config) Addr() string {
	return fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
}

// IsProduction reports whether the server runs in production mode.
func (cfg *Config) IsProduction() bool {
	env := strings.ToLower(cfg.Environment)
	return env == "production" || env == "prod"
}

// GetReadTimeout parses the server read timeout, defaulting to 15s.
func (c *ServerConfig) GetReadTimeout() time.Duration {
	return durationOr(c.ReadTimeout, 15*time.Second)
}

func (c *ServerConfig) GetWriteTimeout() time.Duration {
	return durationOr(c.WriteTimeout, 15*time.Second)
}

func (c *ServerConfig) GetShutdownTimeout() time.Duration {
	return durationOr(c.ShutdownTimeout, 10*time.Second)
}

func (c *CacheConfig) GetTTL() time.Duration {
	return durationOr(c.TTL, 5*time.Minute)
}

func (c *SchedulerConfig) GetInterval() time.Duration {
	return durationOr(c.Interval, time.Hour)
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// NewLogger builds the process logger from the logging section.
func (cfg *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	}
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
