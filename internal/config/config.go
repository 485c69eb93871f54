// Package config loads the module's configuration from an optional YAML
// file plus environment variable overrides, in the same layering order
// the teacher repo uses: defaults -> config file -> env vars.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig controls the Postgres connection backing every store.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds" env:"DATABASE_CONN_MAX_LIFETIME"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// QueueConfig controls the queue service's polling fallback and recovery sweep.
type QueueConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval" env:"QUEUE_POLL_INTERVAL"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout" env:"QUEUE_VISIBILITY_TIMEOUT"`
	RecoverySweep     time.Duration `yaml:"recovery_sweep_interval" env:"QUEUE_RECOVERY_SWEEP_INTERVAL"`
}

// WebhookConfig controls delivery engine backoff parameters (spec.md §4.5).
type WebhookConfig struct {
	BaseBackoff      time.Duration `yaml:"base_backoff" env:"WEBHOOK_BASE_BACKOFF"`
	MaxBackoff       time.Duration `yaml:"max_backoff" env:"WEBHOOK_MAX_BACKOFF"`
	MaxAttempts      int           `yaml:"max_attempts" env:"WEBHOOK_MAX_ATTEMPTS"`
	HTTPTimeout      time.Duration `yaml:"http_timeout" env:"WEBHOOK_HTTP_TIMEOUT"`
	SchedulerSweep   time.Duration `yaml:"scheduler_sweep_interval" env:"WEBHOOK_SCHEDULER_SWEEP_INTERVAL"`
	ShutdownGrace    time.Duration `yaml:"shutdown_grace" env:"WEBHOOK_SHUTDOWN_GRACE"`
	PerOrgRatePerSec float64       `yaml:"per_org_rate_per_second" env:"WEBHOOK_PER_ORG_RATE_PER_SECOND"`
}

// SecurityConfig controls secret-at-rest encryption.
type SecurityConfig struct {
	MasterSecret string `yaml:"master_secret" env:"SECRET_ENCRYPTION_KEY"`
}

// ServerConfig controls the admin HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`
}

// RedisConfig controls the cross-process webhook rate limiter.
type RedisConfig struct {
	Addr string `yaml:"addr" env:"REDIS_ADDR"`
}

// WorkerConfig controls the worker process's own health/metrics surface,
// separate from the admin server's.
type WorkerConfig struct {
	HealthPort int `yaml:"health_port" env:"WORKER_HEALTH_PORT"`
}

// Config is the top-level configuration structure for every entry point.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Queue    QueueConfig    `yaml:"queue"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Security SecurityConfig `yaml:"security"`
	Redis    RedisConfig    `yaml:"redis"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Queue: QueueConfig{
			PollInterval:      500 * time.Millisecond,
			VisibilityTimeout: 2 * time.Minute,
			RecoverySweep:     30 * time.Second,
		},
		Webhook: WebhookConfig{
			BaseBackoff:      30 * time.Second,
			MaxBackoff:       time.Hour,
			MaxAttempts:      8,
			HTTPTimeout:      15 * time.Second,
			SchedulerSweep:   5 * time.Second,
			ShutdownGrace:    30 * time.Second,
			PerOrgRatePerSec: 5,
		},
		Worker: WorkerConfig{HealthPort: 9090},
	}
}

// Load reads .env, an optional CONFIG_FILE/configs/config.yaml, then
// applies environment variable overrides (in that priority order).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/config.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	if cfg.Security.MasterSecret == "" {
		return nil, fmt.Errorf("config: SECRET_ENCRYPTION_KEY is required")
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
