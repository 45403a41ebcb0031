// Package config loads application configuration from defaults, an optional
// YAML file and RESPONDR_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/respondr-uk/respondr/internal/domain"
)

// EnvPrefix is the prefix of environment overrides. A double underscore
// separates nesting levels: RESPONDR_DATABASE__URL sets database.url.
const EnvPrefix = "RESPONDR_"

// Storage drivers.
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Storage       StorageConfig       `koanf:"storage"`
	Log           LogConfig           `koanf:"log"`
	CORS          CORSConfig          `koanf:"cors"`
	Incidents     IncidentsConfig     `koanf:"incidents"`
	Idempotency   IdempotencyConfig   `koanf:"idempotency"`
	Redis         RedisConfig         `koanf:"redis"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	OpenAPIPath       string        `koanf:"openapi_path"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// StorageConfig selects the incident store.
type StorageConfig struct {
	Driver string `koanf:"driver"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text or console
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// IncidentsConfig tunes incident mutation rules.
type IncidentsConfig struct {
	IDPrefix           string              `koanf:"id_prefix"`
	LogNoOpTransitions bool                `koanf:"log_noop_transitions"`
	Transitions        map[string][]string `koanf:"transitions"`
}

// IdempotencyConfig configures Idempotency-Key handling on write endpoints.
type IdempotencyConfig struct {
	Enabled bool          `koanf:"enabled"`
	Store   string        `koanf:"store"` // redis or memory
	TTL     time.Duration `koanf:"ttl"`
	LockTTL time.Duration `koanf:"lock_ttl"`
}

// RedisConfig configures the Redis client.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// NotificationsConfig configures change notifications.
type NotificationsConfig struct {
	Enabled  bool                         `koanf:"enabled"`
	BaseURL  string                       `koanf:"base_url"`
	Channels []domain.NotificationChannel `koanf:"channels"`
	Email    EmailConfig                  `koanf:"email"`
	Telegram TelegramConfig               `koanf:"telegram"`
	Worker   WorkerConfig                 `koanf:"worker"`
	Retry    RetryConfig                  `koanf:"retry"`
}

// EmailConfig configures the SMTP sender.
type EmailConfig struct {
	Enabled      bool   `koanf:"enabled"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	FromAddress  string `koanf:"from_address"`
}

// TelegramConfig configures the Telegram Bot API sender.
type TelegramConfig struct {
	Enabled   bool    `koanf:"enabled"`
	BotToken  string  `koanf:"bot_token"`
	APIURL    string  `koanf:"api_url"`
	RateLimit float64 `koanf:"rate_limit"` // messages per second
}

// WorkerConfig configures the notification queue workers.
type WorkerConfig struct {
	BatchSize    int           `koanf:"batch_size"`
	PollInterval time.Duration `koanf:"poll_interval"`
	NumWorkers   int           `koanf:"num_workers"`
}

// RetryConfig configures delivery retries.
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			OpenAPIPath:       "api/openapi/openapi.yaml",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		Storage: StorageConfig{Driver: StorageDriverPostgres},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Incidents: IncidentsConfig{
			IDPrefix:           "INC",
			LogNoOpTransitions: true,
		},
		Idempotency: IdempotencyConfig{
			Enabled: true,
			Store:   "memory",
			TTL:     24 * time.Hour,
			LockTTL: 30 * time.Second,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Notifications: NotificationsConfig{
			Email: EmailConfig{SMTPPort: 587},
			Telegram: TelegramConfig{
				APIURL:    "https://api.telegram.org",
				RateLimit: 25,
			},
			Worker: WorkerConfig{
				BatchSize:    50,
				PollInterval: 5 * time.Second,
				NumWorkers:   2,
			},
			Retry: RetryConfig{
				MaxAttempts:       3,
				InitialBackoff:    time.Second,
				MaxBackoff:        5 * time.Minute,
				BackoffMultiplier: 2,
			},
		},
	}
}

// Load reads configuration. path may be empty to skip the file layer.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps RESPONDR_NOTIFICATIONS__EMAIL__SMTP_HOST to
// notifications.email.smtp_host.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case StorageDriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres storage driver"))
		}
	case StorageDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	switch c.Log.Format {
	case "json", "text", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	if strings.TrimSpace(c.Incidents.IDPrefix) == "" {
		errs = append(errs, errors.New("incidents.id_prefix must not be empty"))
	}
	for from, targets := range c.Incidents.Transitions {
		if !domain.IncidentStatus(from).IsValid() {
			errs = append(errs, fmt.Errorf("incidents.transitions: unknown status %q", from))
		}
		for _, to := range targets {
			if !domain.IncidentStatus(to).IsValid() {
				errs = append(errs, fmt.Errorf("incidents.transitions.%s: unknown status %q", from, to))
			}
		}
	}

	if c.Idempotency.Enabled {
		switch c.Idempotency.Store {
		case "memory", "redis":
		default:
			errs = append(errs, fmt.Errorf("idempotency.store: unknown store %q", c.Idempotency.Store))
		}
		if c.Idempotency.TTL <= 0 || c.Idempotency.LockTTL <= 0 {
			errs = append(errs, errors.New("idempotency.ttl and idempotency.lock_ttl must be positive"))
		}
	}

	if c.Notifications.Enabled {
		for i, ch := range c.Notifications.Channels {
			if !ch.Type.IsValid() {
				errs = append(errs, fmt.Errorf("notifications.channels[%d]: unknown type %q", i, ch.Type))
			}
			if ch.Target == "" {
				errs = append(errs, fmt.Errorf("notifications.channels[%d]: target is required", i))
			}
		}
		if c.Notifications.Email.Enabled && (c.Notifications.Email.SMTPHost == "" || c.Notifications.Email.FromAddress == "") {
			errs = append(errs, errors.New("notifications.email: smtp_host and from_address are required"))
		}
		if c.Notifications.Telegram.Enabled && c.Notifications.Telegram.BotToken == "" {
			errs = append(errs, errors.New("notifications.telegram.bot_token is required"))
		}
		if c.Notifications.Retry.MaxAttempts < 1 {
			errs = append(errs, errors.New("notifications.retry.max_attempts must be at least 1"))
		}
		if c.Notifications.Worker.NumWorkers < 1 {
			errs = append(errs, errors.New("notifications.worker.num_workers must be at least 1"))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
