// Package config loads settings for the controller and scheduler from an optional
// YAML file, environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string `mapstructure:"database_url"`

	// HTTP server port for the controller
	HTTPPort int `mapstructure:"http_port"`

	// URL of the Control Plane (e.g., "http://localhost:6161")
	ControllerURL string `mapstructure:"controller_url"`

	// OTLP gRPC collector address. Empty disables span export.
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	// Service name reported in traces and metrics. Empty uses the binary's name.
	ServiceName string `mapstructure:"service_name"`

	// Fraction of new traces sampled, 0 to 1.
	TraceSampleRatio float64 `mapstructure:"trace_sample_ratio"`

	// debug, info, warn or error
	LogLevel string `mapstructure:"log_level"`

	// Bearer token settings
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`

	// Shared secret for /internal routes
	InternalSecret string `mapstructure:"internal_secret"`

	// Rego policy used by the authorization gate. Empty uses the built-in policy.
	PolicyFile string `mapstructure:"policy_file"`

	// Periodic task registry. Empty means no periodic tasks.
	TasksFile string `mapstructure:"tasks_file"`

	// How long a tenant's notification strategy is cached.
	StrategyCacheTTL time.Duration `mapstructure:"strategy_cache_ttl"`

	// Batch threshold used when a tenant's strategy does not set one.
	SchedulerBatchSize int `mapstructure:"scheduler_batch_size"`

	// Per-device poll rate limit
	DevicePollRate  float64 `mapstructure:"device_poll_rate"`
	DevicePollBurst int     `mapstructure:"device_poll_burst"`

	// Push transports
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
	RedisURL     string   `mapstructure:"redis_url"`

	// Batch push scheduler
	SchedulerConcurrency  int           `mapstructure:"scheduler_concurrency"`
	SchedulerPollInterval time.Duration `mapstructure:"scheduler_poll_interval"`
	SchedulerMaxBackoff   time.Duration `mapstructure:"scheduler_max_backoff"`
	SchedulerClaimLimit   int           `mapstructure:"scheduler_claim_limit"`

	// Runs the periodic monitoring task inside the scheduler
	MonitorEnabled bool `mapstructure:"monitor_enabled"`
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"database_url":            "DATABASE_URL",
	"http_port":               "PORT",
	"controller_url":          "CONTROLLER_URL",
	"otel_endpoint":           "OTEL_EXPORTER_OTLP_ENDPOINT",
	"service_name":            "OTEL_SERVICE_NAME",
	"trace_sample_ratio":      "TRACE_SAMPLE_RATIO",
	"log_level":               "LOG_LEVEL",
	"jwt_secret":              "JWT_SECRET",
	"jwt_issuer":              "JWT_ISSUER",
	"internal_secret":         "INTERNAL_SECRET",
	"policy_file":             "POLICY_FILE",
	"tasks_file":              "TASKS_FILE",
	"strategy_cache_ttl":      "STRATEGY_CACHE_TTL",
	"scheduler_batch_size":    "SCHEDULER_BATCH_SIZE",
	"device_poll_rate":        "DEVICE_POLL_RATE",
	"device_poll_burst":       "DEVICE_POLL_BURST",
	"kafka_brokers":           "KAFKA_BROKERS",
	"kafka_topic":             "KAFKA_TOPIC",
	"redis_url":               "REDIS_URL",
	"scheduler_concurrency":   "SCHEDULER_CONCURRENCY",
	"scheduler_poll_interval": "SCHEDULER_POLL_INTERVAL",
	"scheduler_max_backoff":   "SCHEDULER_MAX_BACKOFF",
	"scheduler_claim_limit":   "SCHEDULER_CLAIM_LIMIT",
	"monitor_enabled":         "MONITOR_ENABLED",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 6161)
	v.SetDefault("controller_url", "http://localhost:6161")
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("trace_sample_ratio", 1.0)
	v.SetDefault("log_level", "info")
	v.SetDefault("jwt_issuer", "opsplane")
	v.SetDefault("strategy_cache_ttl", 5*time.Minute)
	v.SetDefault("scheduler_batch_size", 100)
	v.SetDefault("device_poll_rate", 1.0)
	v.SetDefault("device_poll_burst", 5)
	v.SetDefault("kafka_topic", "device-operations")
	v.SetDefault("scheduler_concurrency", 1)
	v.SetDefault("scheduler_poll_interval", 1*time.Second)
	v.SetDefault("scheduler_max_backoff", 30*time.Second)
	v.SetDefault("scheduler_claim_limit", 50)
	v.SetDefault("monitor_enabled", false)
}

// Load reads configuration from the optional YAML file at path, then applies
// environment variable overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Comma separated lists arrive as one string from the environment.
	if len(cfg.KafkaBrokers) == 1 && strings.Contains(cfg.KafkaBrokers[0], ",") {
		cfg.KafkaBrokers = strings.Split(cfg.KafkaBrokers[0], ",")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database_url is required (env: DATABASE_URL)")
	}
	if c.SchedulerConcurrency < 1 {
		return fmt.Errorf("scheduler_concurrency must be at least 1, got %d", c.SchedulerConcurrency)
	}
	if c.SchedulerBatchSize < 1 {
		return fmt.Errorf("scheduler_batch_size must be at least 1, got %d", c.SchedulerBatchSize)
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("trace_sample_ratio must be between 0 and 1, got %v", c.TraceSampleRatio)
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	if c.KafkaTopic == "" && len(c.KafkaBrokers) > 0 {
		return errors.New("kafka_topic is required when kafka_brokers is set")
	}
	return nil
}

// Service returns the configured service name, or fallback when none is set.
func (c *Config) Service(fallback string) string {
	if c.ServiceName != "" {
		return c.ServiceName
	}
	return fallback
}
