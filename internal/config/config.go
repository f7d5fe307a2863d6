package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Queue      QueueConfig      `yaml:"queue"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Transport  TransportConfig  `yaml:"transport"`
	Events     EventsConfig     `yaml:"events"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int      `yaml:"port"`
	Host            string   `yaml:"host"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ShutdownSeconds int      `yaml:"shutdown_seconds"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for the HTTP listener.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// ShutdownTimeout bounds graceful shutdown of the server and workers.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownSeconds) * time.Second
}

// Queue backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// QueueConfig selects and tunes the job store.
type QueueConfig struct {
	Backend        string      `yaml:"backend"` // memory, postgres or redis
	DatabaseURL    string      `yaml:"database_url"`
	MaxConns       int         `yaml:"max_conns"`
	Redis          RedisConfig `yaml:"redis"`
	KeyPrefix      string      `yaml:"key_prefix"`
	LeaseSeconds   int         `yaml:"lease_seconds"`
	MaxAttempts    int         `yaml:"max_attempts"`
	ChunkSize      int         `yaml:"chunk_size"`
	RetentionHours int         `yaml:"retention_hours"`
	MaxQueueDepth  int64       `yaml:"max_queue_depth"` // 0 disables backpressure
}

// LeaseTTL returns how long a claimed job may go without a heartbeat.
func (c QueueConfig) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseSeconds) * time.Second
}

// Retention returns how long finished jobs are kept.
func (c QueueConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// RedisConfig holds Redis connection settings shared by the Redis job store,
// distributed locks, event publishing and cross-process wakeups.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr returns host:port, or "" when Redis is not configured.
func (c RedisConfig) Addr() string {
	if c.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DispatcherConfig tunes the worker pool.
type DispatcherConfig struct {
	Concurrency             int           `yaml:"concurrency"`
	PollIntervalMs          int           `yaml:"poll_interval_ms"`
	SendTimeoutSeconds      int           `yaml:"send_timeout_seconds"`
	RecoveryIntervalSeconds int           `yaml:"recovery_interval_seconds"`
	RetentionIntervalMins   int           `yaml:"retention_interval_minutes"`
	BackpressureIntervalSec int           `yaml:"backpressure_interval_seconds"`
	Backoff                 BackoffConfig `yaml:"backoff"`
	Embedded                bool          `yaml:"embedded"`   // run the dispatcher inside cmd/server
	AdminPort               int           `yaml:"admin_port"` // cmd/worker health and metrics; 0 disables
}

func (c DispatcherConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c DispatcherConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

func (c DispatcherConfig) RecoveryInterval() time.Duration {
	return time.Duration(c.RecoveryIntervalSeconds) * time.Second
}

func (c DispatcherConfig) RetentionInterval() time.Duration {
	return time.Duration(c.RetentionIntervalMins) * time.Minute
}

func (c DispatcherConfig) BackpressureInterval() time.Duration {
	return time.Duration(c.BackpressureIntervalSec) * time.Second
}

// BackoffConfig picks the retry delay strategy.
type BackoffConfig struct {
	Strategy  string `yaml:"strategy"` // constant, linear, exponential, jitter
	InitialMs int    `yaml:"initial_ms"`
	MaxMs     int    `yaml:"max_ms"`
}

func (c BackoffConfig) Initial() time.Duration {
	return time.Duration(c.InitialMs) * time.Millisecond
}

func (c BackoffConfig) Max() time.Duration {
	return time.Duration(c.MaxMs) * time.Millisecond
}

// TransportConfig selects the outbound email driver.
type TransportConfig struct {
	Driver       string          `yaml:"driver"` // smtp, ses, sparkpost or log
	From         string          `yaml:"from"`
	RenderLiquid bool            `yaml:"render_liquid"`
	SMTP         SMTPConfig      `yaml:"smtp"`
	SES          SESConfig       `yaml:"ses"`
	SparkPost    SparkPostConfig `yaml:"sparkpost"`
}

// SMTPConfig holds SMTP relay settings
type SMTPConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Secure bool   `yaml:"secure"` // implicit TLS (port 465); otherwise STARTTLS when offered
	User   string `yaml:"user"`
	Pass   string `yaml:"pass"`
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// SparkPostConfig holds SparkPost API configuration
type SparkPostConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Timeout returns the configured timeout as a duration
func (c SparkPostConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EventsConfig enables optional event sinks.
type EventsConfig struct {
	RedisChannel string `yaml:"redis_channel"` // publish lifecycle events; empty disables
	WakeChannel  string `yaml:"wake_channel"`  // cross-process new-work notifications
	S3Bucket     string `yaml:"s3_bucket"`     // archive failed jobs; empty disables
	S3Region     string `yaml:"s3_region"`
	S3Prefix     string `yaml:"s3_prefix"`
	Metrics      bool   `yaml:"metrics"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether email addresses are masked in logs (default true).
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads and parses the configuration file. An empty path yields the
// defaults alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Server.ShutdownSeconds == 0 {
		cfg.Server.ShutdownSeconds = 30
	}

	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = BackendMemory
	}
	if cfg.Queue.MaxConns == 0 {
		cfg.Queue.MaxConns = 20
	}
	if cfg.Queue.Redis.Port == 0 {
		cfg.Queue.Redis.Port = 6379
	}
	if cfg.Queue.KeyPrefix == "" {
		cfg.Queue.KeyPrefix = "mailqueue"
	}
	if cfg.Queue.LeaseSeconds == 0 {
		cfg.Queue.LeaseSeconds = 300
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.ChunkSize == 0 {
		cfg.Queue.ChunkSize = 100
	}
	if cfg.Queue.RetentionHours == 0 {
		cfg.Queue.RetentionHours = 24 * 7
	}

	if cfg.Dispatcher.Concurrency == 0 {
		cfg.Dispatcher.Concurrency = 10
	}
	if cfg.Dispatcher.PollIntervalMs == 0 {
		cfg.Dispatcher.PollIntervalMs = 1000
	}
	if cfg.Dispatcher.SendTimeoutSeconds == 0 {
		cfg.Dispatcher.SendTimeoutSeconds = 30
	}
	if cfg.Dispatcher.RecoveryIntervalSeconds == 0 {
		cfg.Dispatcher.RecoveryIntervalSeconds = 120
	}
	if cfg.Dispatcher.RetentionIntervalMins == 0 {
		cfg.Dispatcher.RetentionIntervalMins = 60
	}
	if cfg.Dispatcher.BackpressureIntervalSec == 0 {
		cfg.Dispatcher.BackpressureIntervalSec = 5
	}
	if cfg.Dispatcher.Backoff.Strategy == "" {
		cfg.Dispatcher.Backoff.Strategy = "constant"
	}
	if cfg.Dispatcher.Backoff.InitialMs == 0 {
		cfg.Dispatcher.Backoff.InitialMs = 5000
	}

	if cfg.Transport.Driver == "" {
		cfg.Transport.Driver = "log"
	}
	if cfg.Transport.SMTP.Port == 0 {
		cfg.Transport.SMTP.Port = 587
	}
	if cfg.Transport.SES.Region == "" {
		cfg.Transport.SES.Region = "us-east-1"
	}
	if cfg.Transport.SparkPost.BaseURL == "" {
		cfg.Transport.SparkPost.BaseURL = "https://api.sparkpost.com/api/v1"
	}
	if cfg.Transport.SparkPost.TimeoutSeconds == 0 {
		cfg.Transport.SparkPost.TimeoutSeconds = 30
	}
	if cfg.Transport.SparkPost.MaxRetries == 0 {
		cfg.Transport.SparkPost.MaxRetries = 2
	}

	if cfg.Events.WakeChannel == "" {
		cfg.Events.WakeChannel = "mailqueue:wake"
	}
	if cfg.Events.S3Region == "" {
		cfg.Events.S3Region = cfg.Transport.SES.Region
	}
	if cfg.Events.S3Prefix == "" {
		cfg.Events.S3Prefix = "failed"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// EmbeddedDispatcher reports whether the API process runs its own
// dispatcher. The in-memory store cannot be shared between processes, so
// the memory backend always does.
func (cfg *Config) EmbeddedDispatcher() bool {
	return cfg.Dispatcher.Embedded || cfg.Queue.Backend == BackendMemory
}

// Validate checks the settings a backend or driver cannot start without.
func (cfg *Config) Validate() error {
	switch cfg.Queue.Backend {
	case BackendMemory:
	case BackendPostgres:
		if cfg.Queue.DatabaseURL == "" {
			return fmt.Errorf("config: queue.database_url is required for the postgres backend")
		}
	case BackendRedis:
		if cfg.Queue.Redis.Host == "" {
			return fmt.Errorf("config: queue.redis.host is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown queue backend %q", cfg.Queue.Backend)
	}

	switch strings.ToLower(cfg.Transport.Driver) {
	case "log":
	case "smtp":
		if cfg.Transport.SMTP.Host == "" {
			return fmt.Errorf("config: transport.smtp.host is required for the smtp driver")
		}
	case "ses":
	case "sparkpost":
		if cfg.Transport.SparkPost.APIKey == "" {
			return fmt.Errorf("config: transport.sparkpost.api_key is required for the sparkpost driver")
		}
	default:
		return fmt.Errorf("config: unknown transport driver %q", cfg.Transport.Driver)
	}

	if cfg.Dispatcher.Concurrency < 1 {
		return fmt.Errorf("config: dispatcher.concurrency must be at least 1")
	}
	return nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	// A missing file is fine: defaults plus env vars are a complete config.
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Load("")
	}
	if err != nil {
		return nil, err
	}

	// Queue
	if v := os.Getenv("QUEUE_BACKEND"); v != "" {
		cfg.Queue.Backend = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Queue.DatabaseURL = v
		if os.Getenv("QUEUE_BACKEND") == "" && cfg.Queue.Backend == BackendMemory {
			cfg.Queue.Backend = BackendPostgres
		}
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Queue.Redis.Host = v
	}
	envInt("REDIS_PORT", &cfg.Queue.Redis.Port)
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Queue.Redis.Password = v
	}
	envInt("QUEUE_MAX_ATTEMPTS", &cfg.Queue.MaxAttempts)
	envInt("QUEUE_CHUNK_SIZE", &cfg.Queue.ChunkSize)

	// Dispatcher
	envInt("WORKER_CONCURRENCY", &cfg.Dispatcher.Concurrency)
	envInt("WORKER_ADMIN_PORT", &cfg.Dispatcher.AdminPort)
	if v := os.Getenv("WORKER_EMBEDDED"); v != "" {
		cfg.Dispatcher.Embedded, _ = strconv.ParseBool(v)
	}

	// Transport: SMTP_* names match the relay settings of the earlier Node service
	if v := os.Getenv("EMAIL_DRIVER"); v != "" {
		cfg.Transport.Driver = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Transport.SMTP.Host = v
		if os.Getenv("EMAIL_DRIVER") == "" && cfg.Transport.Driver == "log" {
			cfg.Transport.Driver = "smtp"
		}
	}
	envInt("SMTP_PORT", &cfg.Transport.SMTP.Port)
	if v := os.Getenv("SMTP_SECURE"); v != "" {
		cfg.Transport.SMTP.Secure, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Transport.SMTP.User = v
	}
	if v := os.Getenv("SMTP_PASS"); v != "" {
		cfg.Transport.SMTP.Pass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Transport.From = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Transport.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Transport.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Transport.SES.Region = v
	}
	if v := os.Getenv("SPARKPOST_API_KEY"); v != "" {
		cfg.Transport.SparkPost.APIKey = v
	}
	if v := os.Getenv("SPARKPOST_BASE_URL"); v != "" {
		cfg.Transport.SparkPost.BaseURL = v
	}

	// Events
	if v := os.Getenv("EVENTS_S3_BUCKET"); v != "" {
		cfg.Events.S3Bucket = v
	}
	if v := os.Getenv("EVENTS_REDIS_CHANNEL"); v != "" {
		cfg.Events.RedisChannel = v
	}

	// Logging
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	envInt("SERVER_PORT", &cfg.Server.Port)

	return cfg, nil
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
