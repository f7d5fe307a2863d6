package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 9090
  host: "0.0.0.0"

queue:
  backend: redis
  redis:
    host: cache.internal
    port: 6380
  lease_seconds: 60
  max_attempts: 5
  chunk_size: 250
  max_queue_depth: 10000

dispatcher:
  concurrency: 4
  poll_interval_ms: 250
  backoff:
    strategy: exponential
    initial_ms: 1000
    max_ms: 60000

transport:
  driver: sparkpost
  from: "noreply@example.com"
  sparkpost:
    api_key: "test-api-key"
    timeout_seconds: 45

logging:
  level: debug
  redact_pii: false
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, BackendRedis, cfg.Queue.Backend)
	assert.Equal(t, "cache.internal:6380", cfg.Queue.Redis.Addr())
	assert.Equal(t, time.Minute, cfg.Queue.LeaseTTL())
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 250, cfg.Queue.ChunkSize)
	assert.Equal(t, int64(10000), cfg.Queue.MaxQueueDepth)

	assert.Equal(t, 4, cfg.Dispatcher.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Dispatcher.PollInterval())
	assert.Equal(t, "exponential", cfg.Dispatcher.Backoff.Strategy)
	assert.Equal(t, time.Minute, cfg.Dispatcher.Backoff.Max())

	assert.Equal(t, "sparkpost", cfg.Transport.Driver)
	assert.Equal(t, "test-api-key", cfg.Transport.SparkPost.APIKey)
	assert.Equal(t, 45*time.Second, cfg.Transport.SparkPost.Timeout())
	assert.Equal(t, "https://api.sparkpost.com/api/v1", cfg.Transport.SparkPost.BaseURL)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Redact())
	assert.NoError(t, cfg.Validate())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, BackendMemory, cfg.Queue.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Queue.LeaseTTL())
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 100, cfg.Queue.ChunkSize)
	assert.Equal(t, 10, cfg.Dispatcher.Concurrency)
	assert.Equal(t, time.Second, cfg.Dispatcher.PollInterval())
	assert.Equal(t, 30*time.Second, cfg.Dispatcher.SendTimeout())
	assert.Equal(t, 2*time.Minute, cfg.Dispatcher.RecoveryInterval())
	assert.Equal(t, "constant", cfg.Dispatcher.Backoff.Strategy)
	assert.Equal(t, 5*time.Second, cfg.Dispatcher.Backoff.Initial())
	assert.Equal(t, "log", cfg.Transport.Driver)
	assert.Equal(t, 587, cfg.Transport.SMTP.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redact())
	assert.Empty(t, cfg.Queue.Redis.Addr())
	assert.NoError(t, cfg.Validate())
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("REDIS_HOST", "redis.local")
	t.Setenv("REDIS_PORT", "6390")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_PORT", "465")
	t.Setenv("SMTP_SECURE", "true")
	t.Setenv("SMTP_USER", "mailer")
	t.Setenv("SMTP_PASS", "pw")
	t.Setenv("SMTP_FROM", "noreply@example.com")
	t.Setenv("WORKER_CONCURRENCY", "25")
	t.Setenv("QUEUE_BACKEND", "redis")

	cfg, err := LoadFromEnv("")
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.Queue.Backend)
	assert.Equal(t, "redis.local:6390", cfg.Queue.Redis.Addr())
	assert.Equal(t, "secret", cfg.Queue.Redis.Password)
	assert.Equal(t, "smtp", cfg.Transport.Driver)
	assert.Equal(t, "smtp.example.com", cfg.Transport.SMTP.Host)
	assert.Equal(t, 465, cfg.Transport.SMTP.Port)
	assert.True(t, cfg.Transport.SMTP.Secure)
	assert.Equal(t, "mailer", cfg.Transport.SMTP.User)
	assert.Equal(t, "noreply@example.com", cfg.Transport.From)
	assert.Equal(t, 25, cfg.Dispatcher.Concurrency)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromEnv("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFromEnv_DatabaseURLSelectsPostgres(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/mail?sslmode=disable")

	cfg, err := LoadFromEnv("")
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.Queue.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"postgres without url", func(c *Config) { c.Queue.Backend = BackendPostgres }},
		{"redis without host", func(c *Config) { c.Queue.Backend = BackendRedis }},
		{"unknown backend", func(c *Config) { c.Queue.Backend = "kafka" }},
		{"smtp without host", func(c *Config) { c.Transport.Driver = "smtp" }},
		{"sparkpost without key", func(c *Config) { c.Transport.Driver = "sparkpost" }},
		{"unknown driver", func(c *Config) { c.Transport.Driver = "carrier-pigeon" }},
		{"zero concurrency", func(c *Config) { c.Dispatcher.Concurrency = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEmbeddedDispatcher(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.EmbeddedDispatcher(), "memory backend always runs in-process")

	cfg.Queue.Backend = BackendRedis
	assert.False(t, cfg.EmbeddedDispatcher())

	t.Setenv("QUEUE_BACKEND", "redis")
	t.Setenv("WORKER_EMBEDDED", "true")
	t.Setenv("WORKER_ADMIN_PORT", "9100")
	cfg, err = LoadFromEnv("")
	require.NoError(t, err)
	assert.True(t, cfg.EmbeddedDispatcher())
	assert.Equal(t, 9100, cfg.Dispatcher.AdminPort)
}
