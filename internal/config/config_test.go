package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/insights-collector/internal/collector"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "/api/v1", cfg.Server.APIPrefix)
	require.Equal(t, "memory", cfg.Jobs.Backend)
	require.Equal(t, 24*time.Hour, cfg.Jobs.StateTTL)
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	require.Equal(t, "progress", cfg.Progress.ChannelPrefix)
	require.Equal(t, 100, cfg.Progress.Batch.MaxEvents)
	require.Equal(t, time.Hour, cfg.Webhook.ResultTTL)
	require.True(t, cfg.Logging.Development)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
  api_prefix: /api/v2
  public_base_url: https://collector.example.com/
webhook:
  shared_secret: s3cret
  correlation_ttl: 30m
redis:
  addr: localhost:6379
jobs:
  backend: redis
  concurrency: 8
  task_timeout: 2m
retry:
  max_attempts: 5
brightdata:
  api_token: tok
storage:
  backend: gcs
  bucket: reviews
sources:
  amazon:
    mode: provider
    dataset_id: gd_amazon
  products:
    mode: provider
    dataset_id: gd_products
    discover_by_keyword: true
  trustpilot:
    mode: local
logging:
  development: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "https://collector.example.com/api/v2", cfg.CallbackBaseURL())
	require.Equal(t, 30*time.Minute, cfg.Webhook.CorrelationTTL)
	require.Equal(t, 2*time.Minute, cfg.Jobs.TaskTimeout)
	require.Equal(t, 5, cfg.Retry.MaxAttempts)
	require.True(t, cfg.Sources["products"].DiscoverByKeyword)
	require.Equal(t, "gd_amazon", cfg.Sources["amazon"].DatasetID)
	require.False(t, cfg.Logging.Development)
	require.True(t, cfg.HasProviderSources())

	modes, err := cfg.SourceModes()
	require.NoError(t, err)
	require.Equal(t, collector.ModeProvider, modes[collector.SourceAmazon])
	require.Equal(t, collector.ModeLocal, modes[collector.SourceTrustpilot])
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("COLLECTOR_SERVER_PORT", "7070")
	t.Setenv("COLLECTOR_JOBS_CONCURRENCY", "12")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, 12, cfg.Jobs.Concurrency)
}

func TestLoadEnvFillsSecrets(t *testing.T) {
	t.Setenv("COLLECTOR_WEBHOOK_SHARED_SECRET", "hook-secret")
	t.Setenv("COLLECTOR_REDIS_ADDR", "redis:6379")
	t.Setenv("COLLECTOR_DATABASE_DSN", "postgres://collector@db/collector")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "hook-secret", cfg.Webhook.SharedSecret)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)
	require.Equal(t, "postgres://collector@db/collector", cfg.Database.DSN)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Server:  ServerConfig{Port: 8080, PublicBaseURL: "https://c.example.com"},
			Jobs:    JobsConfig{Backend: "memory", Queue: "memory", Concurrency: 1},
			Storage: StorageConfig{Backend: "memory"},
			Webhook: WebhookConfig{SharedSecret: "s"},
			BrightData: BrightDataConfig{
				APIToken: "tok",
			},
			Sources: map[string]SourceConfig{"amazon": {Mode: "provider"}},
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"port":           func(c *Config) { c.Server.Port = 0 },
		"concurrency":    func(c *Config) { c.Jobs.Concurrency = 0 },
		"backend":        func(c *Config) { c.Jobs.Backend = "etcd" },
		"redis addr":     func(c *Config) { c.Jobs.Backend = "redis" },
		"queue":          func(c *Config) { c.Jobs.Queue = "kafka" },
		"gcs bucket":     func(c *Config) { c.Storage.Backend = "gcs" },
		"storage":        func(c *Config) { c.Storage.Backend = "s3" },
		"auth":           func(c *Config) { c.Auth.Enabled = true },
		"mode":           func(c *Config) { c.Sources["google"] = SourceConfig{Mode: "remote"} },
		"secret":         func(c *Config) { c.Webhook.SharedSecret = "" },
		"public base":    func(c *Config) { c.Server.PublicBaseURL = "" },
		"provider token": func(c *Config) { c.BrightData.APIToken = "" },
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(&cfg)
		require.Error(t, cfg.Validate(), name)
	}
}
