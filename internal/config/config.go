// Package config loads and validates collector configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/insights-collector/internal/collector"
)

// EnvPrefix namespaces environment overrides, e.g. COLLECTOR_SERVER_PORT.
const EnvPrefix = "COLLECTOR"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig            `mapstructure:"server"`
	Auth       AuthConfig              `mapstructure:"auth"`
	Logging    LoggingConfig           `mapstructure:"logging"`
	Webhook    WebhookConfig           `mapstructure:"webhook"`
	Redis      RedisConfig             `mapstructure:"redis"`
	Jobs       JobsConfig              `mapstructure:"jobs"`
	Retry      RetryConfig             `mapstructure:"retry"`
	Progress   ProgressConfig          `mapstructure:"progress"`
	Storage    StorageConfig           `mapstructure:"storage"`
	Database   DatabaseConfig          `mapstructure:"database"`
	PubSub     PubSubConfig            `mapstructure:"pubsub"`
	BrightData BrightDataConfig        `mapstructure:"brightdata"`
	Scraper    ScraperConfig           `mapstructure:"scraper"`
	Sources    map[string]SourceConfig `mapstructure:"sources"`
	Notify     NotifyConfig            `mapstructure:"notify"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	APIPrefix     string        `mapstructure:"api_prefix"`
	PublicBaseURL string        `mapstructure:"public_base_url"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
	// MaxWait caps the timeout a caller may request on the result wait route.
	MaxWait time.Duration `mapstructure:"max_wait"`
}

// AuthConfig guards the jobs API with an API key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// WebhookConfig configures provider callbacks.
type WebhookConfig struct {
	SharedSecret   string        `mapstructure:"shared_secret"`
	CorrelationTTL time.Duration `mapstructure:"correlation_ttl"`
	ResultTTL      time.Duration `mapstructure:"result_ttl"`
}

// RedisConfig locates the shared Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JobsConfig selects the state backend and sizes the worker pool.
type JobsConfig struct {
	Backend     string        `mapstructure:"backend"`
	Queue       string        `mapstructure:"queue"`
	StateTTL    time.Duration `mapstructure:"state_ttl"`
	QueueDepth  int           `mapstructure:"queue_depth"`
	Concurrency int           `mapstructure:"concurrency"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

// RetryConfig bounds provider trigger retries.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// ProgressConfig tunes the progress hub and its sinks.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	BufferSize    int                 `mapstructure:"buffer_size"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMS int                 `mapstructure:"sink_timeout_ms"`
	ChannelPrefix string              `mapstructure:"channel_prefix"`
}

// ProgressBatchConfig bounds a single sink delivery.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMS int `mapstructure:"max_wait_ms"`
}

// StorageConfig selects where archived payloads go.
type StorageConfig struct {
	Backend     string             `mapstructure:"backend"`
	Bucket      string             `mapstructure:"bucket"`
	Prefix      string             `mapstructure:"prefix"`
	ContentType string             `mapstructure:"content_type"`
	Local       LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DatabaseConfig controls access to the job-run database.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig names the completion topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// BrightDataConfig configures the provider client.
type BrightDataConfig struct {
	APIBase  string        `mapstructure:"api_base"`
	APIToken string        `mapstructure:"api_token"`
	Timeout  time.Duration `mapstructure:"timeout"`
	RPS      float64       `mapstructure:"rps"`
	Burst    int           `mapstructure:"burst"`
}

// ScraperConfig configures local page fetching.
type ScraperConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RPS           float64       `mapstructure:"rps"`
	Burst         int           `mapstructure:"burst"`
	Parallelism   int           `mapstructure:"parallelism"`
	MaxPages      int           `mapstructure:"max_pages"`
}

// SourceConfig sets how one source type runs.
type SourceConfig struct {
	Mode              string `mapstructure:"mode"`
	DatasetID         string `mapstructure:"dataset_id"`
	DiscoverByKeyword bool   `mapstructure:"discover_by_keyword"`
}

// NotifyConfig configures the completion webhook.
type NotifyConfig struct {
	CompletionURL string        `mapstructure:"completion_url"`
	Secret        string        `mapstructure:"secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// Load builds a Config from .env, an optional file and the environment.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadDotEnv exports variables from file without overriding the environment.
func loadDotEnv(file string) error {
	if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", file, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_prefix", "/api/v1")
	v.SetDefault("server.shutdown_grace", "15s")
	v.SetDefault("server.max_wait", "2m")
	v.SetDefault("logging.development", true)
	v.SetDefault("webhook.correlation_ttl", "2h")
	v.SetDefault("webhook.result_ttl", "1h")
	v.SetDefault("jobs.backend", "memory")
	v.SetDefault("jobs.queue", "memory")
	v.SetDefault("jobs.state_ttl", "24h")
	v.SetDefault("jobs.queue_depth", 256)
	v.SetDefault("jobs.concurrency", 4)
	v.SetDefault("jobs.task_timeout", "10m")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "250ms")
	v.SetDefault("retry.max_delay", "5s")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 100)
	v.SetDefault("progress.batch.max_wait_ms", 250)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("progress.channel_prefix", "progress")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("storage.content_type", "application/json")
	v.SetDefault("storage.local.base_dir", "data/archive")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("brightdata.api_base", "https://api.brightdata.com")
	v.SetDefault("brightdata.timeout", "30s")
	v.SetDefault("brightdata.rps", 2)
	v.SetDefault("brightdata.burst", 2)
	v.SetDefault("scraper.user_agent", "insights-collector/0.1")
	v.SetDefault("scraper.timeout", "20s")
	v.SetDefault("scraper.rps", 1)
	v.SetDefault("scraper.burst", 1)
	v.SetDefault("scraper.parallelism", 4)
	v.SetDefault("scraper.max_pages", 20)
	v.SetDefault("notify.timeout", "10s")

	// Keys without a meaningful default are still registered so that
	// AutomaticEnv can populate them during Unmarshal.
	for _, key := range []string{
		"server.public_base_url",
		"auth.api_key",
		"webhook.shared_secret",
		"redis.addr",
		"redis.password",
		"storage.bucket",
		"database.dsn",
		"pubsub.project_id",
		"pubsub.topic_name",
		"brightdata.api_token",
		"notify.completion_url",
		"notify.secret",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("auth.enabled", false)
	v.SetDefault("redis.db", 0)
	v.SetDefault("scraper.respect_robots", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Jobs.Concurrency <= 0 {
		return errors.New("jobs.concurrency must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	switch c.Jobs.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("jobs.backend must be memory or redis, got %q", c.Jobs.Backend)
	}
	switch c.Jobs.Queue {
	case "memory", "redis":
	default:
		return fmt.Errorf("jobs.queue must be memory or redis, got %q", c.Jobs.Queue)
	}
	if (c.Jobs.Backend == "redis" || c.Jobs.Queue == "redis") && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when jobs use the redis backend")
	}
	switch c.Storage.Backend {
	case "memory", "local":
	case "gcs":
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, local or gcs, got %q", c.Storage.Backend)
	}

	modes, err := c.SourceModes()
	if err != nil {
		return err
	}
	for source, mode := range modes {
		if mode != collector.ModeProvider {
			continue
		}
		if c.Webhook.SharedSecret == "" {
			return fmt.Errorf("webhook.shared_secret is required for provider source %s", source)
		}
		if c.Server.PublicBaseURL == "" {
			return fmt.Errorf("server.public_base_url is required for provider source %s", source)
		}
		if c.BrightData.APIToken == "" {
			return fmt.Errorf("brightdata.api_token is required for provider source %s", source)
		}
	}
	return nil
}

// SourceModes parses every configured source mode.
func (c Config) SourceModes() (map[collector.SourceType]collector.SourceMode, error) {
	modes := make(map[collector.SourceType]collector.SourceMode, len(c.Sources))
	for name, src := range c.Sources {
		mode, err := collector.ParseSourceMode(src.Mode)
		if err != nil {
			return nil, fmt.Errorf("sources.%s.mode: %w", name, err)
		}
		modes[collector.SourceType(name)] = mode
	}
	return modes, nil
}

// CallbackBaseURL is where providers reach the API.
func (c Config) CallbackBaseURL() string {
	return strings.TrimRight(c.Server.PublicBaseURL, "/") + "/" + strings.Trim(c.Server.APIPrefix, "/")
}

// HasProviderSources reports whether any source runs through the provider.
func (c Config) HasProviderSources() bool {
	modes, err := c.SourceModes()
	if err != nil {
		return false
	}
	for _, mode := range modes {
		if mode == collector.ModeProvider {
			return true
		}
	}
	return false
}
