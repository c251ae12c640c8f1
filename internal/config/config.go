// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int   `mapstructure:"port"`
	RequestTimeoutSeconds int   `mapstructure:"request_timeout_seconds"`
	MaxBodyBytes          int64 `mapstructure:"max_body_bytes"`
}

// AuthConfig defines optional API key protection for the support routes.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// RedisConfig locates the queue store.
type RedisConfig struct {
	URL                 string `mapstructure:"url"`
	DialTimeoutSeconds  int    `mapstructure:"dial_timeout_seconds"`
	ReadTimeoutSeconds  int    `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds"`
	PoolSize            int    `mapstructure:"pool_size"`
}

// QueueConfig selects the queue backend and its retention.
type QueueConfig struct {
	// Backend is "redis" or "memory".
	Backend            string `mapstructure:"backend"`
	Name               string `mapstructure:"name"`
	Depth              int    `mapstructure:"depth"`
	ResultTTLSeconds   int    `mapstructure:"result_ttl_seconds"`
	BlockTimeoutMillis int    `mapstructure:"block_timeout_ms"`
	EnqueueTimeoutSecs int    `mapstructure:"enqueue_timeout_seconds"`
}

// WorkerConfig governs the background worker pool.
type WorkerConfig struct {
	Concurrency            int `mapstructure:"concurrency"`
	PipelineTimeoutSeconds int `mapstructure:"pipeline_timeout_seconds"`
	LeaseSeconds           int `mapstructure:"lease_seconds"`
	MaxAttempts            int `mapstructure:"max_attempts"`
	ReapIntervalSeconds    int `mapstructure:"reap_interval_seconds"`
}

// WebhookConfig holds the shared signing secret and dedup window.
type WebhookConfig struct {
	Secret          string `mapstructure:"secret"`
	DedupTTLSeconds int    `mapstructure:"dedup_ttl_seconds"`
}

// LLMConfig selects the language model backing the agent pipeline.
type LLMConfig struct {
	// Provider is "openai", "anthropic" or empty to infer it from Model.
	Provider           string  `mapstructure:"provider"`
	Model              string  `mapstructure:"model"`
	OpenAIAPIKey       string  `mapstructure:"openai_api_key"`
	AnthropicAPIKey    string  `mapstructure:"anthropic_api_key"`
	MaxTokens          int     `mapstructure:"max_tokens"`
	Temperature        float64 `mapstructure:"temperature"`
	SummaryMaxTokens   int     `mapstructure:"summary_max_tokens"`
	SummaryTemperature float64 `mapstructure:"summary_temperature"`
}

// CrawlConfig configures the documentation crawling tool.
type CrawlConfig struct {
	// Provider is "auto", "colly", "spider" or "firecrawl".
	Provider        string `mapstructure:"provider"`
	SpiderAPIKey    string `mapstructure:"spider_api_key"`
	FirecrawlAPIKey string `mapstructure:"firecrawl_api_key"`
	MaxPages        int    `mapstructure:"max_pages"`
	MaxDepth        int    `mapstructure:"max_depth"`
	MaxURLs         int    `mapstructure:"max_urls"`
	DelayMillis     int    `mapstructure:"delay_ms"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	UserAgent       string `mapstructure:"user_agent"`
	MaxTextChars    int    `mapstructure:"max_text_chars"`
}

// HeadlessConfig configures the optional headless renderer.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// RateLimitConfig controls per-domain crawl politeness.
type RateLimitConfig struct {
	DefaultBurst int `mapstructure:"default_burst"`
}

// CatalogConfig points at the link catalogs used for link selection.
type CatalogConfig struct {
	LinksPath string `mapstructure:"links_path"`
	DocsPath  string `mapstructure:"docs_path"`
}

// StorageConfig selects where crawl snapshots are written.
type StorageConfig struct {
	// Backend is empty (disabled), "memory", "local" or "gcs".
	Backend     string `mapstructure:"backend"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
	LocalDir    string `mapstructure:"local_dir"`
}

// DatabaseConfig controls the optional transcript archive.
type DatabaseConfig struct {
	DSN                    string `mapstructure:"dsn"`
	TranscriptTable        string `mapstructure:"transcript_table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// PublisherConfig selects where job events are published.
type PublisherConfig struct {
	// Backend is "memory", "redis" or "pubsub".
	Backend string `mapstructure:"backend"`
	Topic   string `mapstructure:"topic"`
}

// PubSubConfig holds Google Pub/Sub metadata.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the lifecycle event hub.
type ProgressConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	LogEnabled    bool `mapstructure:"log_enabled"`
	BufferSize    int  `mapstructure:"buffer_size"`
	MaxBatch      int  `mapstructure:"max_batch"`
	MaxWaitMs     int  `mapstructure:"max_wait_ms"`
	SinkTimeoutMs int  `mapstructure:"sink_timeout_ms"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	ProjectID   string `mapstructure:"project_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SUPPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return Config{}, err
	}

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

// bindEnv maps the deployment's well-known variable names onto config keys.
// The prefixed form still wins when both are set.
func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"server.port":             {"SUPPORT_SERVER_PORT", "PORT"},
		"redis.url":               {"SUPPORT_REDIS_URL", "REDIS_URL"},
		"webhook.secret":          {"SUPPORT_WEBHOOK_SECRET", "WEBHOOK_SECRET"},
		"llm.model":               {"SUPPORT_LLM_MODEL", "MODEL"},
		"llm.openai_api_key":      {"SUPPORT_LLM_OPENAI_API_KEY", "OPENAI_API_KEY"},
		"llm.anthropic_api_key":   {"SUPPORT_LLM_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"},
		"crawl.spider_api_key":    {"SUPPORT_CRAWL_SPIDER_API_KEY", "SPIDER_API_KEY"},
		"crawl.firecrawl_api_key": {"SUPPORT_CRAWL_FIRECRAWL_API_KEY", "FIRECRAWL_API_KEY"},
		"database.dsn":            {"SUPPORT_DATABASE_DSN", "DATABASE_URL"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("logging.development", false)
	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("redis.dial_timeout_seconds", 5)
	v.SetDefault("redis.read_timeout_seconds", 5)
	v.SetDefault("redis.write_timeout_seconds", 5)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("queue.backend", "redis")
	v.SetDefault("queue.name", "nmkr_support")
	v.SetDefault("queue.depth", 256)
	v.SetDefault("queue.result_ttl_seconds", 86400)
	v.SetDefault("queue.block_timeout_ms", 1000)
	v.SetDefault("queue.enqueue_timeout_seconds", 5)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.pipeline_timeout_seconds", 3600)
	v.SetDefault("worker.lease_seconds", 3900)
	v.SetDefault("worker.max_attempts", 2)
	v.SetDefault("worker.reap_interval_seconds", 30)
	v.SetDefault("webhook.dedup_ttl_seconds", 86400)
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.max_tokens", 1500)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.summary_max_tokens", 500)
	v.SetDefault("llm.summary_temperature", 0.3)
	v.SetDefault("crawl.provider", "auto")
	v.SetDefault("crawl.max_pages", 10)
	v.SetDefault("crawl.max_depth", 3)
	v.SetDefault("crawl.max_urls", 3)
	v.SetDefault("crawl.delay_ms", 1000)
	v.SetDefault("crawl.timeout_seconds", 15)
	v.SetDefault("crawl.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	v.SetDefault("crawl.max_text_chars", 12000)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 512)
	v.SetDefault("rate_limit.default_burst", 1)
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.content_type", "text/plain; charset=utf-8")
	v.SetDefault("database.transcript_table", "support_transcripts")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime_minutes", 30)
	v.SetDefault("publisher.backend", "memory")
	v.SetDefault("publisher.topic", "support-jobs")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch", 100)
	v.SetDefault("progress.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("telemetry.service_name", "supportd")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Queue.Backend {
	case "redis":
		if strings.TrimSpace(c.Redis.URL) == "" {
			return fmt.Errorf("redis.url must be set for the redis queue backend")
		}
	case "memory":
	default:
		return fmt.Errorf("queue.backend must be redis or memory, got %q", c.Queue.Backend)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.PipelineTimeoutSeconds <= 0 {
		return fmt.Errorf("worker.pipeline_timeout_seconds must be > 0")
	}
	if c.Worker.LeaseSeconds <= c.Worker.PipelineTimeoutSeconds {
		return fmt.Errorf("worker.lease_seconds must exceed worker.pipeline_timeout_seconds")
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker.max_attempts must be >= 1")
	}
	if c.Worker.ReapIntervalSeconds <= 0 {
		return fmt.Errorf("worker.reap_interval_seconds must be > 0")
	}
	switch c.LLM.Provider {
	case "", "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider must be openai or anthropic, got %q", c.LLM.Provider)
	}
	switch c.Crawl.Provider {
	case "auto", "colly", "spider", "firecrawl":
	default:
		return fmt.Errorf("crawl.provider must be auto, colly, spider or firecrawl, got %q", c.Crawl.Provider)
	}
	if c.Crawl.MaxPages <= 0 || c.Crawl.MaxDepth < 0 {
		return fmt.Errorf("crawl.max_pages must be > 0 and crawl.max_depth >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Storage.Backend {
	case "", "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, local or gcs, got %q", c.Storage.Backend)
	}
	switch c.Publisher.Backend {
	case "memory", "redis":
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set for the pubsub publisher")
		}
	default:
		return fmt.Errorf("publisher.backend must be memory, redis or pubsub, got %q", c.Publisher.Backend)
	}
	return nil
}

// PipelineTimeout bounds a single pipeline invocation.
func (c Config) PipelineTimeout() time.Duration {
	return time.Duration(c.Worker.PipelineTimeoutSeconds) * time.Second
}

// Lease is how long a started job may run before the reaper re-dispatches it.
func (c Config) Lease() time.Duration {
	return time.Duration(c.Worker.LeaseSeconds) * time.Second
}

// ReapInterval is how often expired leases are checked.
func (c Config) ReapInterval() time.Duration {
	return time.Duration(c.Worker.ReapIntervalSeconds) * time.Second
}

// ResultTTL is how long terminal jobs stay queryable.
func (c Config) ResultTTL() time.Duration {
	return time.Duration(c.Queue.ResultTTLSeconds) * time.Second
}

// DedupTTL is how long webhook event ids are remembered.
func (c Config) DedupTTL() time.Duration {
	return time.Duration(c.Webhook.DedupTTLSeconds) * time.Second
}

// RequestTimeout bounds each HTTP handler.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// CrawlDelay is the politeness delay between requests to one host.
func (c Config) CrawlDelay() time.Duration {
	return time.Duration(c.Crawl.DelayMillis) * time.Millisecond
}
