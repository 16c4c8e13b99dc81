// Package config loads the engine's configuration the way the rest of the
// platform does: a YAML file (optional), environment variables (override the
// file, BROKLE_-style double-underscore nesting is not needed here since
// options are flat enough), and a .env file for local development.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the complete configuration surface described in the external
// interfaces section: batching, retry, dedup, normalization, sink addressing,
// auth, source addressing, and concurrency/queue sizing.
type Config struct {
	Environment string `mapstructure:"environment"`

	BatchSize       int           `mapstructure:"batch_size"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoffMs  int           `mapstructure:"retry_backoff_ms"`
	MaxBackoffMs    int           `mapstructure:"max_backoff_ms"`
	FlushIntervalMs int           `mapstructure:"flush_interval_ms"`
	EnableNormalize bool          `mapstructure:"enable_normalization"`

	Deduplication DeduplicationConfig `mapstructure:"deduplication"`
	Azure         AzureConfig         `mapstructure:"azure"`
	DCR           DCRConfig           `mapstructure:"dcr"`
	Source        SourceConfig        `mapstructure:"source"`
	Concurrency   ConcurrencyConfig   `mapstructure:"concurrency"`
	DeadLetter    DeadLetterConfig    `mapstructure:"dead_letter"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Health        HealthConfig        `mapstructure:"health"`
}

// DeduplicationConfig controls the deduplicator (C3).
type DeduplicationConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Strategy          string `mapstructure:"strategy"` // by-id, content-hash, time-window
	TimeWindowMinutes int    `mapstructure:"time_window_minutes"`
	CacheSize         int    `mapstructure:"cache_size"`
	// Backend selects the cache implementation: "memory" (default, process
	// local, lost on restart) or "redis" (shared, survives restarts). Per the
	// open question on dedup semantics across restarts, persistence is never
	// silent: it only happens when Backend is explicitly set to "redis".
	Backend  string `mapstructure:"backend"`
	RedisURL string `mapstructure:"redis_url"`
}

// AzureConfig holds the client-credentials auth parameters for C7.
type AzureConfig struct {
	TenantID     string `mapstructure:"tenant_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	// Scope defaults to https://monitor.azure.com/.default when empty.
	Scope string `mapstructure:"scope"`
}

// DCRConfig addresses the Data Collection Rule stream the sink posts to.
type DCRConfig struct {
	EndpointBase string `mapstructure:"endpoint_base"`
	ImmutableID  string `mapstructure:"immutable_id"`
	StreamName   string `mapstructure:"stream_name"`
	TimeoutMs    int    `mapstructure:"timeout_ms"`
}

// SourceConfig addresses the source bucket for C1.
type SourceConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	KMSKeyID        string `mapstructure:"kms_key_id"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"` // for MinIO/LocalStack in dev
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// ConcurrencyConfig sizes the worker pools and queues owned by C10.
type ConcurrencyConfig struct {
	ObjectWorkers   int `mapstructure:"object_workers"`
	IngestWorkers   int `mapstructure:"ingest_workers"`
	BatchQueueDepth int `mapstructure:"batch_queue_depth"`
	InputQueueDepth int `mapstructure:"input_queue_depth"`
	ShutdownDeadlineMs int `mapstructure:"shutdown_deadline_ms"`
}

// DeadLetterConfig selects and addresses the dead-letter destination (C9).
// An empty Destination means "drop with log" per the external interface
// table.
type DeadLetterConfig struct {
	Destination string `mapstructure:"destination"` // "", "s3", "postgres"
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	DatabaseURL string `mapstructure:"database_url"`
}

// LoggingConfig matches the rest of the platform's logging knobs.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HealthConfig controls the optional health HTTP surface (§6).
type HealthConfig struct {
	Enabled                  bool `mapstructure:"enabled"`
	Port                     int  `mapstructure:"port"`
	BatchQueueDegradedAbove  int  `mapstructure:"batch_queue_degraded_above"`
}

// Load reads configuration from ./config.yaml (if present), a local .env
// file, and environment variables, in that order of increasing precedence
// (godotenv.Load never overrides a variable already set in the environment),
// and applies defaults for anything left unset.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/guardduty-ingest")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("batch_size", 500)
	viper.SetDefault("max_retries", 5)
	viper.SetDefault("retry_backoff_ms", 500)
	viper.SetDefault("max_backoff_ms", 30_000)
	viper.SetDefault("flush_interval_ms", 10_000)
	viper.SetDefault("enable_normalization", true)

	viper.SetDefault("deduplication.enabled", true)
	viper.SetDefault("deduplication.strategy", "by-id")
	viper.SetDefault("deduplication.time_window_minutes", 60)
	viper.SetDefault("deduplication.cache_size", 100_000)
	viper.SetDefault("deduplication.backend", "memory")

	viper.SetDefault("azure.scope", "https://monitor.azure.com/.default")

	viper.SetDefault("dcr.timeout_ms", 30_000)

	viper.SetDefault("concurrency.object_workers", 10)
	viper.SetDefault("concurrency.ingest_workers", 4)
	viper.SetDefault("concurrency.batch_queue_depth", 50)
	viper.SetDefault("concurrency.input_queue_depth", 1000)
	viper.SetDefault("concurrency.shutdown_deadline_ms", 30_000)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("health.enabled", true)
	viper.SetDefault("health.port", 8080)
	viper.SetDefault("health.batch_queue_degraded_above", 25)
}

// Validate checks the options that would otherwise fail cryptically deep in
// a component constructor. A Config error here is always fatal-at-startup
// per the error taxonomy's Config kind.
func (c *Config) Validate() error {
	if c.BatchSize < 1 || c.BatchSize > 2000 {
		return fmt.Errorf("batch_size must be between 1 and 2000, got %d", c.BatchSize)
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("max_retries must be between 0 and 10, got %d", c.MaxRetries)
	}
	if c.RetryBackoffMs < 100 || c.RetryBackoffMs > 60_000 {
		return fmt.Errorf("retry_backoff_ms must be between 100 and 60000, got %d", c.RetryBackoffMs)
	}
	if c.Source.Bucket == "" {
		return errors.New("source.bucket is required")
	}
	if c.DCR.ImmutableID == "" {
		return errors.New("dcr.immutable_id is required")
	}
	if c.DCR.StreamName == "" {
		return errors.New("dcr.stream_name is required")
	}
	if c.DCR.EndpointBase == "" {
		return errors.New("dcr.endpoint_base is required")
	}
	if c.Azure.TenantID == "" || c.Azure.ClientID == "" || c.Azure.ClientSecret == "" {
		return errors.New("azure.tenant_id, azure.client_id and azure.client_secret are required")
	}
	if err := c.Deduplication.Validate(); err != nil {
		return fmt.Errorf("deduplication: %w", err)
	}
	if err := c.DeadLetter.Validate(); err != nil {
		return fmt.Errorf("dead_letter: %w", err)
	}
	return nil
}

// Validate checks the deduplication strategy is one of the three supported
// tagged-variant constructors named in the design notes.
func (d *DeduplicationConfig) Validate() error {
	if !d.Enabled {
		return nil
	}
	switch d.Strategy {
	case "by-id", "content-hash", "time-window":
	default:
		return fmt.Errorf("unknown strategy %q (want by-id, content-hash, or time-window)", d.Strategy)
	}
	if d.Backend == "redis" && d.RedisURL == "" {
		return errors.New("redis_url is required when backend is redis")
	}
	return nil
}

// Validate checks the dead-letter destination is one this build knows how to
// wire up.
func (dl *DeadLetterConfig) Validate() error {
	switch dl.Destination {
	case "", "s3", "postgres":
	default:
		return fmt.Errorf("unknown dead_letter.destination %q (want \"\", s3, or postgres)", dl.Destination)
	}
	if dl.Destination == "s3" && dl.Bucket == "" {
		return errors.New("bucket is required when destination is s3")
	}
	if dl.Destination == "postgres" && dl.DatabaseURL == "" {
		return errors.New("database_url is required when destination is postgres")
	}
	return nil
}
