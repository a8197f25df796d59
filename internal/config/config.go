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
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Status   StatusConfig   `mapstructure:"status"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CacheConfig sets the on-disk location for screenshot artifacts.
type CacheConfig struct {
	Dir string `mapstructure:"dir"`
}

// BrowserConfig governs the managed headless browser resource.
type BrowserConfig struct {
	UserAgent        string `mapstructure:"user_agent"`
	NavTimeoutSec    int    `mapstructure:"nav_timeout_seconds"`
	IdleTimeoutSec   int    `mapstructure:"idle_timeout_seconds"`
	IdleCheckSec     int    `mapstructure:"idle_check_seconds"`
	ScreenshotQuality int   `mapstructure:"screenshot_quality"`
}

// ConsumerConfig bounds simultaneous job processing.
type ConsumerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// QueueConfig selects and configures the message broker.
type QueueConfig struct {
	Provider string       `mapstructure:"provider"`
	Depth    int          `mapstructure:"depth"`
	PubSub   PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig holds GCP Pub/Sub connection metadata.
type PubSubConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	TopicID        string `mapstructure:"topic_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
}

// StatusConfig selects the job status store backend.
type StatusConfig struct {
	Provider string         `mapstructure:"provider"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig controls access to the relational status store.
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// ArchiveConfig configures optional off-box mirroring of artifacts.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	GCS      GCSConfig `mapstructure:"gcs"`
}

// GCSConfig holds the bucket used by the GCS archive provider.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGELENS")
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("logging.development", false)
	v.SetDefault("cache.dir", "cache")
	v.SetDefault("browser.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.idle_timeout_seconds", 120)
	v.SetDefault("browser.idle_check_seconds", 30)
	v.SetDefault("browser.screenshot_quality", 90)
	v.SetDefault("consumer.concurrency", 3)
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("queue.depth", 128)
	v.SetDefault("status.provider", "memory")
	v.SetDefault("status.postgres.table", "snapshot_jobs")
	v.SetDefault("archive.provider", "noop")
}

// Validate checks cross-field constraints and required provider settings.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Cache.Dir) == "" {
		return fmt.Errorf("cache.dir is required")
	}
	if c.Consumer.Concurrency < 1 {
		return fmt.Errorf("consumer.concurrency must be at least 1, got %d", c.Consumer.Concurrency)
	}
	if c.Browser.IdleTimeoutSec <= 0 {
		return fmt.Errorf("browser.idle_timeout_seconds must be positive")
	}
	if c.Browser.IdleCheckSec <= 0 {
		return fmt.Errorf("browser.idle_check_seconds must be positive")
	}
	if c.Browser.ScreenshotQuality < 1 || c.Browser.ScreenshotQuality > 100 {
		return fmt.Errorf("browser.screenshot_quality must be between 1 and 100")
	}

	switch c.Queue.Provider {
	case "memory":
		if c.Queue.Depth <= 0 {
			return fmt.Errorf("queue.depth must be positive for the memory provider")
		}
	case "pubsub":
		if c.Queue.PubSub.ProjectID == "" || c.Queue.PubSub.TopicID == "" || c.Queue.PubSub.SubscriptionID == "" {
			return fmt.Errorf("queue.pubsub.project_id, topic_id and subscription_id are required")
		}
	default:
		return fmt.Errorf("unknown queue provider: %s", c.Queue.Provider)
	}

	switch c.Status.Provider {
	case "memory":
	case "postgres":
		if c.Status.Postgres.DSN == "" {
			return fmt.Errorf("status.postgres.dsn is required")
		}
	default:
		return fmt.Errorf("unknown status provider: %s", c.Status.Provider)
	}

	switch c.Archive.Provider {
	case "noop":
	case "gcs":
		if c.Archive.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket is required")
		}
	default:
		return fmt.Errorf("unknown archive provider: %s", c.Archive.Provider)
	}
	return nil
}

// NavTimeout converts the configured navigation timeout to a duration.
func (c BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// IdleTimeout converts the configured idle threshold to a duration.
func (c BrowserConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}

// IdleCheckInterval converts the configured monitor wake interval to a duration.
func (c BrowserConfig) IdleCheckInterval() time.Duration {
	return time.Duration(c.IdleCheckSec) * time.Second
}
