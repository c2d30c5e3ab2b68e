package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Queue      QueueConfig
	Library    LibraryConfig
	Feed       FeedConfig
	Downloader DownloaderConfig
	Scheduler  SchedulerConfig
	Webhook    WebhookConfig
	Logging    LoggingConfig
	Metrics    MetricsConfig
	Tracing    TracingConfig
	RateLimit  RateLimitConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string // postgres, sqlite
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
	Path     string // sqlite database file
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	LockTTL  time.Duration
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// LibraryConfig holds local media library configuration
type LibraryConfig struct {
	MediaDir       string
	ThumbnailDir   string
	AvatarDir      string
	VideoCount     int
	ChannelWorkers int
	VideoWorkers   int
}

// FeedConfig holds channel feed configuration
type FeedConfig struct {
	BaseURL string
	Timeout time.Duration
}

// DownloaderConfig holds external download engine configuration
type DownloaderConfig struct {
	YtdlpPath       string
	Retries         int
	FragmentRetries int
	PreferredCodec  string
	Container       string
}

// SchedulerConfig holds periodic refresh configuration
type SchedulerConfig struct {
	Interval time.Duration
}

// WebhookConfig holds download notification configuration
type WebhookConfig struct {
	URL    string
	Secret string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	Port int
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RPS   int
	Burst int
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("owntube")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks values that have no usable fallback
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Library.VideoCount <= 0 {
		return fmt.Errorf("library.videoCount must be positive, got %d", c.Library.VideoCount)
	}
	if c.Library.ChannelWorkers <= 0 || c.Library.VideoWorkers <= 0 {
		return fmt.Errorf("library worker counts must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.shutdownTimeout", "10s")

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "owntube")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)
	v.SetDefault("database.path", "owntube.db")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lockTTL", "2m")

	// Storage defaults
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "owntube")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)

	// Queue defaults
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")

	// Library defaults
	v.SetDefault("library.mediaDir", "media/videos")
	v.SetDefault("library.thumbnailDir", "media/thumbnails")
	v.SetDefault("library.avatarDir", "media/avatars")
	v.SetDefault("library.videoCount", 20)
	v.SetDefault("library.channelWorkers", 2)
	v.SetDefault("library.videoWorkers", 4)

	// Feed defaults
	v.SetDefault("feed.baseURL", "https://www.youtube.com/feeds/videos.xml")
	v.SetDefault("feed.timeout", "30s")

	// Downloader defaults
	v.SetDefault("downloader.ytdlpPath", "yt-dlp")
	v.SetDefault("downloader.retries", 10)
	v.SetDefault("downloader.fragmentRetries", 10)
	v.SetDefault("downloader.preferredCodec", "avc1")
	v.SetDefault("downloader.container", "mp4")

	v.SetDefault("scheduler.interval", "30m")

	// Empty URL disables download notifications
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.secret", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("metrics.port", 9090)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "owntube")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")

	v.SetDefault("rateLimit.rps", 20)
	v.SetDefault("rateLimit.burst", 40)
}
