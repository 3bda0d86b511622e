package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	Account           string        `envconfig:"ACCOUNT" required:"true"`
	DBPath            string        `envconfig:"DB_PATH" default:"syncbox.db"`
	CacheDir          string        `envconfig:"CACHE_DIR" required:"true"`
	MaxConcurrent     int           `envconfig:"MAX_CONCURRENT_TRANSFERS" default:"10"`
	KeepCachedFor     time.Duration `envconfig:"KEEP_CACHED_FOR" default:"720h"`
	TransferTimeout   time.Duration `envconfig:"TRANSFER_TIMEOUT" default:"30m"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`

	Putio struct {
		Token             string        `split_words:"true"`
		RequestsPerSecond float64       `split_words:"true" default:"5"`
		PathCacheTTL      time.Duration `envconfig:"PUTIO_PATH_CACHE_TTL" default:"5m"`
		PathCacheSize     int           `split_words:"true" default:"1024"`

		// The breaker opens after this many consecutive put.io outages and
		// lets one trial call through once the timeout has passed.
		BreakerFailureThreshold uint32        `split_words:"true" default:"5"`
		BreakerTimeout          time.Duration `split_words:"true" default:"30s"`
	}

	Host struct {
		RefreshInterval    time.Duration `split_words:"true" default:"15m"`
		RefreshBudget      time.Duration `split_words:"true" default:"30s"`
		ProcessingInterval time.Duration `split_words:"true" default:"6h"`
		ProcessingBudget   time.Duration `split_words:"true" default:"48h"`
		LeaseTTL           time.Duration `envconfig:"HOST_LEASE_TTL" default:"1h"`
	}

	AutoUpload struct {
		Enabled    bool     `split_words:"true"`
		SourceDir  string   `split_words:"true"`
		ServerURL  string   `envconfig:"AUTO_UPLOAD_SERVER_URL" default:"/Camera Uploads"`
		Include    []string `split_words:"true" default:"**/*"`
		Subfolders bool     `split_words:"true" default:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled      bool   `split_words:"true"`
		OTLPEndpoint string `envconfig:"TELEMETRY_OTLP_ENDPOINT"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_TRANSFERS must be at least 1, got %d", c.MaxConcurrent))
	}

	if c.Host.RefreshBudget > c.Host.RefreshInterval {
		errs = append(errs, fmt.Errorf("HOST_REFRESH_BUDGET %s exceeds HOST_REFRESH_INTERVAL %s",
			c.Host.RefreshBudget, c.Host.RefreshInterval))
	}

	if c.Putio.PathCacheSize < 1 {
		errs = append(errs, fmt.Errorf("PUTIO_PATH_CACHE_SIZE must be at least 1, got %d", c.Putio.PathCacheSize))
	}

	if c.Putio.BreakerFailureThreshold < 1 {
		errs = append(errs, errors.New("PUTIO_BREAKER_FAILURE_THRESHOLD must be at least 1"))
	}

	if c.AutoUpload.Enabled && c.AutoUpload.SourceDir == "" {
		errs = append(errs, errors.New("AUTO_UPLOAD_SOURCE_DIR is required when auto upload is enabled"))
	}

	return errors.Join(errs...)
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
