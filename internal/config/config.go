// Package config loads the process configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	CachesRoot string `envconfig:"CACHES_ROOT" default:"/var/lib/shelfd/caches"`
	StoreRoot  string `envconfig:"STORE_ROOT" default:"/var/lib/shelfd/store"`
	StagingDir string `envconfig:"STAGING_DIR" default:"/var/lib/shelfd/staging"`
	DBPath     string `envconfig:"DB_PATH" default:"/var/lib/shelfd/catalog.db"`

	ContentAPIBaseURL  string `envconfig:"CONTENT_API_BASE_URL" required:"true"`
	ManifestCDNBaseURL string `envconfig:"MANIFEST_CDN_BASE_URL"`

	MaxParallel int `envconfig:"MAX_PARALLEL" default:"3"`
	EventBuffer int `envconfig:"EVENT_BUFFER" default:"64"`

	LogLevel      string `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFile       string `envconfig:"LOG_FILE"`
	LogMaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"50"`
	LogMaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"3"`

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"120s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}
	if cfg.ManifestCDNBaseURL == "" {
		cfg.ManifestCDNBaseURL = cfg.ContentAPIBaseURL
	}
	return &cfg, nil
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
