package app

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/shrimpsizemoose/trekker/logger"
)

type Config struct {
	Server struct {
		Port           string `toml:"port"`
		ReviewerHeader string `toml:"reviewer_header"`
	} `toml:"server"`

	Database struct {
		Type          string `toml:"type"`
		DSN           string `toml:"dsn"`
		MigrationsDir string `toml:"migrations_dir"`
	} `toml:"database"`

	Cache struct {
		RedisURL   string `toml:"redis_url"`
		TTLSeconds int    `toml:"ttl_seconds"`
	} `toml:"cache"`

	Notify struct {
		Enabled     bool   `toml:"enabled"`
		URLTemplate string `toml:"url_template"`

		TimeoutSeconds int `toml:"timeout_seconds"`

		// SyncDelivery makes the fan-out run inline instead of on a
		// goroutine. Off by default: the caller's result must not wait on
		// delivery.
		SyncDelivery bool `toml:"sync_delivery"`
	} `toml:"notify"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf(
			"error reading config file %s\n> Error: %w\n> Content:\n%s",
			path,
			err,
			string(data),
		)
	}

	if config.Server.Port == "" {
		return nil, fmt.Errorf("Server port is not specified in config, use a value like :9999")
	}
	if config.Server.ReviewerHeader == "" {
		config.Server.ReviewerHeader = "X-Reviewer-Email"
	}
	if config.Cache.TTLSeconds == 0 {
		config.Cache.TTLSeconds = 300
	}
	if config.Notify.Enabled && config.Notify.URLTemplate == "" {
		return nil, fmt.Errorf("notify.url_template is required when notifications are enabled")
	}

	logger.Debug.Printf("Loaded config: db=%s cache_ttl=%ds notify=%v", config.Database.Type, config.Cache.TTLSeconds, config.Notify.Enabled)

	return &config, nil
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notify.TimeoutSeconds) * time.Second
}
