package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Telegram
	TelegramToken string `yaml:"telegram_token"`

	// Neynar API
	NeynarAPIKey   string `yaml:"neynar_api_key"`
	NeynarClientID string `yaml:"neynar_client_id"`
	NeynarBaseURL  string `yaml:"neynar_base_url"`
	// AppFID is the developer FID that sponsors signed keys.
	AppFID uint64 `yaml:"app_fid"`

	// Redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`

	// Signer approval polling
	PollInterval    time.Duration `yaml:"poll_interval"`
	PollMaxAttempts int           `yaml:"poll_max_attempts"`

	// Cursor token expiry
	CursorTTL time.Duration `yaml:"cursor_ttl"`

	// Background jobs (cron specs)
	FeedPushSchedule    string `yaml:"feed_push_schedule"`
	SignerSweepSchedule string `yaml:"signer_sweep_schedule"`

	// Observability HTTP server port
	HTTPPort int `yaml:"http_port"`
}

// LoadConfig loads configuration from a YAML file. An empty path loads
// everything from environment variables and defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Load secrets from environment if not in config
	if cfg.TelegramToken == "" {
		cfg.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if cfg.NeynarAPIKey == "" {
		cfg.NeynarAPIKey = os.Getenv("NEYNAR_API_KEY")
	}
	if cfg.NeynarClientID == "" {
		cfg.NeynarClientID = os.Getenv("NEYNAR_CLIENT_ID")
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	}
	if cfg.AppFID == 0 {
		if v := os.Getenv("APP_FID"); v != "" {
			fid, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid APP_FID: %w", err)
			}
			cfg.AppFID = fid
		}
	}

	// Apply defaults
	if cfg.NeynarBaseURL == "" {
		cfg.NeynarBaseURL = "https://api.neynar.com/v2"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = "castbridge:"
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.PollMaxAttempts == 0 {
		cfg.PollMaxAttempts = 10
	}
	if cfg.CursorTTL == 0 {
		cfg.CursorTTL = 6 * time.Hour
	}
	if cfg.FeedPushSchedule == "" {
		cfg.FeedPushSchedule = "@every 5m"
	}
	if cfg.SignerSweepSchedule == "" {
		cfg.SignerSweepSchedule = "@every 1h"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("telegram_token is required")
	}
	if c.NeynarAPIKey == "" {
		return fmt.Errorf("neynar_api_key is required")
	}
	if c.AppFID == 0 {
		return fmt.Errorf("app_fid is required")
	}
	if c.PollMaxAttempts < 0 {
		return fmt.Errorf("poll_max_attempts must not be negative")
	}
	return nil
}
