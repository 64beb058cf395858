package notion

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds Notion API credentials and delivery tuning. All values come
// from the environment; a missing key or database id disables delivery
// entirely instead of erroring.
type Config struct {
	APIKey     string        `env:"NOTION_API_KEY"`
	DatabaseID string        `env:"NOTION_DATABASE_ID"`
	BaseURL    string        `env:"NOTION_BASE_URL" envDefault:"https://api.notion.com/v1"`
	MaxRetries int           `env:"NOTION_DELIVERY_MAX_RETRIES" envDefault:"3"`
	RetryDelay time.Duration `env:"NOTION_DELIVERY_RETRY_DELAY" envDefault:"500ms"`
	Timeout    time.Duration `env:"NOTION_DELIVERY_TIMEOUT" envDefault:"5s"`
}

// LoadConfig parses the Notion delivery configuration from the environment.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse notion config: %w", err)
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &cfg, nil
}

// Enabled reports whether delivery credentials are present.
func (c *Config) Enabled() bool {
	return c != nil && c.APIKey != "" && c.DatabaseID != ""
}
