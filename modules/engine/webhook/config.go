package webhook

import (
	"fmt"
	"time"
)

// Config holds the webhook engine configuration.
type Config struct {
	// URL is the bot endpoint messages are posted to. Required.
	URL string `yaml:"url"`

	// BotName is the sender name attached to bot replies. Defaults to "tutor".
	BotName string `yaml:"bot_name"`

	// Timeout is the hard deadline for one bot round trip. Defaults to 10s.
	Timeout string `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.BotName == "" {
		c.BotName = "tutor"
	}
	if c.Timeout == "" {
		c.Timeout = "10s"
	}
}

// parsedTimeout returns the timeout as a time.Duration.
// Assumes the value has been validated by validate.
func (c *Config) parsedTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

func (c *Config) validate() error {
	if c.URL == "" {
		return fmt.Errorf("engine.webhook: url is required")
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("engine.webhook: invalid timeout %q: %w", c.Timeout, err)
	}
	return nil
}
