package metrics

import (
	"errors"
	"strings"
	"time"
)

// Config configures the periodic metric push.
type Config struct {
	// Prefix is the root namespace of every metric path.
	Prefix string `yaml:"prefix"`

	// PushPeriod is the pause between push cycles, in whole seconds.
	PushPeriod int `yaml:"push_period"`

	// StartupDelay is waited once before the first cycle so the first
	// measurement window can complete.
	StartupDelay time.Duration `yaml:"startup_delay"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Prefix:       "fastnetmon",
		PushPeriod:   1,
		StartupDelay: 700 * time.Millisecond,
	}
}

// Period returns PushPeriod as a duration.
func (c *Config) Period() time.Duration {
	return time.Duration(c.PushPeriod) * time.Second
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Prefix == "" {
		return errors.New("push.prefix is required")
	}

	if strings.HasPrefix(c.Prefix, ".") || strings.HasSuffix(c.Prefix, ".") {
		return errors.New("push.prefix must not start or end with a dot")
	}

	if c.PushPeriod <= 0 {
		return errors.New("push.push_period must be positive")
	}

	if c.StartupDelay < 0 {
		return errors.New("push.startup_delay must not be negative")
	}

	return nil
}
