package agent

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/trafficexporter/internal/collector"
	"github.com/ethpandaops/trafficexporter/internal/export"
	httpexport "github.com/ethpandaops/trafficexporter/internal/export/http"
	"github.com/ethpandaops/trafficexporter/internal/metrics"
)

// Config is the top-level configuration for the traffic exporter.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Push configures the metric push cycle.
	Push metrics.Config `yaml:"push"`

	// Graphite configures the primary time-series store.
	Graphite export.GraphiteConfig `yaml:"graphite"`

	// Collector configures packet capture and counting.
	Collector collector.Config `yaml:"collector"`

	// Sinks configures optional additional exporters.
	Sinks SinksConfig `yaml:"sinks"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health"`
}

// SinksConfig configures the optional exporters fed alongside Graphite.
type SinksConfig struct {
	Influx     export.InfluxConfig     `yaml:"influx"`
	ClickHouse export.ClickHouseConfig `yaml:"clickhouse"`
	NATS       export.NATSConfig       `yaml:"nats"`
	HTTP       httpexport.Config       `yaml:"http"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		Push:      metrics.DefaultConfig(),
		Collector: collector.DefaultConfig(),
		Graphite: export.GraphiteConfig{
			Host: "127.0.0.1",
			Port: 2003,
		},
		Sinks: SinksConfig{
			HTTP: httpexport.DefaultConfig(),
		},
		Health: export.HealthConfig{
			Addr: ":9090",
		},
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for required fields and consistency.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	if err := c.Push.Validate(); err != nil {
		return err
	}

	if c.Graphite.Host == "" {
		return fmt.Errorf("graphite.host is required")
	}

	if c.Graphite.Port <= 0 || c.Graphite.Port > 65535 {
		return fmt.Errorf("graphite.port must be between 1 and 65535")
	}

	if c.Graphite.Timeout < 0 {
		return fmt.Errorf("graphite.timeout must not be negative")
	}

	if err := c.Collector.Validate(); err != nil {
		return err
	}

	return c.Sinks.Validate()
}

// Validate checks every enabled sink.
func (s *SinksConfig) Validate() error {
	if s.Influx.Enabled {
		if s.Influx.URL == "" {
			return fmt.Errorf("sinks.influx.url is required when enabled")
		}

		if s.Influx.Database == "" {
			return fmt.Errorf("sinks.influx.database is required when enabled")
		}
	}

	if s.ClickHouse.Enabled && s.ClickHouse.Endpoint == "" {
		return fmt.Errorf("sinks.clickhouse.endpoint is required when enabled")
	}

	if err := s.HTTP.Validate(); err != nil {
		return fmt.Errorf("sinks.http: %w", err)
	}

	return nil
}
