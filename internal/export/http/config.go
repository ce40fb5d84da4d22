package http

import (
	"errors"
	"time"
)

// Config configures the HTTP NDJSON exporter.
type Config struct {
	// Enabled enables the HTTP exporter.
	Enabled bool `yaml:"enabled"`

	// Address is the URL metric points are POSTed to.
	Address string `yaml:"address"`

	// Headers are added to every request.
	Headers map[string]string `yaml:"headers"`

	// Compression is one of none, gzip, zstd, zlib, snappy.
	// Defaults to gzip.
	Compression string `yaml:"compression"`

	// BatchSize is the maximum number of points per request.
	// Defaults to 512.
	BatchSize int `yaml:"batch_size"`

	// BatchTimeout is the longest a queued point waits before being sent.
	// Defaults to 5s.
	BatchTimeout time.Duration `yaml:"batch_timeout"`

	// ExportTimeout bounds a single request.
	// Defaults to 30s.
	ExportTimeout time.Duration `yaml:"export_timeout"`

	// MaxQueueSize is the number of points buffered before new ones
	// are dropped. Defaults to 51200.
	MaxQueueSize int `yaml:"max_queue_size"`

	// Workers is the number of concurrent senders. Defaults to 1.
	Workers int `yaml:"workers"`

	// KeepAlive enables HTTP keep-alive. Defaults to true.
	KeepAlive *bool `yaml:"keep_alive"`

	// Source is attached to every point to identify this exporter.
	Source string `yaml:"source"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	keepAlive := true

	return Config{
		Compression:   CompressionGzip,
		BatchSize:     512,
		BatchTimeout:  5 * time.Second,
		ExportTimeout: 30 * time.Second,
		MaxQueueSize:  51200,
		Workers:       1,
		KeepAlive:     &keepAlive,
	}
}

// Validate checks an enabled configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch {
	case c.Address == "":
		return errors.New("http address is required when enabled")
	case c.BatchSize <= 0:
		return errors.New("batch_size must be greater than 0")
	case c.MaxQueueSize <= 0:
		return errors.New("max_queue_size must be greater than 0")
	case c.BatchSize > c.MaxQueueSize:
		return errors.New("batch_size cannot be greater than max_queue_size")
	case c.Workers <= 0:
		return errors.New("workers must be greater than 0")
	case !ValidCompression(c.Compression):
		return errors.New("invalid compression type: " + c.Compression)
	}

	return nil
}

// ApplyDefaults fills unset fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()

	if c.Compression == "" {
		c.Compression = d.Compression
	}

	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}

	if c.BatchTimeout <= 0 {
		c.BatchTimeout = d.BatchTimeout
	}

	if c.ExportTimeout <= 0 {
		c.ExportTimeout = d.ExportTimeout
	}

	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}

	if c.Workers <= 0 {
		c.Workers = d.Workers
	}

	if c.KeepAlive == nil {
		c.KeepAlive = d.KeepAlive
	}
}

// IsKeepAlive returns whether HTTP keep-alive is enabled.
func (c *Config) IsKeepAlive() bool {
	return c.KeepAlive == nil || *c.KeepAlive
}
