package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Collector.Networks = []string{"10.0.0.0/8"}

	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.Health.Addr)
	assert.Equal(t, "fastnetmon", cfg.Push.Prefix)
	assert.Equal(t, 1, cfg.Push.PushPeriod)
	assert.Equal(t, 700*time.Millisecond, cfg.Push.StartupDelay)
	assert.Equal(t, "127.0.0.1", cfg.Graphite.Host)
	assert.Equal(t, 2003, cfg.Graphite.Port)
	assert.Equal(t, time.Second, cfg.Collector.SpeedInterval)
	assert.Equal(t, 15*time.Second, cfg.Collector.AverageWindow)
	assert.False(t, cfg.Sinks.HTTP.Enabled)
}

func TestLoadConfig(t *testing.T) {
	yaml := `
log_level: debug
push:
  prefix: fnm
  push_period: 5
graphite:
  host: carbon.internal
  port: 2103
  timeout: 3s
collector:
  networks:
    - 10.0.0.0/8
    - 192.168.0.0/16
  pcap_files:
    - /var/spool/capture.pcap
  average_window: 30s
sinks:
  influx:
    enabled: true
    url: http://influx:8086
    database: traffic
  nats:
    enabled: true
    url: nats://nats:4222
  http:
    enabled: true
    address: http://vector:8080
    compression: zstd
health:
  addr: ":9091"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "fnm", cfg.Push.Prefix)
	assert.Equal(t, 5*time.Second, cfg.Push.Period())
	assert.Equal(t, 700*time.Millisecond, cfg.Push.StartupDelay)
	assert.Equal(t, "carbon.internal:2103", cfg.Graphite.Addr())
	assert.Equal(t, 3*time.Second, cfg.Graphite.Timeout)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.0.0/16"}, cfg.Collector.Networks)
	assert.Equal(t, 30*time.Second, cfg.Collector.AverageWindow)
	assert.Equal(t, time.Second, cfg.Collector.SpeedInterval)
	assert.True(t, cfg.Sinks.Influx.Enabled)
	assert.True(t, cfg.Sinks.NATS.Enabled)
	assert.False(t, cfg.Sinks.ClickHouse.Enabled)
	assert.Equal(t, "zstd", cfg.Sinks.HTTP.Compression)
	assert.Equal(t, 512, cfg.Sinks.HTTP.BatchSize)
	assert.Equal(t, ":9091", cfg.Health.Addr)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	// Use a tab character at the start which is invalid YAML indentation.
	require.NoError(t, os.WriteFile(path, []byte("\t- bad"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validating config")
	assert.Contains(t, err.Error(), "collector.networks")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(_ *Config) {}},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			wantErr: "log_level",
		},
		{
			name:    "empty prefix",
			mutate:  func(c *Config) { c.Push.Prefix = "" },
			wantErr: "push.prefix",
		},
		{
			name:    "zero push period",
			mutate:  func(c *Config) { c.Push.PushPeriod = 0 },
			wantErr: "push.push_period",
		},
		{
			name:    "missing graphite host",
			mutate:  func(c *Config) { c.Graphite.Host = "" },
			wantErr: "graphite.host",
		},
		{
			name:    "graphite port out of range",
			mutate:  func(c *Config) { c.Graphite.Port = 70000 },
			wantErr: "graphite.port",
		},
		{
			name:    "invalid network",
			mutate:  func(c *Config) { c.Collector.Networks = []string{"10.0.0.0"} },
			wantErr: "invalid network",
		},
		{
			name:    "influx without url",
			mutate:  func(c *Config) { c.Sinks.Influx.Enabled = true },
			wantErr: "sinks.influx.url",
		},
		{
			name:    "clickhouse without endpoint",
			mutate:  func(c *Config) { c.Sinks.ClickHouse.Enabled = true },
			wantErr: "sinks.clickhouse.endpoint",
		},
		{
			name:    "http without address",
			mutate:  func(c *Config) { c.Sinks.HTTP.Enabled = true },
			wantErr: "sinks.http",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
