package collector

import (
	"errors"
	"fmt"
	"net/netip"
	"time"
)

// Config configures traffic collection.
type Config struct {
	// Networks are the local networks in CIDR notation. Traffic is
	// classified relative to them and per-subnet counters are kept for each.
	Networks []string `yaml:"networks"`

	// Interface enables live capture on the named interface (linux only).
	Interface string `yaml:"interface"`

	// PcapFiles are replayed once at startup.
	PcapFiles []string `yaml:"pcap_files"`

	// SpoolDir is watched for new .pcap files, which are replayed as they
	// appear. Files should be moved into place once complete.
	SpoolDir string `yaml:"spool_dir"`

	// SpeedInterval is how often window counts are folded into speeds.
	// Defaults to 1s.
	SpeedInterval time.Duration `yaml:"speed_interval"`

	// AverageWindow is the time constant of the average speed. Zero
	// reports the speed of the last interval only. Defaults to 15s.
	AverageWindow time.Duration `yaml:"average_window"`

	// SnapLen is the capture length for live capture. Defaults to 65535.
	SnapLen int `yaml:"snap_len"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SpeedInterval: time.Second,
		AverageWindow: 15 * time.Second,
		SnapLen:       65535,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Networks) == 0 {
		return errors.New("collector.networks must list at least one network")
	}

	if _, err := c.Prefixes(); err != nil {
		return err
	}

	if c.SpeedInterval <= 0 {
		return errors.New("collector.speed_interval must be positive")
	}

	if c.AverageWindow < 0 {
		return errors.New("collector.average_window must not be negative")
	}

	if c.SnapLen <= 0 {
		return errors.New("collector.snap_len must be positive")
	}

	return nil
}

// Prefixes parses Networks. Host bits are masked off.
func (c *Config) Prefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(c.Networks))

	for _, n := range c.Networks {
		p, err := netip.ParsePrefix(n)
		if err != nil {
			return nil, fmt.Errorf("invalid network %q: %w", n, err)
		}

		prefixes = append(prefixes, p.Masked())
	}

	return prefixes, nil
}
