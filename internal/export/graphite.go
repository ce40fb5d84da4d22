package export

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// GraphiteConfig configures the Graphite plaintext exporter.
type GraphiteConfig struct {
	// Host is the Graphite carbon receiver host.
	Host string `yaml:"host"`

	// Port is the carbon plaintext port. Defaults to 2003.
	Port int `yaml:"port"`

	// Timeout bounds connecting and writing a single batch.
	// Defaults to 10s.
	Timeout time.Duration `yaml:"timeout"`
}

// Addr returns the host:port destination.
func (c GraphiteConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// GraphiteExporter writes batches using the carbon plaintext protocol,
// one "path value timestamp" line per metric over a fresh TCP connection.
type GraphiteExporter struct {
	log logrus.FieldLogger
	cfg GraphiteConfig
	now func() time.Time
}

var _ Exporter = (*GraphiteExporter)(nil)

// NewGraphiteExporter creates a new Graphite exporter.
func NewGraphiteExporter(
	log logrus.FieldLogger,
	cfg GraphiteConfig,
) *GraphiteExporter {
	if cfg.Port <= 0 {
		cfg.Port = 2003
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &GraphiteExporter{
		log: log.WithField("exporter", "graphite"),
		cfg: cfg,
		now: time.Now,
	}
}

// Name returns the exporter identifier.
func (e *GraphiteExporter) Name() string {
	return "graphite"
}

// Config returns the exporter configuration.
func (e *GraphiteExporter) Config() GraphiteConfig {
	return e.cfg
}

// Start is a no-op; a connection is opened per batch.
func (e *GraphiteExporter) Start(_ context.Context) error {
	return nil
}

// Stop is a no-op.
func (e *GraphiteExporter) Stop() error {
	return nil
}

// Export writes the batch to carbon. Every line carries the same timestamp.
func (e *GraphiteExporter) Export(ctx context.Context, batch Batch) error {
	if len(batch) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", e.cfg.Addr())
	if err != nil {
		return fmt.Errorf("connecting to graphite %s: %w", e.cfg.Addr(), err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("setting write deadline: %w", err)
		}
	}

	ts := e.now().Unix()
	w := bufio.NewWriterSize(conn, 64*1024)

	for _, key := range batch.Keys() {
		if _, err := fmt.Fprintf(w, "%s %d %d\n", key, batch[key], ts); err != nil {
			return fmt.Errorf("writing to graphite %s: %w", e.cfg.Addr(), err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing to graphite %s: %w", e.cfg.Addr(), err)
	}

	e.log.WithField("metrics", len(batch)).Debug("Exported batch to graphite")

	return nil
}
