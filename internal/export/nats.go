package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trafficexporter/internal/version"
)

// NATSConfig configures the NATS exporter.
type NATSConfig struct {
	// Enabled enables the NATS exporter.
	Enabled bool `yaml:"enabled"`

	// URL is the NATS server URL.
	URL string `yaml:"url"`

	// Subject is the subject batches are published on.
	// Defaults to "traffic.metrics".
	Subject string `yaml:"subject"`

	// Timeout bounds connecting and flushing a publish.
	// Defaults to 5s.
	Timeout time.Duration `yaml:"timeout"`
}

// BatchMessage is the JSON payload published for one batch.
type BatchMessage struct {
	Timestamp int64  `json:"timestamp"`
	Metrics   Batch  `json:"metrics"`
	Source    string `json:"source,omitempty"`
}

// NATSExporter publishes each batch as a single JSON message.
type NATSExporter struct {
	log logrus.FieldLogger
	cfg NATSConfig
	nc  *nats.Conn
}

var _ Exporter = (*NATSExporter)(nil)

// NewNATSExporter creates a new NATS exporter.
func NewNATSExporter(
	log logrus.FieldLogger,
	cfg NATSConfig,
) *NATSExporter {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}

	if cfg.Subject == "" {
		cfg.Subject = "traffic.metrics"
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &NATSExporter{
		log: log.WithField("exporter", "nats"),
		cfg: cfg,
	}
}

// Name returns the exporter identifier.
func (e *NATSExporter) Name() string {
	return "nats"
}

// Start connects to the NATS server.
func (e *NATSExporter) Start(_ context.Context) error {
	nc, err := nats.Connect(
		e.cfg.URL,
		nats.Name(version.UserAgent()),
		nats.Timeout(e.cfg.Timeout),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS %s: %w", e.cfg.URL, err)
	}

	e.nc = nc

	e.log.WithField("url", e.cfg.URL).Info("Connected to NATS server")

	return nil
}

// Stop drains and closes the NATS connection.
func (e *NATSExporter) Stop() error {
	if e.nc == nil {
		return nil
	}

	return e.nc.Drain()
}

// Export publishes the batch and waits for the server to acknowledge
// the flush.
func (e *NATSExporter) Export(_ context.Context, batch Batch) error {
	if len(batch) == 0 {
		return nil
	}

	if e.nc == nil {
		return fmt.Errorf("nats connection not started")
	}

	data, err := encodeBatchMessage(batch, time.Now())
	if err != nil {
		return err
	}

	if err := e.nc.Publish(e.cfg.Subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", e.cfg.Subject, err)
	}

	if err := e.nc.FlushTimeout(e.cfg.Timeout); err != nil {
		return fmt.Errorf("flushing NATS connection: %w", err)
	}

	return nil
}

func encodeBatchMessage(batch Batch, now time.Time) ([]byte, error) {
	data, err := json.Marshal(BatchMessage{
		Timestamp: now.Unix(),
		Metrics:   batch,
		Source:    "trafficexporter",
	})
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}

	return data, nil
}
