// Package http streams metric points as NDJSON to an HTTP collector
// such as Vector.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trafficexporter/internal/version"
)

// MetricPoint is one exported metric sample.
type MetricPoint struct {
	Metric    string `json:"metric"`
	Value     uint64 `json:"value"`
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source,omitempty"`
}

// Exporter implements processor.ItemExporter for NDJSON metric points.
type Exporter struct {
	cfg        Config
	client     *http.Client
	compressor *Compressor
	log        logrus.FieldLogger
}

var _ processor.ItemExporter[MetricPoint] = (*Exporter)(nil)

// NewExporter creates a new HTTP exporter.
func NewExporter(log logrus.FieldLogger, cfg Config) (*Exporter, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	compressor, err := NewCompressor(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Workers * 2,
		MaxIdleConnsPerHost: cfg.Workers * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   !cfg.IsKeepAlive(),
	}

	return &Exporter{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.ExportTimeout,
		},
		compressor: compressor,
		log:        log.WithField("component", "http_exporter"),
	}, nil
}

// encode renders points as newline-delimited JSON, skipping nil entries.
func encode(points []*MetricPoint) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(points) * 96)

	enc := json.NewEncoder(&buf)

	for _, p := range points {
		if p == nil {
			continue
		}

		if err := enc.Encode(p); err != nil {
			return nil, fmt.Errorf("encoding point: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// ExportItems POSTs a batch of points to the configured address.
func (e *Exporter) ExportItems(ctx context.Context, points []*MetricPoint) error {
	if len(points) == 0 {
		return nil
	}

	data, err := encode(points)
	if err != nil {
		return err
	}

	body, err := e.compressor.Compress(data)
	if err != nil {
		return fmt.Errorf("compressing data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Address, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("User-Agent", version.UserAgent())

	if encoding := e.compressor.ContentEncoding(); encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	e.log.WithFields(logrus.Fields{
		"points":     len(points),
		"bytes":      len(data),
		"compressed": len(body),
	}).Debug("Exported points via HTTP")

	return nil
}

// Shutdown releases compressor resources.
func (e *Exporter) Shutdown(_ context.Context) error {
	if e.compressor != nil {
		return e.compressor.Close()
	}

	return nil
}

// NewProcessor creates a BatchItemProcessor feeding an Exporter.
func NewProcessor(
	log logrus.FieldLogger,
	cfg Config,
	name string,
) (*processor.BatchItemProcessor[MetricPoint], error) {
	exporter, err := NewExporter(log, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	cfg.ApplyDefaults()

	proc, err := processor.NewBatchItemProcessor[MetricPoint](
		exporter,
		name,
		log,
		processor.WithMaxQueueSize(cfg.MaxQueueSize),
		processor.WithBatchTimeout(cfg.BatchTimeout),
		processor.WithExportTimeout(cfg.ExportTimeout),
		processor.WithMaxExportBatchSize(cfg.BatchSize),
		processor.WithWorkers(cfg.Workers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processor: %w", err)
	}

	return proc, nil
}
