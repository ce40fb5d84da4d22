package export

import (
	"context"
	"fmt"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/sirupsen/logrus"

	httpexport "github.com/ethpandaops/trafficexporter/internal/export/http"
)

// HTTPExporter queues batches onto an HTTP batch processor (e.g. Vector).
type HTTPExporter struct {
	log    logrus.FieldLogger
	proc   *processor.BatchItemProcessor[httpexport.MetricPoint]
	source string
	now    func() time.Time
}

var _ Exporter = (*HTTPExporter)(nil)

// NewHTTPExporter creates the HTTP processor for cfg and wraps it.
func NewHTTPExporter(log logrus.FieldLogger, cfg httpexport.Config) (*HTTPExporter, error) {
	proc, err := httpexport.NewProcessor(log, cfg, "traffic_http")
	if err != nil {
		return nil, fmt.Errorf("creating HTTP processor: %w", err)
	}

	return &HTTPExporter{
		log:    log.WithField("exporter", "http"),
		proc:   proc,
		source: cfg.Source,
		now:    time.Now,
	}, nil
}

// Name returns the exporter identifier.
func (e *HTTPExporter) Name() string {
	return "http"
}

// Start starts the batch processor workers.
func (e *HTTPExporter) Start(ctx context.Context) error {
	e.proc.Start(ctx)
	e.log.Info("HTTP export started")

	return nil
}

// Stop flushes queued points and stops the processor.
func (e *HTTPExporter) Stop() error {
	if err := e.proc.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutting down HTTP processor: %w", err)
	}

	return nil
}

// Export queues one point per metric. Delivery is asynchronous.
func (e *HTTPExporter) Export(ctx context.Context, batch Batch) error {
	if len(batch) == 0 {
		return nil
	}

	return e.proc.Write(ctx, metricPoints(batch, e.now(), e.source))
}

func metricPoints(batch Batch, now time.Time, source string) []*httpexport.MetricPoint {
	ts := now.Unix()
	points := make([]*httpexport.MetricPoint, 0, len(batch))

	for _, key := range batch.Keys() {
		points = append(points, &httpexport.MetricPoint{
			Metric:    key,
			Value:     batch[key],
			Timestamp: ts,
			Source:    source,
		})
	}

	return points
}
