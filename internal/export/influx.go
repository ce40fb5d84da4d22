package export

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

// InfluxConfig configures the InfluxDB exporter.
type InfluxConfig struct {
	// Enabled enables the InfluxDB exporter.
	Enabled bool `yaml:"enabled"`

	// URL is the InfluxDB HTTP endpoint.
	URL string `yaml:"url"`

	// User and Password authenticate against an InfluxDB 1.8+ endpoint.
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// Database and RetentionPolicy form the target bucket "db/rp".
	Database        string `yaml:"database"`
	RetentionPolicy string `yaml:"retention_policy"`

	// Measurement is the measurement name for all points.
	// Defaults to "traffic".
	Measurement string `yaml:"measurement"`

	// Hostname is attached to every point as the "host" tag.
	// Defaults to the local hostname.
	Hostname string `yaml:"hostname"`

	// LogLevel is the client library log level (0-3).
	LogLevel uint `yaml:"log_level"`
}

// InfluxExporter writes each metric of a batch as an InfluxDB point.
type InfluxExporter struct {
	log    logrus.FieldLogger
	cfg    InfluxConfig
	client influxdb2.Client
}

var _ Exporter = (*InfluxExporter)(nil)

// NewInfluxExporter creates a new InfluxDB exporter.
func NewInfluxExporter(
	log logrus.FieldLogger,
	cfg InfluxConfig,
) *InfluxExporter {
	if cfg.Measurement == "" {
		cfg.Measurement = "traffic"
	}

	if cfg.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			cfg.Hostname = h
		}
	}

	return &InfluxExporter{
		log: log.WithField("exporter", "influx"),
		cfg: cfg,
	}
}

// Name returns the exporter identifier.
func (e *InfluxExporter) Name() string {
	return "influx"
}

// Start creates the InfluxDB client.
func (e *InfluxExporter) Start(_ context.Context) error {
	options := influxdb2.DefaultOptions()
	options.SetLogLevel(e.cfg.LogLevel)

	e.client = influxdb2.NewClientWithOptions(
		e.cfg.URL,
		fmt.Sprintf("%s:%s", e.cfg.User, e.cfg.Password),
		options,
	)

	e.log.WithField("url", e.cfg.URL).Info("InfluxDB client created")

	return nil
}

// Stop closes the InfluxDB client.
func (e *InfluxExporter) Stop() error {
	if e.client != nil {
		e.client.Close()
	}

	return nil
}

// Export writes the batch with a blocking write.
func (e *InfluxExporter) Export(ctx context.Context, batch Batch) error {
	if len(batch) == 0 {
		return nil
	}

	if e.client == nil {
		return fmt.Errorf("influx client not started")
	}

	points := e.points(batch, time.Now())

	bucket := fmt.Sprintf("%s/%s", e.cfg.Database, e.cfg.RetentionPolicy)
	writeAPI := e.client.WriteAPIBlocking("", bucket)

	if err := writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("writing to influxdb: %w", err)
	}

	e.log.WithField("points", len(points)).Debug("Exported batch to InfluxDB")

	return nil
}

func (e *InfluxExporter) points(batch Batch, now time.Time) []*write.Point {
	points := make([]*write.Point, 0, len(batch))

	for _, key := range batch.Keys() {
		// InfluxDB has no unsigned integer type on 1.x endpoints.
		points = append(points, influxdb2.NewPoint(
			e.cfg.Measurement,
			map[string]string{
				"host":   e.cfg.Hostname,
				"metric": key,
			},
			map[string]interface{}{
				"value": influxValue(batch[key]),
			},
			now,
		))
	}

	return points
}

// influxValue clamps v to the signed range InfluxDB integer fields accept.
func influxValue(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(v)
}
