package export

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/sirupsen/logrus"
)

// ClickHouseConfig configures the ClickHouse exporter.
type ClickHouseConfig struct {
	// Enabled enables the ClickHouse exporter.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the ClickHouse native protocol address.
	Endpoint string `yaml:"endpoint"`

	// Database is the target database name.
	Database string `yaml:"database"`

	// Table is the target table name.
	// Defaults to "traffic_metrics".
	Table string `yaml:"table"`

	// Username for ClickHouse authentication.
	Username string `yaml:"username"`

	// Password for ClickHouse authentication.
	Password string `yaml:"password"`

	// MetaClientName identifies this exporter instance in stored rows.
	MetaClientName string `yaml:"meta_client_name"`
}

// DSN returns a clickhouse:// connection string for schema migrations.
func (c ClickHouseConfig) DSN() string {
	dsn := url.URL{
		Scheme: "clickhouse",
		Host:   c.Endpoint,
		Path:   "/" + c.Database,
	}

	if c.Username != "" {
		dsn.RawQuery = url.Values{
			"username": {c.Username},
			"password": {c.Password},
		}.Encode()
	}

	return dsn.String()
}

// ClickHouseWriter manages the ClickHouse connection.
type ClickHouseWriter struct {
	log    logrus.FieldLogger
	cfg    ClickHouseConfig
	conn   clickhouse.Conn
	health *HealthMetrics
}

// NewClickHouseWriter creates a new ClickHouse writer.
func NewClickHouseWriter(
	log logrus.FieldLogger,
	cfg ClickHouseConfig,
	health *HealthMetrics,
) *ClickHouseWriter {
	if cfg.Database == "" {
		cfg.Database = "default"
	}

	if cfg.Table == "" {
		cfg.Table = "traffic_metrics"
	}

	return &ClickHouseWriter{
		log:    log.WithField("component", "clickhouse"),
		cfg:    cfg,
		health: health,
	}
}

// Start opens the ClickHouse connection.
func (w *ClickHouseWriter) Start(ctx context.Context) error {
	opts := &clickhouse.Options{
		Addr: []string{w.cfg.Endpoint},
		Auth: clickhouse.Auth{
			Database: w.cfg.Database,
			Username: w.cfg.Username,
			Password: w.cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return fmt.Errorf("opening ClickHouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("pinging ClickHouse: %w", err)
	}

	w.conn = conn

	if w.health != nil {
		w.health.ClickHouseConnected.Set(1)
	}

	w.log.WithField("endpoint", w.cfg.Endpoint).
		Info("ClickHouse writer connected")

	return nil
}

// Conn returns the underlying ClickHouse connection.
func (w *ClickHouseWriter) Conn() clickhouse.Conn {
	return w.conn
}

// Config returns the writer configuration.
func (w *ClickHouseWriter) Config() ClickHouseConfig {
	return w.cfg
}

// Stop closes the ClickHouse connection.
func (w *ClickHouseWriter) Stop() error {
	if w.health != nil {
		w.health.ClickHouseConnected.Set(0)
	}

	if w.conn != nil {
		return w.conn.Close()
	}

	return nil
}

// metricRow is one stored metric sample.
type metricRow struct {
	UpdatedDateTime time.Time
	Metric          string
	Value           uint64
	MetaClientName  string
}

// metricRows flattens a batch into rows ordered by metric path.
func metricRows(batch Batch, now time.Time, clientName string) []metricRow {
	rows := make([]metricRow, 0, len(batch))

	for _, key := range batch.Keys() {
		rows = append(rows, metricRow{
			UpdatedDateTime: now,
			Metric:          key,
			Value:           batch[key],
			MetaClientName:  clientName,
		})
	}

	return rows
}

// ClickHouseExporter stores each batch as rows of (time, metric, value).
type ClickHouseExporter struct {
	log    logrus.FieldLogger
	writer *ClickHouseWriter
}

var _ Exporter = (*ClickHouseExporter)(nil)

// NewClickHouseExporter creates a new ClickHouse exporter.
func NewClickHouseExporter(
	log logrus.FieldLogger,
	writer *ClickHouseWriter,
) *ClickHouseExporter {
	return &ClickHouseExporter{
		log:    log.WithField("exporter", "clickhouse"),
		writer: writer,
	}
}

// Name returns the exporter identifier.
func (e *ClickHouseExporter) Name() string {
	return "clickhouse"
}

// Start connects the underlying writer.
func (e *ClickHouseExporter) Start(ctx context.Context) error {
	return e.writer.Start(ctx)
}

// Stop closes the underlying writer.
func (e *ClickHouseExporter) Stop() error {
	return e.writer.Stop()
}

// Export inserts the batch in a single ClickHouse batch insert.
func (e *ClickHouseExporter) Export(ctx context.Context, batch Batch) error {
	if len(batch) == 0 {
		return nil
	}

	conn := e.writer.Conn()
	if conn == nil {
		return fmt.Errorf("clickhouse writer not connected")
	}

	cfg := e.writer.Config()
	table := fmt.Sprintf("%s.%s", cfg.Database, cfg.Table)

	query := fmt.Sprintf(`INSERT INTO %s (
		updated_date_time, metric, value, meta_client_name
	)`, table)

	b, err := conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing %s batch: %w", cfg.Table, err)
	}

	for _, row := range metricRows(batch, time.Now(), cfg.MetaClientName) {
		if err := b.Append(
			row.UpdatedDateTime, row.Metric, row.Value, row.MetaClientName,
		); err != nil {
			return fmt.Errorf("appending %s row: %w", cfg.Table, err)
		}
	}

	if err := b.Send(); err != nil {
		return fmt.Errorf("sending %s batch: %w", cfg.Table, err)
	}

	e.log.WithField("rows", len(batch)).Debug("Flushed metrics to ClickHouse")

	return nil
}
