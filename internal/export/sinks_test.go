package export

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricRows_SortedWithMetadata(t *testing.T) {
	now := time.Unix(1700000000, 0)

	rows := metricRows(Batch{
		"fnm.total.outgoing.pps": 2,
		"fnm.total.incoming.pps": 1,
	}, now, "exporter-1")

	require.Len(t, rows, 2)
	assert.Equal(t, metricRow{
		UpdatedDateTime: now,
		Metric:          "fnm.total.incoming.pps",
		Value:           1,
		MetaClientName:  "exporter-1",
	}, rows[0])
	assert.Equal(t, "fnm.total.outgoing.pps", rows[1].Metric)
}

func TestClickHouseConfig_DSN(t *testing.T) {
	cfg := ClickHouseConfig{Endpoint: "localhost:9000", Database: "traffic"}
	assert.Equal(t, "clickhouse://localhost:9000/traffic", cfg.DSN())

	cfg.Username = "default"
	cfg.Password = "secret"
	assert.Equal(t,
		"clickhouse://localhost:9000/traffic?password=secret&username=default",
		cfg.DSN(),
	)
}

func TestClickHouseConfig_DSNEscapesCredentials(t *testing.T) {
	cfg := ClickHouseConfig{
		Endpoint: "localhost:9000",
		Database: "traffic",
		Username: "svc user",
		Password: "p&ss@/x?y=1#z",
	}

	parsed, err := url.Parse(cfg.DSN())
	require.NoError(t, err)

	assert.Equal(t, "clickhouse", parsed.Scheme)
	assert.Equal(t, "localhost:9000", parsed.Host)
	assert.Equal(t, "/traffic", parsed.Path)
	assert.Empty(t, parsed.Fragment)
	assert.Equal(t, "svc user", parsed.Query().Get("username"))
	assert.Equal(t, "p&ss@/x?y=1#z", parsed.Query().Get("password"))
}

func TestClickHouseWriter_Defaults(t *testing.T) {
	w := NewClickHouseWriter(testLog(), ClickHouseConfig{}, nil)

	assert.Equal(t, "default", w.Config().Database)
	assert.Equal(t, "traffic_metrics", w.Config().Table)
	assert.NoError(t, w.Stop())
}

func TestClickHouseExporter_NotConnected(t *testing.T) {
	e := NewClickHouseExporter(testLog(), NewClickHouseWriter(testLog(), ClickHouseConfig{}, nil))

	assert.NoError(t, e.Export(context.Background(), Batch{}))

	err := e.Export(context.Background(), Batch{"x": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestEncodeBatchMessage(t *testing.T) {
	data, err := encodeBatchMessage(Batch{"fnm.total.other.bps": 16}, time.Unix(1700000000, 0))
	require.NoError(t, err)

	var msg BatchMessage
	require.NoError(t, json.Unmarshal(data, &msg))

	assert.Equal(t, int64(1700000000), msg.Timestamp)
	assert.Equal(t, Batch{"fnm.total.other.bps": 16}, msg.Metrics)
	assert.Equal(t, "trafficexporter", msg.Source)
}

func TestNATSExporter_Defaults(t *testing.T) {
	e := NewNATSExporter(testLog(), NATSConfig{})

	assert.Equal(t, "traffic.metrics", e.cfg.Subject)
	assert.Equal(t, 5*time.Second, e.cfg.Timeout)
	assert.NoError(t, e.Stop())
	assert.NoError(t, e.Export(context.Background(), nil))
}
