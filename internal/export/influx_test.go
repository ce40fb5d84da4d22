package export

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfluxExporter_Export(t *testing.T) {
	var (
		receivedPath   string
		receivedBucket string
		receivedAuth   string
		receivedBody   string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.Path
		receivedBucket = r.URL.Query().Get("bucket")
		receivedAuth = r.Header.Get("Authorization")

		body, _ := io.ReadAll(r.Body)
		receivedBody = string(body)

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	e := NewInfluxExporter(testLog(), InfluxConfig{
		URL:             server.URL,
		User:            "user",
		Password:        "pass",
		Database:        "traffic",
		RetentionPolicy: "autogen",
		Hostname:        "exporter-1",
	})
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	err := e.Export(context.Background(), Batch{
		"fnm.total.incoming.pps": 10,
		"fnm.total.incoming.bps": 80,
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/v2/write", receivedPath)
	assert.Equal(t, "traffic/autogen", receivedBucket)
	assert.Equal(t, "Token user:pass", receivedAuth)

	lines := strings.Split(strings.TrimSpace(receivedBody), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "traffic,")
	assert.Contains(t, lines[0], "host=exporter-1")
	assert.Contains(t, lines[0], "metric=fnm.total.incoming.bps")
	assert.Contains(t, lines[0], "value=80i")
	assert.Contains(t, lines[1], "metric=fnm.total.incoming.pps")
	assert.Contains(t, lines[1], "value=10i")
}

func TestInfluxExporter_ClampsOverflowingValues(t *testing.T) {
	var receivedBody string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		receivedBody = string(body)

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	e := NewInfluxExporter(testLog(), InfluxConfig{
		URL:      server.URL,
		Database: "traffic",
		Hostname: "exporter-1",
	})
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	require.NoError(t, e.Export(context.Background(), Batch{
		"fnm.total.incoming.bps": math.MaxUint64,
	}))

	assert.Contains(t, receivedBody, "value=9223372036854775807i")
	assert.NotContains(t, receivedBody, "value=-")
}

func TestInfluxValue(t *testing.T) {
	assert.Equal(t, int64(0), influxValue(0))
	assert.Equal(t, int64(42), influxValue(42))
	assert.Equal(t, int64(math.MaxInt64), influxValue(math.MaxInt64))
	assert.Equal(t, int64(math.MaxInt64), influxValue(math.MaxInt64+1))
	assert.Equal(t, int64(math.MaxInt64), influxValue(math.MaxUint64))
}

func TestInfluxExporter_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	e := NewInfluxExporter(testLog(), InfluxConfig{
		URL:      server.URL,
		Database: "traffic",
	})
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	err := e.Export(context.Background(), Batch{"x": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "writing to influxdb")
}

func TestInfluxExporter_EmptyBatch(t *testing.T) {
	e := NewInfluxExporter(testLog(), InfluxConfig{})

	// No client is needed for an empty batch.
	assert.NoError(t, e.Export(context.Background(), Batch{}))
	assert.Equal(t, "traffic", e.cfg.Measurement)
}
