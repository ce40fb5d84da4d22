package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "trafficexporter"

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Addr is the listen address for the health metrics server.
	// Defaults to ":9090".
	Addr string `yaml:"addr"`
}

// HealthMetrics exposes Prometheus metrics for exporter health.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Push loop.
	PushCycles            prometheus.Counter
	PushCycleDuration     prometheus.Histogram
	PushCycleLastDuration prometheus.Gauge
	PushErrors            *prometheus.CounterVec   // section
	BatchSize             *prometheus.HistogramVec // section

	// Exporters.
	ExportErrors        *prometheus.CounterVec   // sink
	ExportDuration      *prometheus.HistogramVec // sink
	MetricsExported     *prometheus.CounterVec   // sink
	ClickHouseConnected prometheus.Gauge

	// Collection.
	PacketsProcessed    prometheus.Counter
	BytesProcessed      prometheus.Counter
	PacketDecodeErrors  *prometheus.CounterVec // reason
	CaptureFilesRead    prometheus.Counter
	HostsTracked        prometheus.Gauge
	SubnetsTracked      prometheus.Gauge
	SpeedRecalcDuration prometheus.Histogram

	running atomic.Bool
}

// NewHealthMetrics creates a new health metrics server.
func NewHealthMetrics(
	log logrus.FieldLogger,
	cfg HealthConfig,
) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		registry: reg,

		PushCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_cycles_total",
			Help:      "Total completed push cycles.",
		}),
		PushCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "push_cycle_duration_seconds",
			Help:      "Time to build and export all batches in one cycle.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}, // 1ms-10s
		}),
		PushCycleLastDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "push_cycle_last_duration_seconds",
			Help:      "Duration of the most recent push cycle.",
		}),
		PushErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "push_errors_total",
				Help:      "Total failed pushes by section (total, networks, hosts).",
			},
			[]string{"section"},
		),
		BatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_size",
				Help:      "Number of metrics per exported batch by section.",
				Buckets:   []float64{1, 10, 100, 1000, 10000, 100000},
			},
			[]string{"section"},
		),
		ExportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "export_errors_total",
				Help:      "Total export errors by sink.",
			},
			[]string{"sink"},
		),
		ExportDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "export_duration_seconds",
				Help:      "Time to deliver one batch by sink.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}, // 1ms-5s
			},
			[]string{"sink"},
		),
		MetricsExported: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metrics_exported_total",
				Help:      "Total metrics delivered by sink.",
			},
			[]string{"sink"},
		),
		ClickHouseConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clickhouse_connected",
			Help:      "Whether ClickHouse connection is established (1=yes, 0=no).",
		}),
		PacketsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_processed_total",
			Help:      "Total packets accounted into traffic counters.",
		}),
		BytesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_processed_total",
			Help:      "Total bytes accounted into traffic counters.",
		}),
		PacketDecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packet_decode_errors_total",
				Help:      "Total packets skipped by reason.",
			},
			[]string{"reason"},
		),
		CaptureFilesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_files_read_total",
			Help:      "Total pcap files replayed.",
		}),
		HostsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hosts_tracked",
			Help:      "Hosts with a non-zero average speed.",
		}),
		SubnetsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subnets_tracked",
			Help:      "Subnets with a non-zero average speed.",
		}),
		SpeedRecalcDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "speed_recalc_duration_seconds",
			Help:      "Time to recalculate average speeds.",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 1},
		}),
	}

	reg.MustRegister(
		h.PushCycles,
		h.PushCycleDuration,
		h.PushCycleLastDuration,
		h.PushErrors,
		h.BatchSize,
	)

	reg.MustRegister(
		h.ExportErrors,
		h.ExportDuration,
		h.MetricsExported,
		h.ClickHouseConnected,
	)

	reg.MustRegister(
		h.PacketsProcessed,
		h.BytesProcessed,
		h.PacketDecodeErrors,
		h.CaptureFilesRead,
		h.HostsTracked,
		h.SubnetsTracked,
		h.SpeedRecalcDuration,
	)

	return h
}

// Start begins serving the /metrics endpoint.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		h.addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	// pprof endpoints for CPU/memory profiling.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln

	h.server = &http.Server{
		Handler: mux,
	}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Stop gracefully shuts down the health metrics server.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}
