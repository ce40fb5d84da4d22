package agent

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trafficexporter/internal/collector"
	"github.com/ethpandaops/trafficexporter/internal/export"
	"github.com/ethpandaops/trafficexporter/internal/metrics"
)

// Agent is the top-level orchestrator for the traffic exporter.
type Agent interface {
	// Start initializes all components and begins collection and export.
	Start(ctx context.Context) error
	// Stop shuts down all components gracefully.
	Stop() error
}

type agent struct {
	log       logrus.FieldLogger
	cfg       *Config
	health    *export.HealthMetrics
	exporters *export.Fanout
	collector *collector.Collector
	pusher    *metrics.Pusher

	cancel context.CancelFunc
}

// New creates a new Agent.
func New(log logrus.FieldLogger, cfg *Config) (Agent, error) {
	health := export.NewHealthMetrics(log, cfg.Health)

	sinks, err := buildSinks(log, cfg, health)
	if err != nil {
		return nil, err
	}

	coll, err := collector.New(log, cfg.Collector, health)
	if err != nil {
		return nil, fmt.Errorf("creating collector: %w", err)
	}

	fanout := export.NewFanout(
		log, health,
		export.NewGraphiteExporter(log, cfg.Graphite),
		sinks...,
	)

	pusher, err := metrics.NewPusher(
		log,
		cfg.Push,
		metrics.Sources{
			Hosts:    coll.Hosts(),
			Networks: coll.Networks(),
			Totals:   coll.Totals(),
		},
		fanout,
		metrics.Destination{Host: cfg.Graphite.Host, Port: cfg.Graphite.Port},
		health,
	)
	if err != nil {
		return nil, fmt.Errorf("creating pusher: %w", err)
	}

	return &agent{
		log:       log.WithField("component", "agent"),
		cfg:       cfg,
		health:    health,
		exporters: fanout,
		collector: coll,
		pusher:    pusher,
	}, nil
}

// buildSinks returns every enabled optional sink. Their failures never
// hold back the Graphite push.
func buildSinks(
	log logrus.FieldLogger,
	cfg *Config,
	health *export.HealthMetrics,
) ([]export.Exporter, error) {
	exporters := make([]export.Exporter, 0, 4)

	if cfg.Sinks.Influx.Enabled {
		exporters = append(exporters, export.NewInfluxExporter(log, cfg.Sinks.Influx))
	}

	if cfg.Sinks.ClickHouse.Enabled {
		writer := export.NewClickHouseWriter(log, cfg.Sinks.ClickHouse, health)
		exporters = append(exporters, export.NewClickHouseExporter(log, writer))
	}

	if cfg.Sinks.NATS.Enabled {
		exporters = append(exporters, export.NewNATSExporter(log, cfg.Sinks.NATS))
	}

	if cfg.Sinks.HTTP.Enabled {
		httpExporter, err := export.NewHTTPExporter(log, cfg.Sinks.HTTP)
		if err != nil {
			return nil, err
		}

		exporters = append(exporters, httpExporter)
	}

	return exporters, nil
}

func (a *agent) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	// 1. Start health metrics server.
	if err := a.health.Start(ctx); err != nil {
		return fmt.Errorf("starting health metrics: %w", err)
	}

	a.log.Info("Health metrics server started")

	// 2. Connect exporters.
	if err := a.exporters.Start(ctx); err != nil {
		return fmt.Errorf("starting exporters: %w", err)
	}

	names := make([]string, 0, len(a.exporters.Exporters()))
	for _, e := range a.exporters.Exporters() {
		names = append(names, e.Name())
	}

	a.log.WithField("exporters", names).Info("Exporters started")

	// 3. Start collecting traffic.
	if err := a.collector.Start(ctx); err != nil {
		return fmt.Errorf("starting collector: %w", err)
	}

	// 4. Start pushing metrics.
	if err := a.pusher.Start(ctx); err != nil {
		return fmt.Errorf("starting pusher: %w", err)
	}

	a.log.WithFields(logrus.Fields{
		"graphite": a.cfg.Graphite.Addr(),
		"prefix":   a.cfg.Push.Prefix,
	}).Info("Agent fully started")

	return nil
}

func (a *agent) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}

	// Stop in reverse order.
	if err := a.pusher.Stop(); err != nil {
		a.log.WithError(err).Error("Error stopping pusher")
	}

	if err := a.collector.Stop(); err != nil {
		a.log.WithError(err).Error("Error stopping collector")
	}

	if err := a.exporters.Stop(); err != nil {
		a.log.WithError(err).Error("Error stopping exporters")
	}

	if err := a.health.Stop(); err != nil {
		a.log.WithError(err).Error("Error stopping health server")
	}

	return nil
}
