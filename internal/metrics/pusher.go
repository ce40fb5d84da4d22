// Package metrics turns traffic counters into dotted metric batches and
// pushes them to the configured exporter on a fixed period.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trafficexporter/internal/export"
	"github.com/ethpandaops/trafficexporter/internal/traffic"
)

// Push sections, in cycle order.
const (
	SectionTotal    = "total"
	SectionNetworks = "networks"
	SectionHosts    = "hosts"
)

// SnapshotSource returns every entry whose average speed is non-zero.
// Implementations must be safe to call concurrently with writers.
type SnapshotSource[K comparable] interface {
	NonZeroSpeedSnapshot() []traffic.Entry[K]
}

// TotalsSource returns the current global per-direction totals.
type TotalsSource interface {
	Snapshot() traffic.GlobalTotals
}

// Sources are the counter containers read each cycle.
type Sources struct {
	Hosts    SnapshotSource[netip.Addr]
	Networks SnapshotSource[netip.Prefix]
	Totals   TotalsSource
}

// Destination identifies the remote store in failure logs.
type Destination struct {
	Host string
	Port int
}

// Pusher runs the push cycle: totals, then networks, then hosts.
type Pusher struct {
	log      logrus.FieldLogger
	cfg      Config
	sources  Sources
	exporter export.Exporter
	dest     Destination
	health   *export.HealthMetrics

	lastCycle atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPusher creates a Pusher. health may be nil.
func NewPusher(
	log logrus.FieldLogger,
	cfg Config,
	sources Sources,
	exporter export.Exporter,
	dest Destination,
	health *export.HealthMetrics,
) (*Pusher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if sources.Hosts == nil || sources.Networks == nil || sources.Totals == nil {
		return nil, errors.New("hosts, networks and totals sources are required")
	}

	if exporter == nil {
		return nil, errors.New("exporter is required")
	}

	return &Pusher{
		log:      log.WithField("component", "pusher"),
		cfg:      cfg,
		sources:  sources,
		exporter: exporter,
		dest:     dest,
		health:   health,
	}, nil
}

// PushTotals exports the global totals one direction at a time. The first
// failed export aborts the remaining directions.
func (p *Pusher) PushTotals(ctx context.Context) error {
	totals := p.sources.Totals.Snapshot()

	for _, dir := range totalDirections {
		batch := BuildTotalBatch(p.cfg.Prefix, totals, dir)

		// TODO: confirm with dashboard owners whether a failed direction
		// should skip the rest, or whether every direction is attempted.
		if err := p.push(ctx, SectionTotal, batch); err != nil {
			return err
		}
	}

	return nil
}

// PushNetworks exports the per-subnet counters as one batch.
func (p *Pusher) PushNetworks(ctx context.Context) error {
	batch := BuildNetworkBatch(p.cfg.Prefix, p.sources.Networks.NonZeroSpeedSnapshot())

	return p.push(ctx, SectionNetworks, batch)
}

// PushHosts exports the per-host counters as one batch.
func (p *Pusher) PushHosts(ctx context.Context) error {
	batch := BuildHostBatch(p.cfg.Prefix, p.sources.Hosts.NonZeroSpeedSnapshot())

	return p.push(ctx, SectionHosts, batch)
}

func (p *Pusher) push(ctx context.Context, section string, batch export.Batch) error {
	if p.health != nil {
		p.health.BatchSize.WithLabelValues(section).Observe(float64(len(batch)))
	}

	if err := p.exporter.Export(ctx, batch); err != nil {
		if p.health != nil {
			p.health.PushErrors.WithLabelValues(section).Inc()
		}

		p.log.WithError(err).WithFields(logrus.Fields{
			"host":    p.dest.Host,
			"port":    p.dest.Port,
			"section": section,
		}).Error("Can't export data to graphite")

		return fmt.Errorf("pushing %s: %w", section, err)
	}

	return nil
}

// RunCycle performs one push cycle and returns how long it took. Failures
// are logged by the push functions and do not stop the cycle.
func (p *Pusher) RunCycle(ctx context.Context) time.Duration {
	start := time.Now()

	_ = p.PushTotals(ctx)
	_ = p.PushNetworks(ctx)
	_ = p.PushHosts(ctx)

	elapsed := time.Since(start)
	p.lastCycle.Store(int64(elapsed))

	if p.health != nil {
		p.health.PushCycles.Inc()
		p.health.PushCycleDuration.Observe(elapsed.Seconds())
		p.health.PushCycleLastDuration.Set(elapsed.Seconds())
	}

	p.log.WithField("duration", elapsed).Debug("Graphite data pushed")

	return elapsed
}

// LastCycleDuration returns the elapsed time of the most recent cycle.
func (p *Pusher) LastCycleDuration() time.Duration {
	return time.Duration(p.lastCycle.Load())
}

// Start launches the push loop in the background.
func (p *Pusher) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)

	go p.run(ctx)

	p.log.WithFields(logrus.Fields{
		"prefix":        p.cfg.Prefix,
		"push_period":   p.cfg.Period(),
		"startup_delay": p.cfg.StartupDelay,
	}).Info("Pusher started")

	return nil
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
func (p *Pusher) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}

	p.wg.Wait()

	return nil
}

func (p *Pusher) run(ctx context.Context) {
	defer p.wg.Done()

	if !sleep(ctx, p.cfg.StartupDelay) {
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}

		p.RunCycle(ctx)

		if !sleep(ctx, p.cfg.Period()) {
			return
		}
	}
}

// sleep waits for d and reports false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
