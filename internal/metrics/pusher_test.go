package metrics

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/trafficexporter/internal/export"
	"github.com/ethpandaops/trafficexporter/internal/traffic"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)

	return log
}

type fakeHosts []traffic.Entry[netip.Addr]

func (f fakeHosts) NonZeroSpeedSnapshot() []traffic.Entry[netip.Addr] { return f }

type fakeNetworks []traffic.Entry[netip.Prefix]

func (f fakeNetworks) NonZeroSpeedSnapshot() []traffic.Entry[netip.Prefix] { return f }

type fakeTotals traffic.GlobalTotals

func (f fakeTotals) Snapshot() traffic.GlobalTotals { return traffic.GlobalTotals(f) }

// scriptedExporter records every batch and fails those containing failOn.
type scriptedExporter struct {
	mu      sync.Mutex
	failOn  string
	batches []export.Batch
}

func (s *scriptedExporter) Name() string { return "scripted" }

func (s *scriptedExporter) Start(_ context.Context) error { return nil }

func (s *scriptedExporter) Stop() error { return nil }

func (s *scriptedExporter) Export(_ context.Context, batch export.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batches = append(s.batches, batch)

	if s.failOn == "" {
		return nil
	}

	for key := range batch {
		if strings.Contains(key, s.failOn) {
			return errors.New("connection refused")
		}
	}

	return nil
}

// namedExporter always returns err.
type namedExporter struct {
	name  string
	err   error
	calls int
}

func (n *namedExporter) Name() string { return n.name }

func (n *namedExporter) Start(_ context.Context) error { return nil }

func (n *namedExporter) Stop() error { return nil }

func (n *namedExporter) Export(_ context.Context, _ export.Batch) error {
	n.calls++

	return n.err
}

func (s *scriptedExporter) recorded() []export.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]export.Batch(nil), s.batches...)
}

func testSources() Sources {
	var totals traffic.GlobalTotals
	totals.Speed[traffic.DirectionIncoming] = traffic.TrafficCounterElement{Packets: 1, Bytes: 1}

	return Sources{
		Hosts: fakeHosts{
			hostEntry("10.0.0.1", traffic.SubnetCounter{In: traffic.TrafficCounterElement{Packets: 3}}),
		},
		Networks: fakeNetworks{
			networkEntry("10.0.0.0/24", traffic.SubnetCounter{In: traffic.TrafficCounterElement{Packets: 3}}),
		},
		Totals: fakeTotals(totals),
	}
}

func newTestPusher(t *testing.T, exp export.Exporter, health *export.HealthMetrics) *Pusher {
	t.Helper()

	return newTestPusherWithLog(t, testLog(), exp, health)
}

func newTestPusherWithLog(
	t *testing.T,
	log logrus.FieldLogger,
	exp export.Exporter,
	health *export.HealthMetrics,
) *Pusher {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Prefix = "fnm"
	cfg.StartupDelay = 0

	p, err := NewPusher(log, cfg, testSources(), exp,
		Destination{Host: "127.0.0.1", Port: 2003}, health)
	require.NoError(t, err)

	return p
}

func hookedLog() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	return log, hook
}

func entriesAt(hook *test.Hook, level logrus.Level) []*logrus.Entry {
	var out []*logrus.Entry

	for _, e := range hook.AllEntries() {
		if e.Level == level {
			out = append(out, e)
		}
	}

	return out
}

func firstKey(b export.Batch) string {
	keys := b.Keys()
	if len(keys) == 0 {
		return ""
	}

	return keys[0]
}

func TestNewPusher_Validation(t *testing.T) {
	exp := &scriptedExporter{}

	_, err := NewPusher(testLog(), Config{}, testSources(), exp, Destination{}, nil)
	require.Error(t, err)

	_, err = NewPusher(testLog(), DefaultConfig(), Sources{}, exp, Destination{}, nil)
	require.Error(t, err)

	_, err = NewPusher(testLog(), DefaultConfig(), testSources(), nil, Destination{}, nil)
	require.Error(t, err)
}

func TestRunCycle_Order(t *testing.T) {
	exp := &scriptedExporter{}
	p := newTestPusher(t, exp, nil)

	p.RunCycle(context.Background())

	batches := exp.recorded()
	require.Len(t, batches, 6)

	sections := make([]string, 0, len(batches))
	for _, b := range batches {
		sections = append(sections, firstKey(b))
	}

	assert.Equal(t, []string{
		"fnm.total.incoming.bps",
		"fnm.total.outgoing.bps",
		"fnm.total.internal.bps",
		"fnm.total.other.bps",
		"fnm.networks.10_0_0_0_24.incoming.bps",
		"fnm.hosts.10_0_0_1.incoming.pps",
	}, sections)
}

func TestRunCycle_NetworkFailureStillPushesHosts(t *testing.T) {
	exp := &scriptedExporter{failOn: ".networks."}
	health := export.NewHealthMetrics(testLog(), export.HealthConfig{})
	p := newTestPusher(t, exp, health)

	p.RunCycle(context.Background())

	batches := exp.recorded()
	require.Len(t, batches, 6)
	assert.Equal(t, "fnm.hosts.10_0_0_1.incoming.pps", firstKey(batches[5]))

	assert.Equal(t, 1.0, testutil.ToFloat64(health.PushErrors.WithLabelValues(SectionNetworks)))
	assert.Equal(t, 0.0, testutil.ToFloat64(health.PushErrors.WithLabelValues(SectionHosts)))
	assert.Equal(t, 1.0, testutil.ToFloat64(health.PushCycles))
}

func TestPushTotals_FirstFailureAbortsRemainingDirections(t *testing.T) {
	exp := &scriptedExporter{failOn: ".total.outgoing."}
	p := newTestPusher(t, exp, nil)

	err := p.PushTotals(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pushing total")

	batches := exp.recorded()
	require.Len(t, batches, 2)
	assert.Equal(t, "fnm.total.outgoing.bps", firstKey(batches[1]))

	// The rest of the cycle still runs.
	exp.batches = nil
	p.RunCycle(context.Background())
	assert.Len(t, exp.recorded(), 4)
}

func TestPush_FailureLogsDestination(t *testing.T) {
	log, hook := hookedLog()
	p := newTestPusherWithLog(t, log, &scriptedExporter{failOn: ".networks."}, nil)

	p.RunCycle(context.Background())

	errs := entriesAt(hook, logrus.ErrorLevel)
	require.Len(t, errs, 1)
	assert.Equal(t, "Can't export data to graphite", errs[0].Message)
	assert.Equal(t, "127.0.0.1", errs[0].Data["host"])
	assert.Equal(t, 2003, errs[0].Data["port"])
	assert.Equal(t, SectionNetworks, errs[0].Data["section"])
	assert.Contains(t, errs[0].Data[logrus.ErrorKey].(error).Error(), "connection refused")
}

func TestRunCycle_LogsDurationAtDebug(t *testing.T) {
	log, hook := hookedLog()
	p := newTestPusherWithLog(t, log, &scriptedExporter{}, nil)

	elapsed := p.RunCycle(context.Background())

	var found bool

	for _, e := range entriesAt(hook, logrus.DebugLevel) {
		if e.Message == "Graphite data pushed" {
			found = true

			assert.Equal(t, elapsed, e.Data["duration"])
		}
	}

	assert.True(t, found, "cycle duration not logged")
	assert.Empty(t, entriesAt(hook, logrus.ErrorLevel))
}

func TestPusher_KeepsCyclingAfterFailures(t *testing.T) {
	exp := &scriptedExporter{failOn: "fnm."}
	health := export.NewHealthMetrics(testLog(), export.HealthConfig{})
	p := newTestPusher(t, exp, health)

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(health.PushCycles) >= 2
	}, 4*time.Second, 20*time.Millisecond)

	// Each cycle fails the first total, networks and hosts.
	assert.GreaterOrEqual(t, testutil.ToFloat64(health.PushErrors.WithLabelValues(SectionTotal)), 2.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(health.PushErrors.WithLabelValues(SectionHosts)), 2.0)
}

func TestPushTotals_SecondarySinkFailureDoesNotAbort(t *testing.T) {
	log, hook := hookedLog()
	primary := &scriptedExporter{}
	secondary := &namedExporter{name: "influx", err: errors.New("connection refused")}

	fanout := export.NewFanout(log, nil, primary, secondary)
	p := newTestPusherWithLog(t, log, fanout, nil)

	require.NoError(t, p.PushTotals(context.Background()))

	batches := primary.recorded()
	require.Len(t, batches, 4)
	assert.Equal(t, "fnm.total.other.bps", firstKey(batches[3]))
	assert.Equal(t, 4, secondary.calls)

	for _, e := range entriesAt(hook, logrus.ErrorLevel) {
		assert.NotEqual(t, "Can't export data to graphite", e.Message)
		assert.Equal(t, "influx", e.Data["exporter"])
	}
}

func TestPushHosts_EmptySnapshot(t *testing.T) {
	exp := &scriptedExporter{}
	p := newTestPusher(t, exp, nil)
	p.sources.Hosts = fakeHosts{}

	require.NoError(t, p.PushHosts(context.Background()))

	batches := exp.recorded()
	require.Len(t, batches, 1)
	assert.Empty(t, batches[0])
}

func TestPusher_LastCycleDuration(t *testing.T) {
	p := newTestPusher(t, &scriptedExporter{}, nil)

	assert.Zero(t, p.LastCycleDuration())

	elapsed := p.RunCycle(context.Background())
	assert.Equal(t, elapsed, p.LastCycleDuration())
}

func TestPusher_StartStop(t *testing.T) {
	exp := &scriptedExporter{}
	p := newTestPusher(t, exp, nil)

	require.NoError(t, p.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(exp.recorded()) >= 6
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Stop())

	n := len(exp.recorded())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, len(exp.recorded()))
}

func TestPusher_StopDuringStartupDelay(t *testing.T) {
	exp := &scriptedExporter{}
	p := newTestPusher(t, exp, nil)
	p.cfg.StartupDelay = time.Hour

	require.NoError(t, p.Start(context.Background()))

	done := make(chan struct{})

	go func() {
		_ = p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return during startup delay")
	}

	assert.Empty(t, exp.recorded())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(_ *Config) {}},
		{name: "empty prefix", mutate: func(c *Config) { c.Prefix = "" }, wantErr: true},
		{name: "trailing dot", mutate: func(c *Config) { c.Prefix = "fnm." }, wantErr: true},
		{name: "zero period", mutate: func(c *Config) { c.PushPeriod = 0 }, wantErr: true},
		{name: "negative delay", mutate: func(c *Config) { c.StartupDelay = -time.Second }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}

	cfg := DefaultConfig()
	assert.Equal(t, time.Second, cfg.Period())
}
