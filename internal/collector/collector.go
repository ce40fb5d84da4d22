// Package collector populates the host, network and global traffic
// counters from captured packets.
package collector

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trafficexporter/internal/export"
	"github.com/ethpandaops/trafficexporter/internal/traffic"
)

// FrameHandler receives one captured frame.
type FrameHandler func(data []byte, ci gopacket.CaptureInfo, link layers.LinkType)

// Source produces captured frames until it is exhausted or ctx is done.
type Source interface {
	Name() string
	Run(ctx context.Context, handle FrameHandler) error
}

type flowKey struct {
	src, dst         netip.Addr
	proto            uint8
	srcPort, dstPort uint16
}

// Collector classifies packets and accounts them into traffic counters.
type Collector struct {
	log        logrus.FieldLogger
	cfg        Config
	classifier *Classifier
	health     *export.HealthMetrics

	hosts    *traffic.Counters[netip.Addr]
	networks *traffic.Counters[netip.Prefix]
	totals   *traffic.Totals

	flowMu sync.Mutex
	flows  map[flowKey]struct{}

	sources []Source

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Collector with the sources enabled in cfg. health may be nil.
func New(log logrus.FieldLogger, cfg Config, health *export.HealthMetrics) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	prefixes, err := cfg.Prefixes()
	if err != nil {
		return nil, err
	}

	c := &Collector{
		log:        log.WithField("component", "collector"),
		cfg:        cfg,
		classifier: NewClassifier(prefixes),
		health:     health,
		hosts:      traffic.NewCounters[netip.Addr](),
		networks:   traffic.NewCounters[netip.Prefix](),
		totals:     traffic.NewTotals(),
		flows:      make(map[flowKey]struct{}, 1024),
	}

	if len(cfg.PcapFiles) > 0 {
		c.sources = append(c.sources, NewPcapSource(log, cfg.PcapFiles, health))
	}

	if cfg.SpoolDir != "" {
		c.sources = append(c.sources, NewSpoolSource(log, cfg.SpoolDir, health))
	}

	if cfg.Interface != "" {
		c.sources = append(c.sources, NewLiveSource(log, cfg.Interface, cfg.SnapLen))
	}

	return c, nil
}

// Hosts returns the per-host counters.
func (c *Collector) Hosts() *traffic.Counters[netip.Addr] { return c.hosts }

// Networks returns the per-network counters.
func (c *Collector) Networks() *traffic.Counters[netip.Prefix] { return c.networks }

// Totals returns the global counters.
func (c *Collector) Totals() *traffic.Totals { return c.totals }

// Sources returns the configured packet sources.
func (c *Collector) Sources() []Source { return c.sources }

// HandleFrame decodes a frame and accounts it. Undecodable frames are
// counted and dropped.
func (c *Collector) HandleFrame(data []byte, ci gopacket.CaptureInfo, link layers.LinkType) {
	pkt, err := Decode(data, link, ci.Length)
	if err != nil {
		if c.health != nil {
			c.health.PacketDecodeErrors.WithLabelValues(decodeErrorReason(err)).Inc()
		}

		return
	}

	c.Process(pkt)
}

// Process accounts one decoded packet.
func (c *Collector) Process(pkt Packet) {
	dir := c.classifier.Classify(pkt.Src, pkt.Dst)
	size := uint64(pkt.Length)

	c.totals.Account(dir, 1, size)

	if c.health != nil {
		c.health.PacketsProcessed.Inc()
		c.health.BytesProcessed.Add(float64(size))
	}

	var local netip.Addr

	switch dir {
	case traffic.DirectionIncoming:
		local = pkt.Dst
	case traffic.DirectionOutgoing:
		local = pkt.Src
	default:
		return
	}

	c.hosts.Account(local, dir, 1, size)

	if prefix, ok := c.classifier.Match(local); ok {
		c.networks.Account(prefix, dir, 1, size)
	}

	if !c.newFlow(pkt) {
		return
	}

	if dir == traffic.DirectionIncoming {
		c.hosts.AddFlows(local, 1, 0)
		c.totals.AddFlows(1, 0)
	} else {
		c.hosts.AddFlows(local, 0, 1)
		c.totals.AddFlows(0, 1)
	}
}

// newFlow reports whether pkt opens a flow not yet seen in this window.
func (c *Collector) newFlow(pkt Packet) bool {
	key := flowKey{
		src:     pkt.Src,
		dst:     pkt.Dst,
		proto:   pkt.Protocol,
		srcPort: pkt.SrcPort,
		dstPort: pkt.DstPort,
	}

	c.flowMu.Lock()
	defer c.flowMu.Unlock()

	if _, ok := c.flows[key]; ok {
		return false
	}

	c.flows[key] = struct{}{}

	return true
}

// Recalculate turns the counts of the elapsed window into speeds.
func (c *Collector) Recalculate(elapsed time.Duration) {
	start := time.Now()

	c.flowMu.Lock()
	clear(c.flows)
	c.flowMu.Unlock()

	c.hosts.Recalculate(elapsed, c.cfg.AverageWindow)
	c.networks.Recalculate(elapsed, c.cfg.AverageWindow)
	c.totals.Recalculate(elapsed, c.cfg.AverageWindow)

	if c.health != nil {
		c.health.HostsTracked.Set(float64(c.hosts.Len()))
		c.health.SubnetsTracked.Set(float64(c.networks.Len()))
		c.health.SpeedRecalcDuration.Observe(time.Since(start).Seconds())
	}
}

// Start launches the speed recalculation loop and every packet source.
func (c *Collector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)

	go c.recalcLoop(ctx)

	for _, src := range c.sources {
		c.wg.Add(1)

		go func(src Source) {
			defer c.wg.Done()

			log := c.log.WithField("source", src.Name())
			log.Info("Packet source started")

			if err := src.Run(ctx, c.HandleFrame); err != nil {
				log.WithError(err).Error("Packet source failed")

				return
			}

			log.Info("Packet source finished")
		}(src)
	}

	c.log.WithFields(logrus.Fields{
		"networks": len(c.classifier.Prefixes()),
		"sources":  len(c.sources),
	}).Info("Collector started")

	return nil
}

// Stop cancels the sources and the recalculation loop.
func (c *Collector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}

	c.wg.Wait()

	return nil
}

func (c *Collector) recalcLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SpeedInterval)
	defer ticker.Stop()

	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.Recalculate(now.Sub(last))
			last = now
		}
	}
}
