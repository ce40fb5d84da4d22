package collector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/trafficexporter/internal/export"
)

// packetReader is satisfied by both pcapgo.Reader and pcapgo.NgReader.
type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// pcapngMagic is the block type of a pcapng section header.
var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

func newPacketReader(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)

	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("reading capture header: %w", err)
	}

	if string(magic) == string(pcapngMagic) {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}

	return pcapgo.NewReader(br)
}

// minPacingDelay is the smallest gap worth sleeping for during replay.
const minPacingDelay = time.Millisecond

// pacer delays replayed frames so they are handed over at the pace they
// were captured, keeping the speed windows true to the capture.
type pacer struct {
	first time.Time
	start time.Time
}

// wait blocks until the frame captured at ts is due.
func (p *pacer) wait(ctx context.Context, ts time.Time) error {
	if ts.IsZero() {
		return nil
	}

	if p.first.IsZero() {
		p.first = ts
		p.start = time.Now()

		return nil
	}

	// Out of order timestamps are replayed immediately.
	offset := ts.Sub(p.first)
	if offset <= 0 {
		return nil
	}

	d := time.Until(p.start.Add(offset))
	if d < minPacingDelay {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ReplayFile reads every frame of a pcap or pcapng file into handle, paced
// by the capture timestamps. It returns early with ctx.Err() when ctx is
// done.
func ReplayFile(ctx context.Context, path string, handle FrameHandler) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening capture %s: %w", path, err)
	}
	defer f.Close()

	r, err := newPacketReader(f)
	if err != nil {
		return 0, fmt.Errorf("parsing capture %s: %w", path, err)
	}

	link := r.LinkType()
	frames := 0

	var pace pacer

	for {
		if frames%1024 == 0 && ctx.Err() != nil {
			return frames, ctx.Err()
		}

		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}

		if err != nil {
			return frames, fmt.Errorf("reading capture %s: %w", path, err)
		}

		if err := pace.wait(ctx, ci.Timestamp); err != nil {
			return frames, err
		}

		handle(data, ci, link)
		frames++
	}
}

// PcapSource replays a fixed list of capture files once.
type PcapSource struct {
	log    logrus.FieldLogger
	paths  []string
	health *export.HealthMetrics
}

// NewPcapSource creates a PcapSource. health may be nil.
func NewPcapSource(log logrus.FieldLogger, paths []string, health *export.HealthMetrics) *PcapSource {
	return &PcapSource{
		log:    log.WithField("source", "pcap"),
		paths:  paths,
		health: health,
	}
}

// Name returns the source identifier.
func (s *PcapSource) Name() string {
	return "pcap"
}

// Run replays each file in order. A file that cannot be read is logged
// and skipped.
func (s *PcapSource) Run(ctx context.Context, handle FrameHandler) error {
	for _, path := range s.paths {
		frames, err := ReplayFile(ctx, path, handle)
		if ctx.Err() != nil {
			return nil
		}

		if err != nil {
			s.log.WithError(err).WithField("file", path).Warn("Failed to replay capture file")

			continue
		}

		if s.health != nil {
			s.health.CaptureFilesRead.Inc()
		}

		s.log.WithFields(logrus.Fields{
			"file":   path,
			"frames": frames,
		}).Info("Replayed capture file")
	}

	return nil
}
