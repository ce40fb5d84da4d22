//go:build linux

package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// pollInterval bounds how long a receive blocks before ctx is rechecked.
const pollInterval = 250 * time.Millisecond

// LiveSource captures frames from a network interface with an
// AF_PACKET socket. Requires CAP_NET_RAW.
type LiveSource struct {
	log     logrus.FieldLogger
	iface   string
	snapLen int
}

// NewLiveSource creates a LiveSource for iface.
func NewLiveSource(log logrus.FieldLogger, iface string, snapLen int) *LiveSource {
	return &LiveSource{
		log:     log.WithField("source", "live"),
		iface:   iface,
		snapLen: snapLen,
	}
}

// Name returns the source identifier.
func (s *LiveSource) Name() string {
	return "live"
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

func (s *LiveSource) open() (int, error) {
	ifi, err := net.InterfaceByName(s.iface)
	if err != nil {
		return -1, fmt.Errorf("looking up interface %s: %w", s.iface, err)
	}

	proto := htons(unix.ETH_P_ALL)

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return -1, fmt.Errorf("creating packet socket: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrLinklayer{
		Protocol: proto,
		Ifindex:  ifi.Index,
	}); err != nil {
		unix.Close(fd)

		return -1, fmt.Errorf("binding to %s: %w", s.iface, err)
	}

	tv := unix.NsecToTimeval(pollInterval.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)

		return -1, fmt.Errorf("setting receive timeout: %w", err)
	}

	return fd, nil
}

// Run captures until ctx is done.
func (s *LiveSource) Run(ctx context.Context, handle FrameHandler) error {
	fd, err := s.open()
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	s.log.WithFields(logrus.Fields{
		"interface": s.iface,
		"snap_len":  s.snapLen,
	}).Info("Live capture started")

	buf := make([]byte, s.snapLen)

	for ctx.Err() == nil {
		// MSG_TRUNC makes n the full frame length even when truncated.
		n, _, err := unix.Recvfrom(fd, buf, unix.MSG_TRUNC)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}

			return fmt.Errorf("receiving from %s: %w", s.iface, err)
		}

		captured := min(n, len(buf))

		handle(buf[:captured], gopacket.CaptureInfo{
			Timestamp:     time.Now(),
			CaptureLength: captured,
			Length:        n,
		}, layers.LinkTypeEthernet)
	}

	return nil
}
