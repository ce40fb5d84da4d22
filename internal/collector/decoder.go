package collector

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	// ErrNotIP is returned for frames without an IPv4 or IPv6 layer.
	ErrNotIP = errors.New("not an IP packet")
	// ErrMalformed is returned for frames that fail to decode.
	ErrMalformed = errors.New("malformed packet")
)

// Packet is the decoded summary of one captured frame.
type Packet struct {
	Src      netip.Addr
	Dst      netip.Addr
	Protocol uint8
	SrcPort  uint16
	DstPort  uint16

	// Length is the original length of the frame on the wire.
	Length int
}

var decodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

// Decode extracts addresses, protocol and ports from a frame. wireLength
// is the original frame length, which may exceed len(data) when the
// capture was truncated; zero means len(data).
func Decode(data []byte, link layers.LinkType, wireLength int) (Packet, error) {
	packet := gopacket.NewPacket(data, link, decodeOptions)

	pkt := Packet{Length: wireLength}
	if pkt.Length <= 0 {
		pkt.Length = len(data)
	}

	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		pkt.Src, _ = netip.AddrFromSlice(ip.SrcIP)
		pkt.Dst, _ = netip.AddrFromSlice(ip.DstIP)
		pkt.Protocol = uint8(ip.Protocol)
	case *layers.IPv6:
		pkt.Src, _ = netip.AddrFromSlice(ip.SrcIP)
		pkt.Dst, _ = netip.AddrFromSlice(ip.DstIP)
		pkt.Protocol = uint8(ip.NextHeader)
	default:
		if errLayer := packet.ErrorLayer(); errLayer != nil {
			return Packet{}, fmt.Errorf("%w: %v", ErrMalformed, errLayer.Error())
		}

		return Packet{}, ErrNotIP
	}

	if !pkt.Src.IsValid() || !pkt.Dst.IsValid() {
		return Packet{}, ErrMalformed
	}

	pkt.Src = pkt.Src.Unmap()
	pkt.Dst = pkt.Dst.Unmap()

	switch l4 := packet.TransportLayer().(type) {
	case *layers.TCP:
		pkt.SrcPort = uint16(l4.SrcPort)
		pkt.DstPort = uint16(l4.DstPort)
	case *layers.UDP:
		pkt.SrcPort = uint16(l4.SrcPort)
		pkt.DstPort = uint16(l4.DstPort)
	}

	return pkt, nil
}

// decodeErrorReason maps a Decode error to a metric label.
func decodeErrorReason(err error) string {
	switch {
	case errors.Is(err, ErrNotIP):
		return "not_ip"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "unknown"
	}
}
