package collector

import (
	"net/netip"
	"sort"

	"github.com/ethpandaops/trafficexporter/internal/traffic"
)

// Classifier decides traffic direction relative to a set of local networks.
type Classifier struct {
	// prefixes are ordered most specific first.
	prefixes []netip.Prefix
}

// NewClassifier creates a Classifier. Duplicate prefixes are ignored.
func NewClassifier(prefixes []netip.Prefix) *Classifier {
	seen := make(map[netip.Prefix]struct{}, len(prefixes))
	sorted := make([]netip.Prefix, 0, len(prefixes))

	for _, p := range prefixes {
		p = p.Masked()
		if _, ok := seen[p]; ok {
			continue
		}

		seen[p] = struct{}{}
		sorted = append(sorted, p)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Bits() > sorted[j].Bits()
	})

	return &Classifier{prefixes: sorted}
}

// Prefixes returns the local networks, most specific first.
func (c *Classifier) Prefixes() []netip.Prefix {
	return c.prefixes
}

// Match returns the most specific local network containing addr.
func (c *Classifier) Match(addr netip.Addr) (netip.Prefix, bool) {
	addr = addr.Unmap()

	for _, p := range c.prefixes {
		if p.Contains(addr) {
			return p, true
		}
	}

	return netip.Prefix{}, false
}

// Classify returns the direction of a packet from src to dst.
func (c *Classifier) Classify(src, dst netip.Addr) traffic.Direction {
	_, srcLocal := c.Match(src)
	_, dstLocal := c.Match(dst)

	switch {
	case srcLocal && dstLocal:
		return traffic.DirectionInternal
	case dstLocal:
		return traffic.DirectionIncoming
	case srcLocal:
		return traffic.DirectionOutgoing
	default:
		return traffic.DirectionOther
	}
}
