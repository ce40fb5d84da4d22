package metrics

import (
	"net/netip"
	"strings"

	"github.com/ethpandaops/trafficexporter/internal/export"
	"github.com/ethpandaops/trafficexporter/internal/traffic"
)

// Graphite path segments cannot contain dots. IPv6 colons are replaced too.
var (
	hostReplacer    = strings.NewReplacer(".", "_", ":", "_")
	networkReplacer = strings.NewReplacer(".", "_", "/", "_", ":", "_")
)

// HostSegment renders a host address as a single path segment,
// e.g. 10.0.0.1 becomes 10_0_0_1.
func HostSegment(addr netip.Addr) string {
	return hostReplacer.Replace(addr.String())
}

// NetworkSegment renders a prefix as a single path segment,
// e.g. 10.0.0.0/24 becomes 10_0_0_0_24.
func NetworkSegment(prefix netip.Prefix) string {
	return networkReplacer.Replace(prefix.String())
}

// BuildHostBatch renders per-host counters. A pps, bps or flows key is
// present only when its value is non-zero. bps is bytes times 8.
func BuildHostBatch(prefix string, entries []traffic.Entry[netip.Addr]) export.Batch {
	batch := make(export.Batch, len(entries)*len(counterDirections)*3)

	for i := range entries {
		counter := &entries[i].Counter
		if counter.IsZero() {
			continue
		}

		base := prefix + ".hosts." + HostSegment(entries[i].Key) + "."

		for _, d := range counterDirections {
			if v := d.packets(counter); v != 0 {
				batch[base+d.name+".pps"] = v
			}

			if v := d.bytes(counter); v != 0 {
				batch[base+d.name+".bps"] = v * 8
			}

			if v := d.flows(counter); v != 0 {
				batch[base+d.name+".flows"] = v
			}
		}
	}

	return batch
}

// BuildNetworkBatch renders per-subnet counters. Every entry yields its
// incoming and outgoing pps and bps keys, zero or not. Flows are not
// reported for networks.
func BuildNetworkBatch(prefix string, entries []traffic.Entry[netip.Prefix]) export.Batch {
	batch := make(export.Batch, len(entries)*len(counterDirections)*2)

	for i := range entries {
		counter := &entries[i].Counter
		base := prefix + ".networks." + NetworkSegment(entries[i].Key) + "."

		for _, d := range counterDirections {
			batch[base+d.name+".pps"] = d.packets(counter)
			batch[base+d.name+".bps"] = d.bytes(counter) * 8
		}
	}

	return batch
}

// BuildTotalBatch renders the global totals of one direction. pps and bps
// are always present; flows only for directions that track them.
func BuildTotalBatch(prefix string, totals traffic.GlobalTotals, dir traffic.Direction) export.Batch {
	batch := make(export.Batch, 3)

	if int(dir) >= traffic.NumDirections {
		return batch
	}

	base := prefix + ".total." + dir.String() + "."
	speed := totals.Speed[dir]

	batch[base+"pps"] = speed.Packets
	batch[base+"bps"] = speed.Bytes * 8

	if dir.HasFlows() {
		batch[base+"flows"] = totals.Flows(dir)
	}

	return batch
}
