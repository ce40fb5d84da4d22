package metrics

import "github.com/ethpandaops/trafficexporter/internal/traffic"

// directionFields selects the per-direction values of a counter record.
type directionFields struct {
	dir     traffic.Direction
	name    string
	packets func(c *traffic.SubnetCounter) uint64
	bytes   func(c *traffic.SubnetCounter) uint64
	flows   func(c *traffic.SubnetCounter) uint64
}

// counterDirections drives the host and network builders. Only incoming
// and outgoing traffic is tracked per record.
var counterDirections = [2]directionFields{
	{
		dir:     traffic.DirectionIncoming,
		name:    traffic.DirectionIncoming.String(),
		packets: func(c *traffic.SubnetCounter) uint64 { return c.In.Packets },
		bytes:   func(c *traffic.SubnetCounter) uint64 { return c.In.Bytes },
		flows:   func(c *traffic.SubnetCounter) uint64 { return c.InFlows },
	},
	{
		dir:     traffic.DirectionOutgoing,
		name:    traffic.DirectionOutgoing.String(),
		packets: func(c *traffic.SubnetCounter) uint64 { return c.Out.Packets },
		bytes:   func(c *traffic.SubnetCounter) uint64 { return c.Out.Bytes },
		flows:   func(c *traffic.SubnetCounter) uint64 { return c.OutFlows },
	},
}

// totalDirections is the export order of the global totals.
var totalDirections = traffic.AllDirections
