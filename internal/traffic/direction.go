package traffic

// Direction is the orientation of traffic relative to the monitored networks.
type Direction uint8

const (
	// DirectionIncoming is traffic from a remote address to a local one.
	DirectionIncoming Direction = iota
	// DirectionOutgoing is traffic from a local address to a remote one.
	DirectionOutgoing
	// DirectionInternal is traffic between two local addresses.
	DirectionInternal
	// DirectionOther is traffic where neither side is local.
	DirectionOther
)

// NumDirections is the number of distinct directions.
const NumDirections = 4

// AllDirections lists every direction in export order.
var AllDirections = [NumDirections]Direction{
	DirectionIncoming,
	DirectionOutgoing,
	DirectionInternal,
	DirectionOther,
}

var directionNames = [NumDirections]string{
	DirectionIncoming: "incoming",
	DirectionOutgoing: "outgoing",
	DirectionInternal: "internal",
	DirectionOther:    "other",
}

// String returns the lowercase name used in metric paths.
func (d Direction) String() string {
	if int(d) < len(directionNames) {
		return directionNames[d]
	}

	return "unknown"
}

// HasFlows reports whether flow counts are tracked for the direction.
// Only incoming and outgoing traffic carries flow information.
func (d Direction) HasFlows() bool {
	return d == DirectionIncoming || d == DirectionOutgoing
}
