package traffic

import (
	"sync"
	"time"
)

// GlobalTotals is a point-in-time read of the global average speeds.
type GlobalTotals struct {
	// Speed holds packets/s and bytes/s indexed by Direction.
	Speed [NumDirections]TrafficCounterElement

	// IncomingFlows and OutgoingFlows are flows/s across all hosts.
	IncomingFlows uint64
	OutgoingFlows uint64
}

// Flows returns the flow rate for dir, which is zero for directions that
// do not carry flow information.
func (g GlobalTotals) Flows(dir Direction) uint64 {
	switch dir {
	case DirectionIncoming:
		return g.IncomingFlows
	case DirectionOutgoing:
		return g.OutgoingFlows
	default:
		return 0
	}
}

// Totals accumulates global per-direction traffic and exposes its
// averaged speed. Safe for concurrent use.
type Totals struct {
	mu sync.RWMutex

	window      [NumDirections]TrafficCounterElement
	windowFlows [2]uint64

	speed [NumDirections]rateElement
	flows [2]float64
}

// NewTotals creates an empty Totals.
func NewTotals() *Totals {
	return &Totals{}
}

// Account adds packets and bytes to dir in the current window.
func (t *Totals) Account(dir Direction, packets, bytes uint64) {
	if int(dir) >= NumDirections {
		return
	}

	t.mu.Lock()
	t.window[dir].Packets += packets
	t.window[dir].Bytes += bytes
	t.mu.Unlock()
}

// AddFlows adds distinct incoming and outgoing flows seen in the window.
func (t *Totals) AddFlows(in, out uint64) {
	t.mu.Lock()
	t.windowFlows[0] += in
	t.windowFlows[1] += out
	t.mu.Unlock()
}

// Recalculate folds the current window into the average, like
// Counters.Recalculate, and resets the window.
func (t *Totals) Recalculate(elapsed, averageWindow time.Duration) {
	seconds := elapsed.Seconds()
	factor := decayFactor(seconds, averageWindow.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.window {
		t.speed[i] = averageElement(t.speed[i], t.window[i], seconds, factor)
	}

	for i := range t.windowFlows {
		t.flows[i] = average(t.flows[i], speed(t.windowFlows[i], seconds), factor)
	}

	t.window = [NumDirections]TrafficCounterElement{}
	t.windowFlows = [2]uint64{}
}

// Snapshot returns the current averaged totals, rounded.
func (t *Totals) Snapshot() GlobalTotals {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var g GlobalTotals
	for i := range t.speed {
		g.Speed[i] = t.speed[i].element()
	}

	g.IncomingFlows = round(t.flows[0])
	g.OutgoingFlows = round(t.flows[1])

	return g
}
