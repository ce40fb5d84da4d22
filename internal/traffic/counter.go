package traffic

import "math"

// TrafficCounterElement holds the packet and byte count of one direction,
// either accumulated over a window or expressed as a per-second speed.
type TrafficCounterElement struct {
	Packets uint64
	Bytes   uint64
}

// IsZero reports whether both packets and bytes are zero.
func (e TrafficCounterElement) IsZero() bool {
	return e.Packets == 0 && e.Bytes == 0
}

// SubnetCounter is the aggregate record for a single host or subnet prefix.
type SubnetCounter struct {
	In  TrafficCounterElement
	Out TrafficCounterElement

	InFlows  uint64
	OutFlows uint64
}

// IsZero reports whether every field of the record is zero.
func (c SubnetCounter) IsZero() bool {
	return c.In.IsZero() && c.Out.IsZero() &&
		c.InFlows == 0 && c.OutFlows == 0
}

// Entry pairs a container key with its counter at one point in time.
type Entry[K comparable] struct {
	Key     K
	Counter SubnetCounter
}

// idleRate is the average below which a rate counts as idle. Entries whose
// every rate is idle are dropped from a container.
const idleRate = 0.01

// rateElement is the running average of one direction, kept unrounded so
// small per-window changes keep accumulating.
type rateElement struct {
	packets float64
	bytes   float64
}

func (r rateElement) element() TrafficCounterElement {
	return TrafficCounterElement{
		Packets: round(r.packets),
		Bytes:   round(r.bytes),
	}
}

func (r rateElement) idle() bool {
	return r.packets < idleRate && r.bytes < idleRate
}

// rateCounter is the unrounded running average behind a SubnetCounter.
type rateCounter struct {
	in       rateElement
	out      rateElement
	inFlows  float64
	outFlows float64
}

// counter rounds the averages into the record handed to readers.
func (r rateCounter) counter() SubnetCounter {
	return SubnetCounter{
		In:       r.in.element(),
		Out:      r.out.element(),
		InFlows:  round(r.inFlows),
		OutFlows: round(r.outFlows),
	}
}

func (r rateCounter) idle() bool {
	return r.in.idle() && r.out.idle() &&
		r.inFlows < idleRate && r.outFlows < idleRate
}

// round converts a non-negative rate to the nearest integer.
func round(v float64) uint64 {
	if v <= 0 {
		return 0
	}

	if v >= math.MaxUint64 {
		return math.MaxUint64
	}

	return uint64(math.Round(v))
}

// speed converts a window count into a per-second rate.
func speed(count uint64, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}

	return float64(count) / seconds
}

// average folds a new per-second rate into a running exponential average.
// factor is exp(-dt/T); a factor of 0 replaces the average outright.
func average(prev, rate, factor float64) float64 {
	v := rate + factor*(prev-rate)
	if v < 0 {
		return 0
	}

	return v
}

func averageElement(
	prev rateElement,
	window TrafficCounterElement,
	seconds, factor float64,
) rateElement {
	return rateElement{
		packets: average(prev.packets, speed(window.Packets, seconds), factor),
		bytes:   average(prev.bytes, speed(window.Bytes, seconds), factor),
	}
}

func averageCounter(
	prev rateCounter,
	window SubnetCounter,
	seconds, factor float64,
) rateCounter {
	return rateCounter{
		in:       averageElement(prev.in, window.In, seconds, factor),
		out:      averageElement(prev.out, window.Out, seconds, factor),
		inFlows:  average(prev.inFlows, speed(window.InFlows, seconds), factor),
		outFlows: average(prev.outFlows, speed(window.OutFlows, seconds), factor),
	}
}

// decayFactor returns exp(-elapsed/window), or 0 if averaging is disabled.
func decayFactor(elapsedSeconds, windowSeconds float64) float64 {
	if windowSeconds <= 0 {
		return 0
	}

	return math.Exp(-elapsedSeconds / windowSeconds)
}
