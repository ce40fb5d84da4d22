package traffic

import (
	"sync"
	"time"
)

// Counters is a concurrency-safe container of per-key traffic counters.
// Writers account packets into the current window; Recalculate turns the
// window into per-second speeds and folds them into an exponential average.
// Readers only ever see the averaged speeds.
type Counters[K comparable] struct {
	mu      sync.RWMutex
	window  map[K]*SubnetCounter
	average map[K]rateCounter
}

// NewCounters creates an empty container.
func NewCounters[K comparable]() *Counters[K] {
	return &Counters[K]{
		window:  make(map[K]*SubnetCounter, 1024),
		average: make(map[K]rateCounter, 1024),
	}
}

// Account adds packets and bytes for one direction of key to the current
// window. Directions other than incoming and outgoing are ignored since
// per-key records only track those two.
func (c *Counters[K]) Account(key K, dir Direction, packets, bytes uint64) {
	if dir != DirectionIncoming && dir != DirectionOutgoing {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.record(key)

	if dir == DirectionIncoming {
		rec.In.Packets += packets
		rec.In.Bytes += bytes
	} else {
		rec.Out.Packets += packets
		rec.Out.Bytes += bytes
	}
}

// AddFlows adds distinct flow counts observed in the current window.
func (c *Counters[K]) AddFlows(key K, in, out uint64) {
	if in == 0 && out == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.record(key)
	rec.InFlows += in
	rec.OutFlows += out
}

// record must be called with mu held.
func (c *Counters[K]) record(key K) *SubnetCounter {
	rec, ok := c.window[key]
	if !ok {
		rec = &SubnetCounter{}
		c.window[key] = rec
	}

	return rec
}

// Recalculate converts the current window, which lasted elapsed, into speeds
// and folds them into the average over averageWindow. Entries whose average
// decays below idleRate are removed. The window is reset.
func (c *Counters[K]) Recalculate(elapsed, averageWindow time.Duration) {
	seconds := elapsed.Seconds()
	factor := decayFactor(seconds, averageWindow.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, prev := range c.average {
		var win SubnetCounter
		if rec, ok := c.window[key]; ok {
			win = *rec
			delete(c.window, key)
		}

		next := averageCounter(prev, win, seconds, factor)
		if next.idle() {
			delete(c.average, key)

			continue
		}

		c.average[key] = next
	}

	for key, rec := range c.window {
		next := averageCounter(rateCounter{}, *rec, seconds, factor)
		if !next.idle() {
			c.average[key] = next
		}
	}

	c.window = make(map[K]*SubnetCounter, len(c.window))
}

// NonZeroSpeedSnapshot returns every entry whose rounded average speed is
// non-zero. Each record is copied under the read lock so no entry is torn;
// there is no ordering guarantee.
func (c *Counters[K]) NonZeroSpeedSnapshot() []Entry[K] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]Entry[K], 0, len(c.average))

	for key, rec := range c.average {
		counter := rec.counter()
		if counter.IsZero() {
			continue
		}

		entries = append(entries, Entry[K]{Key: key, Counter: counter})
	}

	return entries
}

// Len returns the number of keys whose average speed is not idle. Keys
// averaging below one unit per second are counted but not in the snapshot.
func (c *Counters[K]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.average)
}
