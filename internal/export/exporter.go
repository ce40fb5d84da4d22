package export

import (
	"context"
	"sort"
)

// Batch maps fully-qualified dotted metric paths to their value.
type Batch map[string]uint64

// Keys returns the batch paths in lexical order.
func (b Batch) Keys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Exporter sends metric batches to a time-series store.
type Exporter interface {
	// Name returns the exporter's identifier for logging.
	Name() string
	// Start initializes the exporter.
	Start(ctx context.Context) error
	// Export delivers one batch. An empty batch is a successful no-op.
	// The exporter must not retain the batch after returning.
	Export(ctx context.Context, batch Batch) error
	// Stop shuts down the exporter gracefully.
	Stop() error
}
