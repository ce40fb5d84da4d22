package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Fanout delivers each batch to a primary exporter and any number of
// secondary ones. Every exporter is attempted even if another fails. Only
// a primary failure is returned; secondary failures are logged and counted
// against the failing sink.
type Fanout struct {
	log       logrus.FieldLogger
	exporters []Exporter
	health    *HealthMetrics
}

var _ Exporter = (*Fanout)(nil)

// NewFanout creates a fan-out with primary first, then secondary.
func NewFanout(
	log logrus.FieldLogger,
	health *HealthMetrics,
	primary Exporter,
	secondary ...Exporter,
) *Fanout {
	return &Fanout{
		log:       log.WithField("component", "fanout"),
		exporters: append([]Exporter{primary}, secondary...),
		health:    health,
	}
}

// Name returns the exporter identifier.
func (f *Fanout) Name() string {
	return "fanout"
}

// Exporters returns the wrapped exporters, primary first.
func (f *Fanout) Exporters() []Exporter {
	return f.exporters
}

// Start starts every exporter in order.
func (f *Fanout) Start(ctx context.Context) error {
	for _, e := range f.exporters {
		if err := e.Start(ctx); err != nil {
			return fmt.Errorf("starting exporter %s: %w", e.Name(), err)
		}

		f.log.WithField("exporter", e.Name()).Info("Exporter started")
	}

	return nil
}

// Stop stops every exporter in reverse order.
func (f *Fanout) Stop() error {
	var errs []error

	for i := len(f.exporters) - 1; i >= 0; i-- {
		e := f.exporters[i]
		if err := e.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping exporter %s: %w", e.Name(), err))
		}
	}

	return errors.Join(errs...)
}

// Export sends batch to every exporter and returns the primary's error.
func (f *Fanout) Export(ctx context.Context, batch Batch) error {
	if len(batch) == 0 {
		return nil
	}

	var primaryErr error

	for i, e := range f.exporters {
		start := time.Now()

		err := e.Export(ctx, batch)

		if f.health != nil {
			f.health.ExportDuration.WithLabelValues(e.Name()).
				Observe(time.Since(start).Seconds())
		}

		if err != nil {
			if f.health != nil {
				f.health.ExportErrors.WithLabelValues(e.Name()).Inc()
			}

			if i == 0 {
				primaryErr = fmt.Errorf("%s: %w", e.Name(), err)

				continue
			}

			f.log.WithError(err).WithFields(logrus.Fields{
				"exporter": e.Name(),
				"metrics":  len(batch),
			}).Error("Can't export data to secondary sink")

			continue
		}

		if f.health != nil {
			f.health.MetricsExported.WithLabelValues(e.Name()).
				Add(float64(len(batch)))
		}
	}

	return primaryErr
}
