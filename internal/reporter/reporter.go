// Package reporter delivers session status events and the final export to
// operator-facing sinks.
package reporter

import (
	"context"
	"errors"
	"log/slog"

	"firestige.xyz/satchel/internal/core"
	"firestige.xyz/satchel/internal/metrics"
)

// Reporter receives status events and export documents.
type Reporter interface {
	Name() string
	Report(ctx context.Context, ev core.StatusEvent) error
	// Export publishes a serialized GOOD document for a session.
	Export(ctx context.Context, sessionID string, doc []byte) error
	Close() error
}

// Fanout forwards to every reporter, logging and counting failures so one
// broken sink never blocks the others.
type Fanout []Reporter

func (f Fanout) Name() string { return "fanout" }

func (f Fanout) Report(ctx context.Context, ev core.StatusEvent) error {
	var errs []error
	for _, r := range f {
		if err := r.Report(ctx, ev); err != nil {
			metrics.ReporterErrorsTotal.WithLabelValues(r.Name()).Inc()
			slog.Error("reporter failed", "reporter", r.Name(), "kind", ev.Kind, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Export(ctx context.Context, sessionID string, doc []byte) error {
	var errs []error
	for _, r := range f {
		if err := r.Export(ctx, sessionID, doc); err != nil {
			metrics.ReporterErrorsTotal.WithLabelValues(r.Name()).Inc()
			slog.Error("reporter export failed", "reporter", r.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, r := range f {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
