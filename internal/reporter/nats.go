package reporter

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"firestige.xyz/satchel/internal/config"
	"firestige.xyz/satchel/internal/core"
)

const defaultNATSTimeout = 2 * time.Second

// NATSReporter publishes status events on <subject>.status.<kind> and the
// export document on <subject>.export.
type NATSReporter struct {
	conn *nats.Conn
	cfg  config.NATSReporterConfig

	reported atomic.Uint64
	failed   atomic.Uint64
}

// NewNATSReporter connects to the server at cfg.URL.
func NewNATSReporter(cfg config.NATSReporterConfig) (*NATSReporter, error) {
	if cfg.URL == "" || cfg.Subject == "" {
		return nil, fmt.Errorf("%w: nats reporter requires url and subject", core.ErrConfigInvalid)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultNATSTimeout
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name("satchel"),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", cfg.URL, err)
	}
	slog.Info("nats reporter started", "url", cfg.URL, "subject", cfg.Subject)
	return &NATSReporter{conn: conn, cfg: cfg}, nil
}

func (r *NATSReporter) Name() string { return "nats" }

func statusSubject(prefix string, kind core.StatusKind) string {
	return prefix + ".status." + string(kind)
}

func exportSubject(prefix string) string {
	return prefix + ".export"
}

func (r *NATSReporter) publish(subject string, data []byte) error {
	if err := r.conn.Publish(subject, data); err != nil {
		r.failed.Add(1)
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	if err := r.conn.FlushTimeout(r.cfg.Timeout); err != nil {
		r.failed.Add(1)
		return fmt.Errorf("nats flush %s: %w", subject, err)
	}
	r.reported.Add(1)
	return nil
}

func (r *NATSReporter) Report(_ context.Context, ev core.StatusEvent) error {
	data, err := encodeStatus(ev)
	if err != nil {
		r.failed.Add(1)
		return err
	}
	return r.publish(statusSubject(r.cfg.Subject, ev.Kind), data)
}

func (r *NATSReporter) Export(_ context.Context, _ string, doc []byte) error {
	return r.publish(exportSubject(r.cfg.Subject), doc)
}

// Close drains pending publishes and closes the connection.
func (r *NATSReporter) Close() error {
	err := r.conn.Drain()
	slog.Info("nats reporter stopped", "total_reported", r.reported.Load(), "total_errors", r.failed.Load())
	return err
}
