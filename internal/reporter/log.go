package reporter

import (
	"context"
	"log/slog"

	"firestige.xyz/satchel/internal/core"
)

// LogReporter writes status events to the structured log.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter reports through logger, or slog.Default when nil.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Name() string { return "log" }

func (r *LogReporter) Report(ctx context.Context, ev core.StatusEvent) error {
	level := slog.LevelInfo
	if ev.Kind.Fatal() {
		level = slog.LevelError
	}
	attrs := []any{
		"kind", string(ev.Kind),
		"session_id", ev.SessionID,
		"messages", ev.Stats.Messages,
		"records", ev.Stats.Records,
	}
	if ev.Flow != "" {
		attrs = append(attrs, "flow", ev.Flow)
	}
	if ev.Reason != "" {
		attrs = append(attrs, "reason", ev.Reason)
	}
	if ev.Err != nil {
		attrs = append(attrs, "error", ev.Err)
	}
	if ev.Stats.DecodeErrors > 0 || ev.Stats.OrphanDeltas > 0 {
		attrs = append(attrs, "decode_errors", ev.Stats.DecodeErrors, "orphan_deltas", ev.Stats.OrphanDeltas)
	}
	r.logger.Log(ctx, level, "session status", attrs...)
	return nil
}

func (r *LogReporter) Export(ctx context.Context, sessionID string, doc []byte) error {
	r.logger.InfoContext(ctx, "export ready", "session_id", sessionID, "bytes", len(doc))
	return nil
}

func (r *LogReporter) Close() error { return nil }
