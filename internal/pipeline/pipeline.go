// Package pipeline drives capture, session filtering and per-direction
// decoding, and accumulates the inventory of the observed game session.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"firestige.xyz/satchel/internal/capture"
	"firestige.xyz/satchel/internal/config"
	"firestige.xyz/satchel/internal/core"
	"firestige.xyz/satchel/internal/core/decoder"
	"firestige.xyz/satchel/internal/inventory"
	"firestige.xyz/satchel/internal/metrics"
	"firestige.xyz/satchel/internal/reporter"
	"firestige.xyz/satchel/internal/session"
)

// Reasons a session ends without a control datagram.
const (
	ReasonCaptureEnded = "capture_ended"
	ReasonStopped      = "stopped"
	// ReasonAbandoned marks a later session that never showed a handshake.
	// It does not replace the inventory of the sessions before it.
	ReasonAbandoned = "abandoned"
)

const reportTimeout = 5 * time.Second

// Config contains pipeline configuration.
type Config struct {
	Backend    capture.Backend
	Ports      config.PortRangeConfig
	BufferSize int // Raw frame channel buffer size
	IgnoredTTL time.Duration
	Session    config.SessionConfig
	Decoder    decoder.Config
	Reporter   reporter.Reporter // Defaults to the log reporter
	Recorder   *capture.Recorder // Optional raw frame dump
}

// Result is what a run extracted. Snapshot is the model of the last session
// that was not abandoned, or an empty model when there is none.
type Result struct {
	Snapshot *inventory.Model
	Sessions []SessionResult
}

// Last returns the final session that was not abandoned, or nil.
func (r *Result) Last() *SessionResult {
	for i := len(r.Sessions) - 1; i >= 0; i-- {
		if !r.Sessions[i].Abandoned {
			return &r.Sessions[i]
		}
	}
	return nil
}

// Pipeline processes one capture run. Sessions are handled one at a time.
type Pipeline struct {
	cfg      Config
	decoder  *decoder.StandardDecoder
	filter   *session.Filter
	reporter reporter.Reporter
	recorder *capture.Recorder
	metrics  *Metrics

	cancel  context.CancelFunc
	current *Session
	result  Result
	fatal   error
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if cfg.Reporter == nil {
		cfg.Reporter = reporter.NewLogReporter(nil)
	}
	return &Pipeline{
		cfg:      cfg,
		decoder:  decoder.NewStandardDecoder(cfg.Decoder),
		filter:   session.NewFilter(cfg.Ports, cfg.IgnoredTTL),
		reporter: cfg.Reporter,
		recorder: cfg.Recorder,
		metrics:  NewMetrics(),
	}
}

// Metrics returns the pipeline counters.
func (p *Pipeline) Metrics() *Metrics {
	return p.metrics
}

// Run opens the backend and processes frames until ctx is done, the backend
// is exhausted or a session fails fatally. The result is returned in every
// case and holds whatever was accumulated. The error reports a fatal session
// failure or a capture failure; cancellation is not an error.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.cancel = cancel

	backend := p.cfg.Backend
	if backend == nil {
		return p.finish(), fmt.Errorf("%w: no capture backend", core.ErrCaptureUnavailable)
	}
	slog.Info("pipeline starting", "backend", backend.Name())

	if err := backend.Open(runCtx); err != nil {
		if !errors.Is(err, core.ErrCaptureUnavailable) {
			err = fmt.Errorf("%w: %w", core.ErrCaptureUnavailable, err)
		}
		p.report(ctx, core.StatusEvent{Kind: core.StatusCaptureUnavailable, Err: err, Time: time.Now()})
		return p.finish(), err
	}
	defer backend.Close()

	frames := make(chan core.RawFrame, p.cfg.BufferSize)
	captureErr := make(chan error, 1)
	go func() {
		err := backend.Capture(runCtx, frames)
		close(frames)
		captureErr <- err
	}()

	reason := p.demux(runCtx, frames)
	p.endSession(ctx, reason, time.Now())
	cancel()
	err := <-captureErr

	st := backend.Stats()
	slog.Info("pipeline stopped",
		"backend", backend.Name(),
		"frames", p.metrics.Frames.Load(),
		"sessions", len(p.result.Sessions),
		"records", p.metrics.Records.Load(),
		"received", st.PacketsReceived,
		"stalls", st.Stalls,
		"if_dropped", st.PacketsIfDropped)

	if p.fatal != nil {
		return p.finish(), p.fatal
	}
	if err != nil && !errors.Is(err, capture.ErrExhausted) && !errors.Is(err, context.Canceled) {
		p.report(ctx, core.StatusEvent{Kind: core.StatusCaptureUnavailable, Err: err, Time: time.Now()})
		return p.finish(), fmt.Errorf("%w: %w", core.ErrCaptureUnavailable, err)
	}
	return p.finish(), nil
}

func (p *Pipeline) finish() *Result {
	res := p.result
	if last := res.Last(); last != nil {
		res.Snapshot = last.Snapshot
	} else {
		res.Snapshot = inventory.NewModel()
	}
	return &res
}

// demux reads frames and routes game segments until the frame channel
// closes or ctx is done. It returns the reason the active session ends.
func (p *Pipeline) demux(ctx context.Context, frames <-chan core.RawFrame) string {
	for {
		select {
		case <-ctx.Done():
			return ReasonStopped
		case f, ok := <-frames:
			if !ok {
				return ReasonCaptureEnded
			}
			if !p.handleFrame(ctx, f) {
				return ReasonStopped
			}
		}
	}
}

func (p *Pipeline) handleFrame(ctx context.Context, f core.RawFrame) bool {
	p.metrics.Frames.Add(1)
	if p.recorder != nil {
		if err := p.recorder.Write(f); err != nil {
			slog.Warn("raw dump disabled", "error", err)
			p.recorder = nil
		}
	}

	pkt, err := p.decoder.Decode(f)
	metrics.ReassemblyPendingDatagrams.Set(float64(p.decoder.Pending()))
	if err != nil {
		switch {
		case errors.Is(err, core.ErrFragmentPending):
			p.metrics.Fragments.Add(1)
		case errors.Is(err, core.ErrUnsupportedProto):
			p.metrics.Unsupported.Add(1)
		default:
			p.metrics.DecodeErrors.Add(1)
			metrics.CaptureDropsTotal.WithLabelValues(p.cfg.Backend.Name(), "decode").Inc()
			slog.Debug("frame decode failed", "error", err)
		}
		return true
	}
	p.metrics.Decoded.Add(1)

	for _, ev := range p.filter.Process(&pkt) {
		switch ev.Kind {
		case session.EventSessionStarted:
			p.startSession(ctx, ev)
		case session.EventSegments:
			if p.current != nil && !p.current.route(ctx, ev.Segments) {
				return false
			}
		case session.EventSessionEnded:
			p.endSession(ctx, ev.Reason, ev.Time)
		}
	}
	return true
}

func (p *Pipeline) startSession(ctx context.Context, ev session.Event) {
	if p.current != nil {
		p.endSession(ctx, session.ReasonReconnect, ev.Time)
	}

	var seed *inventory.Model
	if last := p.result.Last(); last != nil && p.cfg.Session.CarryForwardOnReconnect && last.Reason == session.ReasonReconnect {
		seed = last.Snapshot
		slog.Info("carrying inventory forward", "session_id", ev.Session.ID, "from_session", last.ID, "records", seed.Len())
	}

	// Once a session has been captured, a later one without a handshake is a
	// stray and must not stop the run.
	optional := p.result.Last() != nil
	p.current = newSession(ev.Session, p.cfg.Session, p.metrics, seed, optional, p.cancel)
	p.metrics.Sessions.Add(1)
	p.report(ctx, core.StatusEvent{
		Kind:      core.StatusSessionStarted,
		SessionID: ev.Session.ID,
		Flow:      ev.Session.Flow.String(),
		Time:      ev.Time,
	})
}

func (p *Pipeline) endSession(ctx context.Context, reason string, ts time.Time) {
	if p.current == nil {
		return
	}
	optional := p.current.optional
	res := p.current.stop(reason)
	p.current = nil
	if optional && errors.Is(res.Err, core.ErrHandshakeNotObserved) {
		res.Abandoned = true
		res.Reason = ReasonAbandoned
		slog.Warn("session abandoned, keeping previous inventory",
			"session_id", res.ID, "flow", res.Flow.String(), "segments", res.Stats.Segments, "error", res.Err)
	}
	p.result.Sessions = append(p.result.Sessions, res)

	kind := core.StatusSessionEnded
	if res.Err != nil && !res.Abandoned {
		kind = core.StatusKindOf(res.Err)
		if p.fatal == nil {
			p.fatal = res.Err
		}
	}
	p.report(ctx, core.StatusEvent{
		Kind:      kind,
		SessionID: res.ID,
		Flow:      res.Flow.String(),
		Reason:    res.Reason,
		Err:       res.Err,
		Time:      ts,
		Stats:     res.Stats,
	})
}

// report delivers ev even after ctx is cancelled.
func (p *Pipeline) report(ctx context.Context, ev core.StatusEvent) {
	metrics.SessionStatusTotal.WithLabelValues(string(ev.Kind)).Inc()
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	if err := p.reporter.Report(rctx, ev); err != nil {
		slog.Warn("status report failed", "kind", ev.Kind, "error", err)
	}
}
