package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"firestige.xyz/satchel/internal/cipher"
	"firestige.xyz/satchel/internal/config"
	"firestige.xyz/satchel/internal/core"
	"firestige.xyz/satchel/internal/dispatch"
	"firestige.xyz/satchel/internal/frame"
	"firestige.xyz/satchel/internal/inventory"
	"firestige.xyz/satchel/internal/metrics"
	"firestige.xyz/satchel/internal/session"
	"firestige.xyz/satchel/internal/stream"
)

// Session owns every piece of mutable state belonging to one game session:
// the reorder buffers, the key, the frame decoders and the accumulator.
type Session struct {
	Info *session.Info

	cfg      config.SessionConfig
	acc      *inventory.Accumulator
	metrics  *Metrics
	segments uint64

	// key is written once, before keyReady is closed.
	key      *cipher.State
	keyReady chan struct{}

	s2c *worker
	c2s *worker
	wg  sync.WaitGroup

	errOnce sync.Once
	err     error
	onFatal func()
	// optional sessions do not stop the run when the handshake is missing.
	optional bool
}

// SessionResult is the outcome of a finished session.
type SessionResult struct {
	ID       string
	Flow     core.FlowKey
	Reason    string
	Err       error
	Stats     core.SessionStats
	Snapshot  *inventory.Model
	Abandoned bool
}

// newSession creates a session and starts its direction workers. A non-nil
// seed is carried into the accumulator. onFatal runs once on the first fatal
// error; a missing handshake is not fatal for an optional session.
func newSession(info *session.Info, cfg config.SessionConfig, m *Metrics, seed *inventory.Model, optional bool, onFatal func()) *Session {
	if m == nil {
		m = NewMetrics()
	}
	s := &Session{
		Info:     info,
		cfg:      cfg,
		acc:      inventory.NewAccumulator(cfg.MaxPendingDeltas),
		metrics:  m,
		keyReady: make(chan struct{}),
		onFatal:  onFatal,
		optional: optional,
	}
	if seed != nil {
		s.acc.Seed(seed)
	}

	queue := cfg.DirectionQueue
	if queue <= 0 {
		queue = 1024
	}
	s.s2c = newWorker(s, core.ServerToClient, queue)
	s.s2c.observer = cipher.NewObserver(cfg.HandshakeWindow)
	s.c2s = newWorker(s, core.ClientToServer, queue)

	s.wg.Add(2)
	go s.s2c.run()
	go s.c2s.run()
	return s
}

// route hands segments of one datagram to their direction worker. It returns
// false when ctx ended first.
func (s *Session) route(ctx context.Context, segs []core.Segment) bool {
	if len(segs) == 0 {
		return true
	}
	s.segments += uint64(len(segs))
	w := s.c2s
	if segs[0].Direction == core.ServerToClient {
		w = s.s2c
	}
	select {
	case w.in <- segs:
		return true
	case <-ctx.Done():
		return false
	}
}

// stop drains both workers and finalizes the accumulator.
func (s *Session) stop(reason string) SessionResult {
	close(s.s2c.in)
	close(s.c2s.in)
	s.wg.Wait()

	orphans := s.acc.Finish()
	stats := core.SessionStats{Segments: s.segments, OrphanDeltas: orphans}
	for _, w := range []*worker{s.s2c, s.c2s} {
		d := w.disp.Stats()
		stats.StreamBytes += w.streamBytes
		stats.Messages += w.messages
		stats.SkippedCommands += d.Skipped
		stats.DecodeErrors += w.dropped + d.Failed
		stats.Records += d.Records
	}

	return SessionResult{
		ID:       s.Info.ID,
		Flow:     s.Info.Flow,
		Reason:   reason,
		Err:      s.err,
		Stats:    stats,
		Snapshot: s.acc.Snapshot(),
	}
}

// Snapshot returns the current model. Safe to call while workers run.
func (s *Session) Snapshot() *inventory.Model {
	return s.acc.Snapshot()
}

func (s *Session) fail(err error) {
	s.errOnce.Do(func() {
		s.err = err
		if s.optional && errors.Is(err, core.ErrHandshakeNotObserved) {
			slog.Warn("session without handshake", "session_id", s.Info.ID, "error", err)
			return
		}
		slog.Error("session failed", "session_id", s.Info.ID, "error", err)
		if s.onFatal != nil {
			s.onFatal()
		}
	})
}

func (s *Session) publishKey(key *cipher.State) {
	s.key = key
	close(s.keyReady)
	slog.Info("session key derived", "session_id", s.Info.ID, "key", key.Fingerprint())
}

// worker runs reassembly, deciphering, framing and dispatch for one direction.
type worker struct {
	s   *Session
	dir core.Direction
	in  chan []core.Segment

	reasm    *stream.Reassembler
	observer *cipher.Observer // server to client only
	dec      *frame.Decoder
	disp     *dispatch.Dispatcher

	parked []byte
	off    bool
	done   chan struct{}

	streamBytes uint64
	messages    uint64
	dropped     uint64
}

func newWorker(s *Session, dir core.Direction, queue int) *worker {
	return &worker{
		s:     s,
		dir:   dir,
		in:    make(chan []core.Segment, queue),
		reasm: stream.NewReassembler(0, s.cfg.MaxBufferedBytes),
		disp:  dispatch.New(),
		done:  make(chan struct{}),
	}
}

func (w *worker) run() {
	defer w.s.wg.Done()
	defer close(w.done)

	var ready <-chan struct{}
	if w.observer == nil {
		ready = w.s.keyReady
	}
	for {
		select {
		case segs, ok := <-w.in:
			if !ok {
				w.finish()
				return
			}
			w.push(segs)
		case <-ready:
			ready = nil
			w.unpark()
		}
	}
}

func (w *worker) push(segs []core.Segment) {
	for _, seg := range segs {
		if data := w.reasm.Push(seg); len(data) > 0 {
			w.consume(data)
		}
	}
	metrics.StreamBufferedBytes.WithLabelValues(w.dir.String()).Set(float64(w.reasm.Stats().Buffered))
}

func (w *worker) consume(data []byte) {
	if w.off {
		return
	}
	w.streamBytes += uint64(len(data))

	if w.dec == nil {
		if w.observer == nil {
			select {
			case <-w.s.keyReady:
				w.unpark()
			default:
				w.park(data)
				return
			}
		} else {
			rest, err := w.observer.Feed(data)
			if err != nil {
				w.fail(err)
				return
			}
			if w.observer.Phase() != cipher.PhaseActive {
				return
			}
			w.s.publishKey(w.observer.State())
			w.dec = w.newDecoder()
			data = rest
		}
	}
	if !w.off {
		w.decode(data)
	}
}

func (w *worker) newDecoder() *frame.Decoder {
	return frame.NewDecoder(w.s.key.Fork(), frame.Config{
		MaxFrameSize:        w.s.cfg.MaxFrameSize,
		MaxDecompressedSize: w.s.cfg.MaxDecompressedSize,
	})
}

// park holds client bytes until the server handshake yields the key.
func (w *worker) park(data []byte) {
	limit := w.s.cfg.MaxBufferedBytes
	if limit <= 0 {
		limit = stream.DefaultMaxBuffered
	}
	if len(w.parked)+len(data) > limit {
		slog.Warn("key not derived in time, disabling direction",
			"session_id", w.s.Info.ID, "direction", w.dir.String(), "parked_bytes", len(w.parked)+len(data))
		w.parked = nil
		w.off = true
		return
	}
	w.parked = append(w.parked, data...)
}

// unpark starts decoding once the key is available.
func (w *worker) unpark() {
	if w.dec != nil || w.off {
		return
	}
	w.dec = w.newDecoder()
	parked := w.parked
	w.parked = nil
	if len(parked) > 0 {
		slog.Debug("draining parked bytes", "session_id", w.s.Info.ID, "direction", w.dir.String(), "bytes", len(parked))
		w.decode(parked)
	}
}

func (w *worker) decode(data []byte) {
	if len(data) == 0 {
		return
	}
	msgs, dropped, err := w.dec.Feed(data)
	for _, derr := range dropped {
		w.dropped++
		slog.Debug("message dropped", "session_id", w.s.Info.ID, "direction", w.dir.String(), "error", derr)
	}
	for _, msg := range msgs {
		w.messages++
		records, derr := w.disp.Dispatch(msg)
		if derr != nil {
			continue
		}
		if len(records) > 0 {
			w.s.acc.Apply(records...)
			w.s.metrics.Records.Add(uint64(len(records)))
		}
	}
	if err != nil {
		w.fail(fmt.Errorf("%s stream: %w", w.dir, err))
	}
}

func (w *worker) finish() {
	if w.observer != nil {
		if !w.off {
			if err := w.observer.Finish(); err != nil {
				w.fail(err)
			}
		}
	} else {
		// The server worker may still derive the key from queued bytes.
		select {
		case <-w.s.keyReady:
		case <-w.s.s2c.done:
		}
		select {
		case <-w.s.keyReady:
			w.unpark()
		default:
			if len(w.parked) > 0 {
				slog.Debug("discarding parked bytes without key",
					"session_id", w.s.Info.ID, "direction", w.dir.String(), "bytes", len(w.parked))
			}
		}
	}

	st := w.reasm.Stats()
	dir := w.dir.String()
	metrics.SegmentsTotal.WithLabelValues(dir, "accepted").Add(float64(st.Accepted))
	metrics.SegmentsTotal.WithLabelValues(dir, "duplicate").Add(float64(st.Duplicates))
	metrics.SegmentsTotal.WithLabelValues(dir, "clipped").Add(float64(st.Clipped))
	metrics.SegmentsTotal.WithLabelValues(dir, "dropped").Add(float64(st.Dropped))
	metrics.StreamBufferedBytes.WithLabelValues(dir).Set(0)
	if st.Buffered > 0 {
		slog.Warn("stream ended with a gap", "session_id", w.s.Info.ID, "direction", dir,
			"next_seq", w.reasm.Next(), "buffered_bytes", st.Buffered)
	}
	if w.dec != nil {
		if n := w.dec.Buffered(); n > 0 {
			slog.Warn("stream ended inside a frame", "session_id", w.s.Info.ID, "direction", dir, "buffered_bytes", n)
		}
		slog.Debug("direction finished", "session_id", w.s.Info.ID, "direction", dir,
			"frames", w.dec.Frames(), "messages", w.messages, "dropped", w.dropped)
		w.dec.Close()
	}
}

func (w *worker) fail(err error) {
	w.off = true
	w.parked = nil
	w.s.fail(err)
}
