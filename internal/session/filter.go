// Package session identifies the game flow among captured packets and turns
// its datagrams into directional stream segments.
package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"firestige.xyz/satchel/internal/config"
	"firestige.xyz/satchel/internal/core"
)

// State is the filter state.
type State string

const (
	StateSearching State = "searching"
	StateLocked    State = "locked"
)

// End reasons.
const (
	ReasonDisconnect = "disconnect"
	ReasonReconnect  = "reconnect"
)

// Info describes one game session.
type Info struct {
	ID      string
	Flow    core.FlowKey
	Conv    uint32 // 0 until learned from an Established control or a segment
	Started time.Time
}

// EventKind identifies a filter output.
type EventKind uint8

const (
	EventSessionStarted EventKind = iota + 1
	EventSegments
	EventSessionEnded
)

// Event is one filter output. Session is set for every kind.
type Event struct {
	Kind     EventKind
	Session  *Info
	Segments []core.Segment
	Reason   string
	Time     time.Time
}

// Stats counts filter outcomes.
type Stats struct {
	Locks     uint64
	Ignored   uint64 // packets of other flows while locked
	Foreign   uint64 // packets outside the port range
	Malformed uint64
	Stale     uint64 // late datagrams of ended conversations, mid-stream strays while searching
}

// Filter locks onto the first game flow observed. Once a session has been
// seen, a new one only starts from a control datagram or a segment at the
// start of a stream, and conversations that ended are never locked again.
// It is not safe for concurrent use.
type Filter struct {
	ports   config.PortRangeConfig
	state   State
	current *Info
	ignored *cache.Cache
	ended   *cache.Cache // flow#conv of finished conversations
	stats   Stats
}

// NewFilter creates a filter in StateSearching.
func NewFilter(ports config.PortRangeConfig, ignoredTTL time.Duration) *Filter {
	if ignoredTTL <= 0 {
		ignoredTTL = 5 * time.Minute
	}
	return &Filter{
		ports:   ports,
		state:   StateSearching,
		ignored: cache.New(ignoredTTL, 2*ignoredTTL),
		ended:   cache.New(ignoredTTL, 2*ignoredTTL),
	}
}

func (f *Filter) State() State { return f.state }

// Current returns the locked session, or nil while searching.
func (f *Filter) Current() *Info { return f.current }

func (f *Filter) Stats() Stats { return f.stats }

// classify orients pkt relative to the game server.
func (f *Filter) classify(pkt *core.DecodedPacket) (core.FlowKey, core.Direction, bool) {
	src, dst := pkt.Src(), pkt.Dst()
	switch {
	case f.ports.Contains(dst.Port):
		return core.FlowKey{Client: src, Server: dst}, core.ClientToServer, true
	case f.ports.Contains(src.Port):
		return core.FlowKey{Client: dst, Server: src}, core.ServerToClient, true
	}
	return core.FlowKey{}, 0, false
}

// Process consumes one decoded UDP packet and returns the resulting events.
func (f *Filter) Process(pkt *core.DecodedPacket) []Event {
	flow, dir, ok := f.classify(pkt)
	if !ok {
		f.stats.Foreign++
		return nil
	}
	if f.state == StateLocked && flow != f.current.Flow {
		f.ignore(flow)
		return nil
	}

	if ctl, ok := ParseControl(pkt.Payload); ok {
		return f.control(flow, ctl, pkt.Timestamp)
	}

	segs, conv, err := ParseSegments(pkt.Payload, dir)
	if err != nil {
		f.stats.Malformed++
		slog.Debug("dropping malformed game datagram", "flow", flow.String(), "error", err)
		return nil
	}

	if f.isEnded(flow, conv) {
		f.stale(flow, conv, "ended conversation")
		return nil
	}

	var events []Event
	switch {
	case f.state == StateSearching:
		if f.stats.Locks > 0 && !startsStream(segs) {
			f.stale(flow, conv, "mid-stream while searching")
			return nil
		}
		events = append(events, f.lock(flow, conv, pkt.Timestamp))
	case f.current.Conv == 0:
		f.current.Conv = conv
	case conv != f.current.Conv:
		events = append(events, f.end(ReasonReconnect, pkt.Timestamp))
		events = append(events, f.lock(flow, conv, pkt.Timestamp))
	}
	if len(segs) > 0 {
		events = append(events, Event{Kind: EventSegments, Session: f.current, Segments: segs, Time: pkt.Timestamp})
	}
	return events
}

func (f *Filter) control(flow core.FlowKey, ctl Control, ts time.Time) []Event {
	slog.Debug("control datagram", "flow", flow.String(), "kind", ctl.Kind.String(), "conv", ctl.Conv)
	if ctl.Conv != 0 && f.isEnded(flow, ctl.Conv) {
		f.stale(flow, ctl.Conv, "ended conversation")
		return nil
	}

	if f.state == StateSearching {
		if ctl.Kind == ControlDisconnect {
			return nil
		}
		conv := uint32(0)
		if ctl.Kind == ControlEstablished {
			conv = ctl.Conv
		}
		return []Event{f.lock(flow, conv, ts)}
	}

	switch ctl.Kind {
	case ControlDisconnect:
		if ctl.Conv != 0 && f.current.Conv != 0 && ctl.Conv != f.current.Conv {
			f.stale(flow, ctl.Conv, "disconnect of another conversation")
			return nil
		}
		return []Event{f.end(ReasonDisconnect, ts)}
	case ControlConnect:
		// A fresh connect on a flow that already carried a conversation
		// restarts the game session.
		if f.current.Conv != 0 {
			return []Event{f.end(ReasonReconnect, ts), f.lock(flow, 0, ts)}
		}
	case ControlEstablished:
		switch f.current.Conv {
		case 0:
			f.current.Conv = ctl.Conv
		case ctl.Conv:
		default:
			return []Event{f.end(ReasonReconnect, ts), f.lock(flow, ctl.Conv, ts)}
		}
	}
	return nil
}

func (f *Filter) lock(flow core.FlowKey, conv uint32, ts time.Time) Event {
	f.current = &Info{ID: uuid.NewString(), Flow: flow, Conv: conv, Started: ts}
	f.state = StateLocked
	f.stats.Locks++
	f.ignored.Flush()
	slog.Info("game session locked", "session_id", f.current.ID, "flow", flow.String(), "conv", conv)
	return Event{Kind: EventSessionStarted, Session: f.current, Time: ts}
}

func (f *Filter) end(reason string, ts time.Time) Event {
	ended := f.current
	f.current = nil
	f.state = StateSearching
	if ended.Conv != 0 {
		f.ended.SetDefault(convKey(ended.Flow, ended.Conv), struct{}{})
	}
	slog.Info("game session ended", "session_id", ended.ID, "flow", ended.Flow.String(), "reason", reason)
	return Event{Kind: EventSessionEnded, Session: ended, Reason: reason, Time: ts}
}

func (f *Filter) ignore(flow core.FlowKey) {
	f.stats.Ignored++
	key := flow.String()
	if _, seen := f.ignored.Get(key); seen {
		return
	}
	f.ignored.SetDefault(key, struct{}{})
	slog.Info("ignoring additional game flow while locked",
		"flow", key, "session_id", f.current.ID)
}

func (f *Filter) isEnded(flow core.FlowKey, conv uint32) bool {
	_, ok := f.ended.Get(convKey(flow, conv))
	return ok
}

func (f *Filter) stale(flow core.FlowKey, conv uint32, why string) {
	f.stats.Stale++
	slog.Debug("dropping stale game datagram", "flow", flow.String(), "conv", conv, "reason", why)
}

func convKey(flow core.FlowKey, conv uint32) string {
	return fmt.Sprintf("%s#%d", flow, conv)
}

// startsStream reports whether segs include the first bytes of a stream.
func startsStream(segs []core.Segment) bool {
	for _, seg := range segs {
		if seg.Seq == 0 {
			return true
		}
	}
	return false
}
