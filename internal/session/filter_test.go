package session

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/satchel/internal/config"
	"firestige.xyz/satchel/internal/core"
)

var (
	client  = core.Endpoint{Addr: netip.MustParseAddr("192.168.1.10"), Port: 50000}
	client2 = core.Endpoint{Addr: netip.MustParseAddr("192.168.1.10"), Port: 50001}
	server  = core.Endpoint{Addr: netip.MustParseAddr("47.88.1.1"), Port: 22101}
	ports   = config.PortRangeConfig{Min: 22101, Max: 22102}
)

func packet(src, dst core.Endpoint, payload []byte) *core.DecodedPacket {
	return &core.DecodedPacket{
		Timestamp: time.Unix(1700000000, 0),
		IP:        core.IPHeader{Version: 4, SrcIP: src.Addr, DstIP: dst.Addr, Protocol: 17},
		Transport: core.TransportHeader{SrcPort: src.Port, DstPort: dst.Port, Protocol: 17},
		Payload:   payload,
	}
}

func push(conv, sn uint32, data string) []byte {
	return AppendSegment(nil, SegmentHeader{Conv: conv, Cmd: CmdPush, Sn: sn}, []byte(data))
}

func TestParseControl(t *testing.T) {
	for _, kind := range []ControlKind{ControlConnect, ControlEstablished, ControlDisconnect} {
		t.Run(kind.String(), func(t *testing.T) {
			b := AppendControl(nil, Control{Kind: kind, Conv: 7, Token: 9, Data: 1234567890})
			require.Len(t, b, ControlLen)
			got, ok := ParseControl(b)
			require.True(t, ok)
			assert.Equal(t, Control{Kind: kind, Conv: 7, Token: 9, Data: 1234567890}, got)
		})
	}

	b := AppendControl(nil, Control{Kind: ControlConnect})
	b[19] = 0
	_, ok := ParseControl(b)
	assert.False(t, ok)
	_, ok = ParseControl(make([]byte, 21))
	assert.False(t, ok)
}

func TestParseSegments(t *testing.T) {
	var dgram []byte
	dgram = AppendSegment(dgram, SegmentHeader{Conv: 5, Cmd: CmdPush, Sn: 0}, []byte("hello"))
	dgram = AppendSegment(dgram, SegmentHeader{Conv: 5, Cmd: CmdAck, Sn: 0}, nil)
	dgram = AppendSegment(dgram, SegmentHeader{Conv: 5, Cmd: CmdPush, Sn: 5}, []byte(" world"))

	segs, conv, err := ParseSegments(dgram, core.ServerToClient)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), conv)
	require.Len(t, segs, 2)
	assert.Equal(t, core.Segment{Direction: core.ServerToClient, Seq: 0, Data: []byte("hello")}, segs[0])
	assert.Equal(t, uint32(5), segs[1].Seq)
	assert.Equal(t, uint32(11), segs[1].End())

	tests := []struct {
		name string
		b    []byte
	}{
		{"short", make([]byte, 10)},
		{"bad cmd", AppendSegment(nil, SegmentHeader{Cmd: 1}, nil)},
		{"truncated data", push(1, 0, "abcdef")[:SegmentHeaderLen+3]},
		{"trailing bytes", append(push(1, 0, "a"), 1, 2, 3)},
		{"mixed conv", append(push(1, 0, "a"), push(2, 1, "b")...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseSegments(tt.b, core.ClientToServer)
			assert.Error(t, err)
		})
	}
}

func TestFilterLocksFirstFlow(t *testing.T) {
	f := NewFilter(ports, time.Minute)
	assert.Equal(t, StateSearching, f.State())

	// Traffic outside the port range never locks.
	other := core.Endpoint{Addr: server.Addr, Port: 443}
	assert.Nil(t, f.Process(packet(client, other, push(1, 0, "x"))))

	events := f.Process(packet(client, server, AppendControl(nil, Control{Kind: ControlConnect})))
	require.Len(t, events, 1)
	assert.Equal(t, EventSessionStarted, events[0].Kind)
	assert.Equal(t, StateLocked, f.State())
	info := f.Current()
	assert.Equal(t, core.FlowKey{Client: client, Server: server}, info.Flow)
	assert.NotEmpty(t, info.ID)

	events = f.Process(packet(server, client, AppendControl(nil, Control{Kind: ControlEstablished, Conv: 42})))
	assert.Empty(t, events)
	assert.Equal(t, uint32(42), f.Current().Conv)

	events = f.Process(packet(server, client, push(42, 0, "abc")))
	require.Len(t, events, 1)
	assert.Equal(t, EventSegments, events[0].Kind)
	assert.Same(t, info, events[0].Session)
	assert.Equal(t, core.ServerToClient, events[0].Segments[0].Direction)

	events = f.Process(packet(client, server, push(42, 0, "req")))
	require.Len(t, events, 1)
	assert.Equal(t, core.ClientToServer, events[0].Segments[0].Direction)

	// A second flow is ignored while locked.
	for i := 0; i < 3; i++ {
		assert.Nil(t, f.Process(packet(client2, server, push(43, 0, "zzz"))))
	}
	assert.Equal(t, uint64(3), f.Stats().Ignored)
	assert.Equal(t, uint64(1), f.Stats().Foreign)
	assert.Equal(t, uint64(1), f.Stats().Locks)
}

func TestFilterLocksOnSegmentMidSession(t *testing.T) {
	f := NewFilter(ports, time.Minute)
	events := f.Process(packet(server, client, push(9, 100, "mid")))
	require.Len(t, events, 2)
	assert.Equal(t, EventSessionStarted, events[0].Kind)
	assert.Equal(t, EventSegments, events[1].Kind)
	assert.Equal(t, uint32(9), f.Current().Conv)
}

func TestFilterDisconnect(t *testing.T) {
	f := NewFilter(ports, time.Minute)

	// Disconnect while searching does not lock.
	assert.Nil(t, f.Process(packet(client, server, AppendControl(nil, Control{Kind: ControlDisconnect}))))
	assert.Equal(t, StateSearching, f.State())

	f.Process(packet(server, client, push(1, 0, "a")))
	first := f.Current()

	events := f.Process(packet(client, server, AppendControl(nil, Control{Kind: ControlDisconnect, Conv: 1})))
	require.Len(t, events, 1)
	assert.Equal(t, EventSessionEnded, events[0].Kind)
	assert.Equal(t, ReasonDisconnect, events[0].Reason)
	assert.Same(t, first, events[0].Session)
	assert.Equal(t, StateSearching, f.State())
	assert.Nil(t, f.Current())

	// Any flow may lock after a disconnect.
	events = f.Process(packet(client2, server, push(2, 0, "b")))
	require.Len(t, events, 2)
	assert.Equal(t, client2, f.Current().Flow.Client)
	assert.NotEqual(t, first.ID, f.Current().ID)
}

func TestFilterReconnect(t *testing.T) {
	tests := []struct {
		name    string
		trigger []byte
		from    core.Endpoint
		to      core.Endpoint
		events  []EventKind
		conv    uint32
	}{
		{
			name:    "connect after conversation",
			trigger: AppendControl(nil, Control{Kind: ControlConnect}),
			from:    client, to: server,
			events: []EventKind{EventSessionEnded, EventSessionStarted},
			conv:   0,
		},
		{
			name:    "established with new conv",
			trigger: AppendControl(nil, Control{Kind: ControlEstablished, Conv: 8}),
			from:    server, to: client,
			events: []EventKind{EventSessionEnded, EventSessionStarted},
			conv:   8,
		},
		{
			name:    "segment with new conv",
			trigger: push(9, 0, "new"),
			from:    server, to: client,
			events: []EventKind{EventSessionEnded, EventSessionStarted, EventSegments},
			conv:   9,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter(ports, time.Minute)
			f.Process(packet(server, client, push(7, 0, "old")))
			old := f.Current()

			events := f.Process(packet(tt.from, tt.to, tt.trigger))
			var kinds []EventKind
			for _, e := range events {
				kinds = append(kinds, e.Kind)
			}
			assert.Equal(t, tt.events, kinds)
			assert.Equal(t, ReasonReconnect, events[0].Reason)
			assert.Same(t, old, events[0].Session)
			assert.NotEqual(t, old.ID, f.Current().ID)
			assert.Equal(t, tt.conv, f.Current().Conv)
		})
	}
}

func TestFilterDropsEndedConversation(t *testing.T) {
	f := NewFilter(ports, time.Minute)
	f.Process(packet(client, server, AppendControl(nil, Control{Kind: ControlConnect})))
	f.Process(packet(server, client, AppendControl(nil, Control{Kind: ControlEstablished, Conv: 7})))
	f.Process(packet(server, client, push(7, 0, "data")))
	events := f.Process(packet(client, server, AppendControl(nil, Control{Kind: ControlDisconnect, Conv: 7})))
	require.Len(t, events, 1)

	late := [][]byte{
		AppendSegment(nil, SegmentHeader{Conv: 7, Cmd: CmdAck, Sn: 4}, nil),
		push(7, 0, "data"),
		push(7, 300, "more"),
		AppendControl(nil, Control{Kind: ControlEstablished, Conv: 7}),
		AppendControl(nil, Control{Kind: ControlDisconnect, Conv: 7}),
	}
	for _, payload := range late {
		assert.Nil(t, f.Process(packet(server, client, payload)))
		assert.Equal(t, StateSearching, f.State())
	}
	assert.Equal(t, uint64(len(late)), f.Stats().Stale)
	assert.Equal(t, uint64(1), f.Stats().Locks)

	// A new conversation on the same flow still locks.
	events = f.Process(packet(server, client, push(8, 0, "new")))
	require.Len(t, events, 2)
	assert.Equal(t, uint32(8), f.Current().Conv)
}

func TestFilterSearchingAfterSessionNeedsStreamStart(t *testing.T) {
	f := NewFilter(ports, time.Minute)
	f.Process(packet(server, client, push(1, 0, "a")))
	f.Process(packet(client, server, AppendControl(nil, Control{Kind: ControlDisconnect, Conv: 1})))

	assert.Nil(t, f.Process(packet(server, client, push(2, 600, "mid"))))
	assert.Nil(t, f.Process(packet(server, client, AppendSegment(nil, SegmentHeader{Conv: 2, Cmd: CmdAck}, nil))))
	assert.Equal(t, StateSearching, f.State())
	assert.Equal(t, uint64(2), f.Stats().Stale)

	events := f.Process(packet(client, server, AppendControl(nil, Control{Kind: ControlConnect})))
	require.Len(t, events, 1)
	assert.Equal(t, EventSessionStarted, events[0].Kind)
}

func TestFilterLateDatagramsAfterReconnect(t *testing.T) {
	f := NewFilter(ports, time.Minute)
	f.Process(packet(server, client, push(7, 0, "old")))
	f.Process(packet(server, client, AppendControl(nil, Control{Kind: ControlEstablished, Conv: 8})))
	current := f.Current()
	require.Equal(t, uint32(8), current.Conv)

	assert.Nil(t, f.Process(packet(server, client, AppendSegment(nil, SegmentHeader{Conv: 7, Cmd: CmdAck, Sn: 3}, nil))))
	assert.Nil(t, f.Process(packet(client, server, push(7, 3, "late"))))
	assert.Nil(t, f.Process(packet(client, server, AppendControl(nil, Control{Kind: ControlDisconnect, Conv: 7}))))
	// A disconnect naming a conversation that is not the current one.
	assert.Nil(t, f.Process(packet(client, server, AppendControl(nil, Control{Kind: ControlDisconnect, Conv: 5}))))

	assert.Same(t, current, f.Current())
	assert.Equal(t, StateLocked, f.State())
	assert.Equal(t, uint64(4), f.Stats().Stale)
}

func TestFilterMalformed(t *testing.T) {
	f := NewFilter(ports, time.Minute)
	assert.Nil(t, f.Process(packet(client, server, []byte{1, 2, 3})))
	assert.Equal(t, StateSearching, f.State())
	assert.Equal(t, uint64(1), f.Stats().Malformed)
}
