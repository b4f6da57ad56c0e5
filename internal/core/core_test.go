package core

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"
)

func TestSegmentEndWraps(t *testing.T) {
	seg := Segment{Seq: 0xFFFFFFFE, Data: []byte{1, 2, 3, 4}}
	if got := seg.End(); got != 2 {
		t.Errorf("expected End()=2 after wrap, got %d", got)
	}
}

func TestDirectionString(t *testing.T) {
	tests := []struct {
		dir  Direction
		want string
	}{
		{ClientToServer, "client_to_server"},
		{ServerToClient, "server_to_client"},
		{Direction(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.dir.String(); got != tt.want {
			t.Errorf("Direction(%d).String() = %q, want %q", tt.dir, got, tt.want)
		}
	}
}

func TestFlowKeyString(t *testing.T) {
	key := FlowKey{
		Client: Endpoint{Addr: netip.MustParseAddr("192.168.1.10"), Port: 50000},
		Server: Endpoint{Addr: netip.MustParseAddr("47.88.1.2"), Port: 22101},
	}
	want := "192.168.1.10:50000->47.88.1.2:22101"
	if got := key.String(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestDecodedPacketEndpoints(t *testing.T) {
	pkt := DecodedPacket{
		IP:        IPHeader{SrcIP: netip.MustParseAddr("10.0.0.1"), DstIP: netip.MustParseAddr("10.0.0.2")},
		Transport: TransportHeader{SrcPort: 1234, DstPort: 22102},
	}
	if pkt.Src().Port != 1234 || pkt.Dst().Port != 22102 {
		t.Errorf("unexpected endpoints %v -> %v", pkt.Src(), pkt.Dst())
	}
}

func TestStatusKindOf(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		want  StatusKind
		fatal bool
	}{
		{"capture", fmt.Errorf("pcap: %w", ErrCaptureUnavailable), StatusCaptureUnavailable, true},
		{"handshake", fmt.Errorf("window: %w", ErrHandshakeNotObserved), StatusHandshakeNotObserved, true},
		{"framing", fmt.Errorf("magic: %w", ErrFramingError), StatusFramingError, true},
		{"other", errors.New("boom"), StatusSessionEnded, false},
		{"nil", nil, StatusSessionEnded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StatusKindOf(tt.err)
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			if got.Fatal() != tt.fatal {
				t.Errorf("expected Fatal()=%v for %s", tt.fatal, got)
			}
		})
	}
}

func TestSentinelErrorsWrap(t *testing.T) {
	wrapped := fmt.Errorf("session 1: %w", ErrFramingError)
	if !errors.Is(wrapped, ErrFramingError) {
		t.Error("wrapped error should match ErrFramingError")
	}
	if errors.Is(wrapped, ErrHandshakeNotObserved) {
		t.Error("wrapped error should not match ErrHandshakeNotObserved")
	}
}

func TestStatusEventError(t *testing.T) {
	ev := StatusEvent{Kind: StatusSessionEnded}
	if ev.Error() != "" {
		t.Errorf("expected empty error text, got %q", ev.Error())
	}
	ev.Err = ErrSessionEnded
	if ev.Error() != ErrSessionEnded.Error() {
		t.Errorf("unexpected error text %q", ev.Error())
	}
}
