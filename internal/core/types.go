// Package core defines core types with zero external dependencies.
package core

import "net/netip"

// EthernetHeader represents L2 Ethernet frame header.
type EthernetHeader struct {
	SrcMAC    [6]byte
	DstMAC    [6]byte
	EtherType uint16   // 0x0800=IPv4, 0x86DD=IPv6, 0x8100=VLAN
	VLANs     []uint16 // 0~2 VLAN IDs (QinQ scenarios have 2)
}

// IPHeader represents L3 IP header (IPv4/IPv6).
type IPHeader struct {
	Version  uint8
	SrcIP    netip.Addr
	DstIP    netip.Addr
	Protocol uint8 // TCP=6, UDP=17
	TTL      uint8
	TotalLen uint16
}

// TransportHeader represents the L4 UDP header.
type TransportHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
	Length   uint16 // UDP length field, header included
}

// Direction is the orientation of game traffic relative to the client.
type Direction uint8

const (
	ClientToServer Direction = iota
	ServerToClient
)

func (d Direction) String() string {
	switch d {
	case ClientToServer:
		return "client_to_server"
	case ServerToClient:
		return "server_to_client"
	default:
		return "unknown"
	}
}

// Segment is a directional, sequenced chunk of one game stream.
// Seq is the stream position of Data[0]; arithmetic on it wraps modulo 2^32.
type Segment struct {
	Direction Direction
	Seq       uint32
	Data      []byte
}

// End returns the sequence number one past the last byte of the segment.
func (s Segment) End() uint32 {
	return s.Seq + uint32(len(s.Data))
}
