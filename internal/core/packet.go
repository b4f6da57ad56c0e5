// Package core defines core data structures with zero external dependencies.
package core

import (
	"net/netip"
	"time"
)

// LinkType identifies the link-layer framing of a captured frame.
// Values follow the pcap LINKTYPE_* registry.
type LinkType uint16

const (
	LinkTypeNull     LinkType = 0   // BSD loopback, 4-byte host-order family
	LinkTypeEthernet LinkType = 1   // Ethernet II
	LinkTypeRaw      LinkType = 101 // raw IPv4/IPv6, no link header
	LinkTypeLoop     LinkType = 108 // OpenBSD loopback, 4-byte network-order family
	LinkTypeLinuxSLL LinkType = 113 // Linux cooked capture v1
)

// RawFrame is one link-layer frame produced by a capture backend.
// Data is owned by the frame: backends copy out of ring buffers before sending.
type RawFrame struct {
	Data       []byte    // Raw frame data
	Timestamp  time.Time // Capture timestamp
	CaptureLen uint32    // Captured length
	OrigLen    uint32    // Original frame length on the wire
	LinkType   LinkType  // Link-layer framing of Data
	Interface  string    // Capturing device name (empty for file replay)
}

// DecodedPacket is the result of L2-L4 protocol stack decoding.
type DecodedPacket struct {
	Timestamp   time.Time
	Ethernet    EthernetHeader
	IP          IPHeader
	Transport   TransportHeader
	Payload     []byte // Transport payload, aliases RawFrame.Data unless reassembled
	Reassembled bool   // Whether packet went through IP fragment reassembly
}

// Src returns the source endpoint of the packet.
func (p *DecodedPacket) Src() Endpoint {
	return Endpoint{Addr: p.IP.SrcIP, Port: p.Transport.SrcPort}
}

// Dst returns the destination endpoint of the packet.
func (p *DecodedPacket) Dst() Endpoint {
	return Endpoint{Addr: p.IP.DstIP, Port: p.Transport.DstPort}
}

// Endpoint is an IP address and transport port.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

func (e Endpoint) String() string {
	return netip.AddrPortFrom(e.Addr, e.Port).String()
}

// FlowKey identifies a game flow by its client and server endpoints.
type FlowKey struct {
	Client Endpoint
	Server Endpoint
}

func (k FlowKey) String() string {
	return k.Client.String() + "->" + k.Server.String()
}
