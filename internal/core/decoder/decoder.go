// Package decoder implements L2-L4 protocol stack decoding for captured frames.
package decoder

import (
	"fmt"

	"firestige.xyz/satchel/internal/core"
)

// Decoder decodes raw frames into structured packets.
type Decoder interface {
	Decode(frame core.RawFrame) (core.DecodedPacket, error)
}

// Config configures the standard decoder.
type Config struct {
	IPReassembly ReassemblyConfig
}

// StandardDecoder decodes link, network and UDP headers and reassembles IPv4 fragments.
// It is not safe for concurrent use; the session filter owns one instance.
type StandardDecoder struct {
	reassembler *Reassembler
}

// NewStandardDecoder creates a decoder.
func NewStandardDecoder(cfg Config) *StandardDecoder {
	return &StandardDecoder{
		reassembler: NewReassembler(cfg.IPReassembly),
	}
}

// Decode decodes one frame. Non-UDP traffic yields core.ErrUnsupportedProto and
// a fragment that does not yet complete a datagram yields core.ErrFragmentPending.
func (d *StandardDecoder) Decode(frame core.RawFrame) (core.DecodedPacket, error) {
	pkt := core.DecodedPacket{Timestamp: frame.Timestamp}

	eth, network, err := decodeLink(frame.LinkType, frame.Data)
	if err != nil {
		return pkt, fmt.Errorf("link: %w", err)
	}
	pkt.Ethernet = eth

	ip, transport, err := decodeIP(network)
	if err != nil {
		return pkt, fmt.Errorf("ip: %w", err)
	}
	pkt.IP = ip
	if ip.Protocol != protocolUDP {
		return pkt, core.ErrUnsupportedProto
	}

	if ip.Version == 4 && isIPFragment(network, 4) {
		whole, complete, err := d.reassembler.Process(network, frame.Timestamp)
		if err != nil {
			return pkt, fmt.Errorf("reassembly: %w", err)
		}
		if !complete {
			return pkt, core.ErrFragmentPending
		}
		transport = whole
		pkt.Reassembled = true
	}

	th, payload, err := decodeUDP(transport)
	if err != nil {
		return pkt, fmt.Errorf("udp: %w", err)
	}
	pkt.Transport = th
	pkt.Payload = payload
	return pkt, nil
}

// Pending returns the number of IPv4 datagrams awaiting more fragments.
func (d *StandardDecoder) Pending() int {
	return d.reassembler.Len()
}
