package decoder

import (
	"encoding/binary"
	"net/netip"

	"firestige.xyz/satchel/internal/core"
)

const (
	ipv4HeaderMinLen = 20
	ipv6HeaderLen    = 40
	udpHeaderLen     = 8

	protocolTCP = 6
	protocolUDP = 17

	// IPv6 extension headers walked before the upper-layer header
	ipv6HopByHop = 0
	ipv6Routing  = 43
	ipv6Fragment = 44
	ipv6DestOpts = 60
)

// decodeIP decodes an IPv4 or IPv6 header and returns the upper-layer bytes,
// trimmed to the length the header declares (link padding removed).
func decodeIP(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < 1 {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}
	switch data[0] >> 4 {
	case 4:
		return decodeIPv4(data)
	case 6:
		return decodeIPv6(data)
	default:
		return core.IPHeader{}, nil, core.ErrUnsupportedProto
	}
}

func decodeIPv4(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < ipv4HeaderMinLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}
	headerLen := int(data[0]&0x0F) * 4
	if headerLen < ipv4HeaderMinLen || len(data) < headerLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	ip := core.IPHeader{
		Version:  4,
		TotalLen: binary.BigEndian.Uint16(data[2:4]),
		TTL:      data[8],
		Protocol: data[9],
		SrcIP:    netip.AddrFrom4([4]byte(data[12:16])),
		DstIP:    netip.AddrFrom4([4]byte(data[16:20])),
	}

	end := int(ip.TotalLen)
	if end < headerLen || end > len(data) {
		end = len(data)
	}
	return ip, data[headerLen:end], nil
}

func decodeIPv6(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < ipv6HeaderLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	payloadLen := binary.BigEndian.Uint16(data[4:6])
	ip := core.IPHeader{
		Version:  6,
		TotalLen: uint16(ipv6HeaderLen) + payloadLen,
		TTL:      data[7],
		SrcIP:    netip.AddrFrom16([16]byte(data[8:24])),
		DstIP:    netip.AddrFrom16([16]byte(data[24:40])),
	}

	end := ipv6HeaderLen + int(payloadLen)
	if end > len(data) {
		end = len(data)
	}
	next := data[6]
	rest := data[ipv6HeaderLen:end]

	for {
		switch next {
		case ipv6HopByHop, ipv6Routing, ipv6DestOpts:
			if len(rest) < 8 {
				return ip, nil, core.ErrPacketTooShort
			}
			extLen := (int(rest[1]) + 1) * 8
			if len(rest) < extLen {
				return ip, nil, core.ErrPacketTooShort
			}
			next = rest[0]
			rest = rest[extLen:]
		case ipv6Fragment:
			// Fragmented IPv6 datagrams are not reassembled.
			ip.Protocol = next
			return ip, nil, core.ErrUnsupportedProto
		default:
			ip.Protocol = next
			return ip, rest, nil
		}
	}
}

// isIPFragment reports whether an IPv4 packet is a fragment.
func isIPFragment(ipData []byte, version uint8) bool {
	if version != 4 || len(ipData) < ipv4HeaderMinLen {
		return false
	}
	flagsOffset := binary.BigEndian.Uint16(ipData[6:8])
	return flagsOffset&0x2000 != 0 || flagsOffset&0x1FFF != 0
}

// decodeUDP decodes a UDP header and returns the datagram payload
// trimmed to the UDP length field.
func decodeUDP(data []byte) (core.TransportHeader, []byte, error) {
	if len(data) < udpHeaderLen {
		return core.TransportHeader{}, nil, core.ErrPacketTooShort
	}
	th := core.TransportHeader{
		Protocol: protocolUDP,
		SrcPort:  binary.BigEndian.Uint16(data[0:2]),
		DstPort:  binary.BigEndian.Uint16(data[2:4]),
		Length:   binary.BigEndian.Uint16(data[4:6]),
	}
	end := int(th.Length)
	if end < udpHeaderLen || end > len(data) {
		end = len(data)
	}
	return th, data[udpHeaderLen:end], nil
}
