package decoder

import (
	"encoding/binary"

	"firestige.xyz/satchel/internal/core"
)

const (
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4
	loopHeaderLen     = 4
	sllHeaderLen      = 16

	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8

	// BSD address families carried by loopback headers
	afINET        = 2
	afINET6BSD    = 24
	afINET6FBSD   = 28
	afINET6Darwin = 30
)

// decodeLink strips the link-layer header and returns the network-layer bytes.
// The Ethernet header is only populated for LinkTypeEthernet.
func decodeLink(lt core.LinkType, data []byte) (core.EthernetHeader, []byte, error) {
	switch lt {
	case core.LinkTypeEthernet:
		return decodeEthernet(data)
	case core.LinkTypeNull, core.LinkTypeLoop:
		if len(data) < loopHeaderLen {
			return core.EthernetHeader{}, nil, core.ErrPacketTooShort
		}
		// Null carries the family in host order, Loop in network order; accept both.
		family := binary.LittleEndian.Uint32(data[:4])
		if lt == core.LinkTypeLoop || family > 0xFFFF {
			family = binary.BigEndian.Uint32(data[:4])
		}
		switch family {
		case afINET, afINET6BSD, afINET6FBSD, afINET6Darwin:
			return core.EthernetHeader{}, data[loopHeaderLen:], nil
		default:
			return core.EthernetHeader{}, nil, core.ErrUnsupportedProto
		}
	case core.LinkTypeRaw:
		return core.EthernetHeader{}, data, nil
	case core.LinkTypeLinuxSLL:
		if len(data) < sllHeaderLen {
			return core.EthernetHeader{}, nil, core.ErrPacketTooShort
		}
		proto := binary.BigEndian.Uint16(data[14:16])
		if proto != etherTypeIPv4 && proto != etherTypeIPv6 {
			return core.EthernetHeader{}, nil, core.ErrUnsupportedProto
		}
		return core.EthernetHeader{EtherType: proto}, data[sllHeaderLen:], nil
	default:
		return core.EthernetHeader{}, nil, core.ErrUnsupportedProto
	}
}

// decodeEthernet decodes an Ethernet II header including stacked VLAN tags.
func decodeEthernet(data []byte) (core.EthernetHeader, []byte, error) {
	if len(data) < ethernetHeaderLen {
		return core.EthernetHeader{}, nil, core.ErrPacketTooShort
	}

	eth := core.EthernetHeader{}
	copy(eth.DstMAC[:], data[0:6])
	copy(eth.SrcMAC[:], data[6:12])

	etherType := binary.BigEndian.Uint16(data[12:14])
	offset := ethernetHeaderLen

	for etherType == etherTypeVLAN || etherType == etherTypeQinQ {
		if len(data) < offset+vlanHeaderLen {
			return eth, nil, core.ErrPacketTooShort
		}
		tci := binary.BigEndian.Uint16(data[offset : offset+2])
		eth.VLANs = append(eth.VLANs, tci&0x0FFF)
		etherType = binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += vlanHeaderLen
	}
	eth.EtherType = etherType

	// ARP, LLDP and friends never carry game traffic.
	if etherType != etherTypeIPv4 && etherType != etherTypeIPv6 {
		return eth, nil, core.ErrUnsupportedProto
	}
	return eth, data[offset:], nil
}
