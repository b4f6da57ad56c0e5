package session

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/satchel/internal/core"
)

// ControlKind identifies a connection control datagram.
type ControlKind uint8

const (
	ControlConnect ControlKind = iota + 1
	ControlEstablished
	ControlDisconnect
)

func (k ControlKind) String() string {
	switch k {
	case ControlConnect:
		return "connect"
	case ControlEstablished:
		return "established"
	case ControlDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// ControlLen is the size of a control datagram.
const ControlLen = 20

var controlMagic = map[ControlKind][2]uint32{
	ControlConnect:     {0x000000FF, 0xFFFFFFFF},
	ControlEstablished: {0x00000145, 0x14514545},
	ControlDisconnect:  {0x00000194, 0x19419494},
}

// Control is a decoded control datagram.
type Control struct {
	Kind  ControlKind
	Conv  uint32
	Token uint32
	Data  uint32
}

// ParseControl decodes b as a control datagram.
func ParseControl(b []byte) (Control, bool) {
	if len(b) != ControlLen {
		return Control{}, false
	}
	head := binary.BigEndian.Uint32(b[0:4])
	tail := binary.BigEndian.Uint32(b[16:20])
	for kind, magic := range controlMagic {
		if head == magic[0] && tail == magic[1] {
			return Control{
				Kind:  kind,
				Conv:  binary.BigEndian.Uint32(b[4:8]),
				Token: binary.BigEndian.Uint32(b[8:12]),
				Data:  binary.BigEndian.Uint32(b[12:16]),
			}, true
		}
	}
	return Control{}, false
}

// AppendControl appends the wire form of c to dst.
func AppendControl(dst []byte, c Control) []byte {
	magic := controlMagic[c.Kind]
	dst = binary.BigEndian.AppendUint32(dst, magic[0])
	dst = binary.BigEndian.AppendUint32(dst, c.Conv)
	dst = binary.BigEndian.AppendUint32(dst, c.Token)
	dst = binary.BigEndian.AppendUint32(dst, c.Data)
	return binary.BigEndian.AppendUint32(dst, magic[1])
}

// Segment commands.
const (
	CmdPush uint8 = 81
	CmdAck  uint8 = 82
	CmdWask uint8 = 83
	CmdWins uint8 = 84
)

// SegmentHeaderLen is the size of one segment header.
const SegmentHeaderLen = 28

// SegmentHeader is the fixed part of a transport segment (little-endian).
type SegmentHeader struct {
	Conv  uint32
	Token uint32
	Cmd   uint8
	Frg   uint8
	Wnd   uint16
	Ts    uint32
	Sn    uint32
	Una   uint32
	Len   uint32
}

// ParseSegments decodes every segment in a datagram. Only PUSH segments are
// returned; conv is the conversation id of the first segment.
func ParseSegments(b []byte, dir core.Direction) (segs []core.Segment, conv uint32, err error) {
	if len(b) < SegmentHeaderLen {
		return nil, 0, fmt.Errorf("segment datagram of %d bytes: %w", len(b), core.ErrPacketTooShort)
	}
	first := true
	for len(b) > 0 {
		if len(b) < SegmentHeaderLen {
			return nil, 0, fmt.Errorf("trailing %d bytes: %w", len(b), core.ErrPacketTooShort)
		}
		h := parseSegmentHeader(b)
		switch h.Cmd {
		case CmdPush, CmdAck, CmdWask, CmdWins:
		default:
			return nil, 0, fmt.Errorf("segment cmd %d: %w", h.Cmd, core.ErrNotGameTraffic)
		}
		if first {
			conv = h.Conv
			first = false
		} else if h.Conv != conv {
			return nil, 0, fmt.Errorf("mixed conv %d and %d: %w", conv, h.Conv, core.ErrNotGameTraffic)
		}
		end := SegmentHeaderLen + int(h.Len)
		if h.Len > uint32(len(b)-SegmentHeaderLen) {
			return nil, 0, fmt.Errorf("segment length %d exceeds datagram: %w", h.Len, core.ErrPacketTooShort)
		}
		if h.Cmd == CmdPush && h.Len > 0 {
			segs = append(segs, core.Segment{Direction: dir, Seq: h.Sn, Data: b[SegmentHeaderLen:end]})
		}
		b = b[end:]
	}
	return segs, conv, nil
}

func parseSegmentHeader(b []byte) SegmentHeader {
	le := binary.LittleEndian
	return SegmentHeader{
		Conv:  le.Uint32(b[0:4]),
		Token: le.Uint32(b[4:8]),
		Cmd:   b[8],
		Frg:   b[9],
		Wnd:   le.Uint16(b[10:12]),
		Ts:    le.Uint32(b[12:16]),
		Sn:    le.Uint32(b[16:20]),
		Una:   le.Uint32(b[20:24]),
		Len:   le.Uint32(b[24:28]),
	}
}

// AppendSegment appends one segment with the given header and data to dst.
// h.Len is taken from data.
func AppendSegment(dst []byte, h SegmentHeader, data []byte) []byte {
	le := binary.LittleEndian
	dst = le.AppendUint32(dst, h.Conv)
	dst = le.AppendUint32(dst, h.Token)
	dst = append(dst, h.Cmd, h.Frg)
	dst = le.AppendUint16(dst, h.Wnd)
	dst = le.AppendUint32(dst, h.Ts)
	dst = le.AppendUint32(dst, h.Sn)
	dst = le.AppendUint32(dst, h.Una)
	dst = le.AppendUint32(dst, uint32(len(data)))
	return append(dst, data...)
}
