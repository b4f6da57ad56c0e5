// Package frame splits a deciphered game stream into application messages.
//
// Envelope layout (big-endian):
//
//	0x4567 | cmd u16 | flags u8 | seq u32 | len u32 | body[len] | 0x89AB
package frame

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/satchel/internal/core"
)

const (
	HeadMagic  uint16 = 0x4567
	TailMagic  uint16 = 0x89AB
	HeaderLen         = 13
	TrailerLen        = 2
	Overhead          = HeaderLen + TrailerLen

	// FlagCompressed marks a zstd-compressed body.
	FlagCompressed uint8 = 0x01

	// CmdKeyExchange is reserved for the plaintext key-exchange frame that
	// opens the server stream.
	CmdKeyExchange uint16 = 0x0001
	// KeyExchangeBodyLen is the body size of the key-exchange frame: two u64 seeds.
	KeyExchangeBodyLen = 16
)

// Message is one decoded application message. Payload is already decompressed.
type Message struct {
	Command uint16
	Seq     uint32
	Flags   uint8
	Payload []byte
}

// Compressed reports whether the message was compressed on the wire.
func (m Message) Compressed() bool {
	return m.Flags&FlagCompressed != 0
}

// Header is the fixed part of an envelope.
type Header struct {
	Command uint16
	Flags   uint8
	Seq     uint32
	BodyLen uint32
}

// ParseHeader validates the head magic and decodes the fixed header.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, core.ErrPacketTooShort
	}
	if magic := binary.BigEndian.Uint16(b[0:2]); magic != HeadMagic {
		return Header{}, fmt.Errorf("head magic 0x%04x: %w", magic, core.ErrFramingError)
	}
	return Header{
		Command: binary.BigEndian.Uint16(b[2:4]),
		Flags:   b[4],
		Seq:     binary.BigEndian.Uint32(b[5:9]),
		BodyLen: binary.BigEndian.Uint32(b[9:13]),
	}, nil
}

// AppendFrame appends an envelope carrying body to dst.
func AppendFrame(dst []byte, cmd uint16, flags uint8, seq uint32, body []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, HeadMagic)
	dst = binary.BigEndian.AppendUint16(dst, cmd)
	dst = append(dst, flags)
	dst = binary.BigEndian.AppendUint32(dst, seq)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(body)))
	dst = append(dst, body...)
	return binary.BigEndian.AppendUint16(dst, TailMagic)
}

// KeyExchange is the body of the key-exchange frame.
type KeyExchange struct {
	ClientSeed uint64
	ServerSeed uint64
}

// AppendKeyExchange appends a complete plaintext key-exchange frame to dst.
func AppendKeyExchange(dst []byte, kx KeyExchange) []byte {
	body := make([]byte, KeyExchangeBodyLen)
	binary.BigEndian.PutUint64(body[0:8], kx.ClientSeed)
	binary.BigEndian.PutUint64(body[8:16], kx.ServerSeed)
	return AppendFrame(dst, CmdKeyExchange, 0, 0, body)
}

// KeyExchangeFrameLen is the total size of a key-exchange frame.
const KeyExchangeFrameLen = Overhead + KeyExchangeBodyLen

// MatchKeyExchange reports whether b could be the start of a key-exchange
// frame. When b holds the whole frame, complete is true and kx is decoded.
// The sequence tag is not constrained.
func MatchKeyExchange(b []byte) (kx KeyExchange, complete, ok bool) {
	var want [HeaderLen]byte
	binary.BigEndian.PutUint16(want[0:2], HeadMagic)
	binary.BigEndian.PutUint16(want[2:4], CmdKeyExchange)
	binary.BigEndian.PutUint32(want[9:13], KeyExchangeBodyLen)

	for i := 0; i < len(b) && i < HeaderLen; i++ {
		if i >= 5 && i < 9 {
			continue // sequence tag
		}
		if b[i] != want[i] {
			return KeyExchange{}, false, false
		}
	}
	if len(b) < KeyExchangeFrameLen {
		return KeyExchange{}, false, true
	}
	if binary.BigEndian.Uint16(b[HeaderLen+KeyExchangeBodyLen:]) != TailMagic {
		return KeyExchange{}, false, false
	}
	body := b[HeaderLen : HeaderLen+KeyExchangeBodyLen]
	return KeyExchange{
		ClientSeed: binary.BigEndian.Uint64(body[0:8]),
		ServerSeed: binary.BigEndian.Uint64(body[8:16]),
	}, true, true
}
