package frame

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"firestige.xyz/satchel/internal/core"
)

// ErrIncomplete is returned by Next when the buffer holds no complete frame.
var ErrIncomplete = errors.New("frame: incomplete")

// Default limits.
const (
	DefaultMaxFrameSize        = 4 << 20
	DefaultMaxDecompressedSize = 16 << 20
)

// Config bounds frame and payload sizes.
type Config struct {
	MaxFrameSize        int // Bodies longer than this are a framing error
	MaxDecompressedSize int // Inflated payloads longer than this are dropped
}

func (c *Config) applyDefaults() {
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.MaxDecompressedSize <= 0 {
		c.MaxDecompressedSize = DefaultMaxDecompressedSize
	}
}

// MessageError is a recoverable failure confined to one message.
type MessageError struct {
	Command uint16
	Seq     uint32
	Err     error
}

func (e *MessageError) Error() string {
	return fmt.Sprintf("frame: command 0x%04x seq %d: %v", e.Command, e.Seq, e.Err)
}

func (e *MessageError) Unwrap() error { return e.Err }

// Decoder deciphers one direction of a session and extracts messages.
// A framing error is terminal: every later call returns it again.
// It is not safe for concurrent use.
type Decoder struct {
	stream cipher.Stream
	buf    []byte
	cfg    Config
	zr     *zstd.Decoder
	err    error
	frames uint64
}

// NewDecoder creates a decoder. stream is positioned at the first byte that
// will be written; a nil stream means the input is plaintext.
func NewDecoder(stream cipher.Stream, cfg Config) *Decoder {
	cfg.applyDefaults()
	return &Decoder{stream: stream, cfg: cfg}
}

// Write appends ciphertext to the decoder, advancing the keystream by len(p).
func (d *Decoder) Write(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	start := len(d.buf)
	d.buf = append(d.buf, p...)
	if d.stream != nil {
		d.stream.XORKeyStream(d.buf[start:], d.buf[start:])
	}
	return len(p), nil
}

// Buffered returns the number of deciphered bytes not yet consumed.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Frames returns the number of complete frames extracted.
func (d *Decoder) Frames() uint64 {
	return d.frames
}

// Next returns the next message. It returns ErrIncomplete when more input is
// needed, an error wrapping core.ErrFramingError when the stream is corrupt,
// and a *MessageError when a single message had to be dropped.
func (d *Decoder) Next() (Message, error) {
	if d.err != nil {
		return Message{}, d.err
	}
	if len(d.buf) < HeaderLen {
		// Reject a bad magic as soon as it is visible.
		if len(d.buf) >= 2 && binary.BigEndian.Uint16(d.buf) != HeadMagic {
			return Message{}, d.fail(fmt.Errorf("head magic 0x%04x: %w", binary.BigEndian.Uint16(d.buf), core.ErrFramingError))
		}
		return Message{}, ErrIncomplete
	}

	h, err := ParseHeader(d.buf)
	if err != nil {
		return Message{}, d.fail(err)
	}
	if uint64(h.BodyLen) > uint64(d.cfg.MaxFrameSize) {
		return Message{}, d.fail(fmt.Errorf("body length %d exceeds %d: %w", h.BodyLen, d.cfg.MaxFrameSize, core.ErrFramingError))
	}
	total := Overhead + int(h.BodyLen)
	if len(d.buf) < total {
		return Message{}, ErrIncomplete
	}
	if tail := binary.BigEndian.Uint16(d.buf[total-TrailerLen:]); tail != TailMagic {
		return Message{}, d.fail(fmt.Errorf("tail magic 0x%04x for command 0x%04x: %w", tail, h.Command, core.ErrFramingError))
	}

	body := d.buf[HeaderLen : total-TrailerLen]
	msg := Message{Command: h.Command, Seq: h.Seq, Flags: h.Flags}
	d.frames++

	if msg.Compressed() {
		payload, err := d.inflate(body)
		d.consume(total)
		if err != nil {
			return Message{}, &MessageError{Command: h.Command, Seq: h.Seq, Err: err}
		}
		msg.Payload = payload
		return msg, nil
	}

	msg.Payload = make([]byte, len(body))
	copy(msg.Payload, body)
	d.consume(total)
	return msg, nil
}

// Feed writes ciphertext and extracts every complete message. Per-message
// failures are collected in dropped; err is a terminal framing error.
func (d *Decoder) Feed(ciphertext []byte) (msgs []Message, dropped []error, err error) {
	if _, err = d.Write(ciphertext); err != nil {
		return nil, nil, err
	}
	for {
		msg, err := d.Next()
		switch {
		case err == nil:
			msgs = append(msgs, msg)
		case errors.Is(err, ErrIncomplete):
			return msgs, dropped, nil
		default:
			var msgErr *MessageError
			if errors.As(err, &msgErr) {
				dropped = append(dropped, err)
				continue
			}
			return msgs, dropped, err
		}
	}
}

// Close releases the decompressor.
func (d *Decoder) Close() {
	if d.zr != nil {
		d.zr.Close()
		d.zr = nil
	}
}

func (d *Decoder) inflate(body []byte) ([]byte, error) {
	if d.zr == nil {
		zr, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(uint64(d.cfg.MaxDecompressedSize)),
		)
		if err != nil {
			return nil, fmt.Errorf("init zstd: %w", err)
		}
		d.zr = zr
	}
	out, err := d.zr.DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	if len(out) > d.cfg.MaxDecompressedSize {
		return nil, fmt.Errorf("inflated size %d exceeds %d", len(out), d.cfg.MaxDecompressedSize)
	}
	return out, nil
}

func (d *Decoder) consume(n int) {
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
}

func (d *Decoder) fail(err error) error {
	d.err = err
	d.buf = nil
	return err
}
