package frame

import (
	"crypto/cipher"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	zwOnce sync.Once
	zw     *zstd.Encoder
	zwErr  error
)

func compressor() (*zstd.Encoder, error) {
	zwOnce.Do(func() {
		zw, zwErr = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	})
	return zw, zwErr
}

// Encode returns the plaintext envelope for msg, compressing the payload
// when msg is flagged compressed.
func Encode(msg Message) ([]byte, error) {
	body := msg.Payload
	if msg.Compressed() {
		enc, err := compressor()
		if err != nil {
			return nil, fmt.Errorf("init zstd: %w", err)
		}
		body = enc.EncodeAll(msg.Payload, nil)
	}
	return AppendFrame(make([]byte, 0, Overhead+len(body)), msg.Command, msg.Flags, msg.Seq, body), nil
}

// Encoder produces enciphered envelopes, the inverse of Decoder. It is used
// to build captures for replay and tests.
type Encoder struct {
	stream cipher.Stream
}

// NewEncoder creates an encoder; a nil stream emits plaintext.
func NewEncoder(stream cipher.Stream) *Encoder {
	return &Encoder{stream: stream}
}

// Encode returns the enciphered envelope for msg.
func (e *Encoder) Encode(msg Message) ([]byte, error) {
	out, err := Encode(msg)
	if err != nil {
		return nil, err
	}
	if e.stream != nil {
		e.stream.XORKeyStream(out, out)
	}
	return out, nil
}
