package cipher

import (
	"fmt"

	"firestige.xyz/satchel/internal/core"
	"firestige.xyz/satchel/internal/frame"
)

// Phase is the handshake observer state.
type Phase string

const (
	PhaseAwaitingHandshake Phase = "awaiting_handshake"
	PhaseKeyDerived        Phase = "key_derived"
	PhaseActive            Phase = "active"
	PhaseHandshakeFailed   Phase = "handshake_failed"
)

// DefaultHandshakeWindow is how many leading server bytes are searched.
const DefaultHandshakeWindow = 4096

// Observer watches the leading bytes of the server stream for the plaintext
// key-exchange frame. The frame must start within the first window bytes.
type Observer struct {
	window  int
	phase   Phase
	buf     []byte
	scanned int // next candidate start in buf
	state   *State
	err     error
}

// NewObserver creates an observer in PhaseAwaitingHandshake.
func NewObserver(window int) *Observer {
	if window <= 0 {
		window = DefaultHandshakeWindow
	}
	return &Observer{window: window, phase: PhaseAwaitingHandshake}
}

// Phase returns the current phase.
func (o *Observer) Phase() Phase {
	return o.phase
}

// State returns the derived key state, or nil before the handshake.
func (o *Observer) State() *State {
	return o.state
}

// Feed consumes server stream bytes while awaiting the handshake. Once the key
// is derived it returns the bytes following the key-exchange frame; these are
// ciphertext at keystream position zero. After that, Feed passes data through.
// When the window is exhausted it fails with core.ErrHandshakeNotObserved.
func (o *Observer) Feed(data []byte) ([]byte, error) {
	switch o.phase {
	case PhaseActive:
		return data, nil
	case PhaseHandshakeFailed:
		return nil, o.err
	}

	o.buf = append(o.buf, data...)
	limit := min(len(o.buf), o.window)
	for ; o.scanned < limit; o.scanned++ {
		kx, complete, ok := frame.MatchKeyExchange(o.buf[o.scanned:])
		if !ok {
			continue
		}
		if !complete {
			// A plausible prefix; wait for more bytes.
			return nil, nil
		}

		o.state = Derive(kx.ClientSeed, kx.ServerSeed)
		o.phase = PhaseKeyDerived
		rest := o.buf[o.scanned+frame.KeyExchangeFrameLen:]
		o.buf = nil
		o.phase = PhaseActive
		return rest, nil
	}

	if o.scanned >= o.window {
		return nil, o.fail(fmt.Errorf("no key exchange in first %d bytes: %w", o.window, core.ErrHandshakeNotObserved))
	}
	return nil, nil
}

// Finish is called when the stream ends. An observer still awaiting the
// handshake fails with core.ErrHandshakeNotObserved.
func (o *Observer) Finish() error {
	switch o.phase {
	case PhaseActive:
		return nil
	case PhaseHandshakeFailed:
		return o.err
	}
	return o.fail(fmt.Errorf("stream ended after %d bytes: %w", len(o.buf), core.ErrHandshakeNotObserved))
}

func (o *Observer) fail(err error) error {
	o.phase = PhaseHandshakeFailed
	o.err = err
	o.buf = nil
	return err
}
