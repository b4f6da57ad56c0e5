// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Callers wrap these with fmt.Errorf("...: %w") and classify with errors.Is.
var (
	// Capture errors
	ErrCaptureUnavailable = errors.New("satchel: capture unavailable")
	ErrBackendNotFound    = errors.New("satchel: capture backend not found")
	ErrExhausted          = errors.New("satchel: capture source exhausted")

	// Session errors (fatal to the current session)
	ErrHandshakeNotObserved = errors.New("satchel: handshake not observed")
	ErrFramingError         = errors.New("satchel: framing error")
	ErrSessionEnded         = errors.New("satchel: session ended")

	// Packet decoding errors
	ErrPacketTooShort   = errors.New("satchel: packet too short")
	ErrUnsupportedProto = errors.New("satchel: unsupported protocol")
	ErrNotGameTraffic   = errors.New("satchel: not game traffic")

	// IP reassembly errors
	ErrReassemblyLimit = errors.New("satchel: fragment reassembly limit exceeded")
	ErrFragmentPending = errors.New("satchel: fragment awaiting reassembly")

	// Configuration errors
	ErrConfigInvalid = errors.New("satchel: invalid configuration")
)
