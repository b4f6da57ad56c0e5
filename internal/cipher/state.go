// Package cipher recovers the per-session stream key from the observed
// key exchange and applies it to each direction of the game stream.
package cipher

import (
	"encoding/binary"
	"fmt"
)

// KeySize is the length of the derived key material in bytes.
const KeySize = 4096

// State is the key material of one session plus the rolling position of one
// direction. It implements crypto/cipher.Stream. The position advances by
// exactly the number of bytes processed and never resets.
type State struct {
	key *[KeySize]byte
	pos uint64
}

// Derive computes the session key from the two key-exchange seeds.
// It is a pure function of its inputs.
func Derive(clientSeed, serverSeed uint64) *State {
	first := newMT64(clientSeed ^ serverSeed)
	gen := newMT64(first.next())
	gen.next()

	key := new([KeySize]byte)
	for i := 0; i < KeySize; i += 8 {
		binary.BigEndian.PutUint64(key[i:], gen.next())
	}
	return &State{key: key}
}

// Fork returns a state sharing the key material with its own position at zero.
// Each direction of a session holds one fork.
func (s *State) Fork() *State {
	return &State{key: s.key}
}

// Position returns the number of bytes processed so far.
func (s *State) Position() uint64 {
	return s.pos
}

// Key returns a copy of the key material.
func (s *State) Key() []byte {
	out := make([]byte, KeySize)
	copy(out, s.key[:])
	return out
}

// Fingerprint is a short identifier of the key suitable for logs.
func (s *State) Fingerprint() string {
	return fmt.Sprintf("%x", s.key[:8])
}

// XORKeyStream XORs src with the keystream into dst and advances the position.
// dst and src may overlap entirely.
func (s *State) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("cipher: output smaller than input")
	}
	off := s.pos % KeySize
	for i, b := range src {
		dst[i] = b ^ s.key[off]
		off++
		if off == KeySize {
			off = 0
		}
	}
	s.pos += uint64(len(src))
}
