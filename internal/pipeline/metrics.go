package pipeline

import (
	"sync/atomic"
)

// Metrics contains per-run counters. They are safe to read while the
// pipeline runs.
type Metrics struct {
	Frames       atomic.Uint64
	Decoded      atomic.Uint64
	DecodeErrors atomic.Uint64
	Fragments    atomic.Uint64 // frames held for IPv4 reassembly
	Unsupported  atomic.Uint64 // non-UDP frames
	Sessions     atomic.Uint64
	Records      atomic.Uint64 // records applied to any session
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}
