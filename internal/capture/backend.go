// Package capture acquires raw link-layer frames from a pluggable backend.
package capture

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"firestige.xyz/satchel/internal/config"
	"firestige.xyz/satchel/internal/core"
	"firestige.xyz/satchel/internal/metrics"
)

// ErrExhausted ends the frame sequence of a finite backend.
var ErrExhausted = core.ErrExhausted

// Backend produces raw frames. Capture may be called once.
type Backend interface {
	Name() string
	// Open acquires the capture resources. Failures wrap core.ErrCaptureUnavailable.
	Open(ctx context.Context) error
	// Capture blocks sending frames to out until ctx is done, the source is
	// exhausted (ErrExhausted) or a read fails.
	Capture(ctx context.Context, out chan<- core.RawFrame) error
	Stats() Stats
	Close() error
}

// Stats represents capture statistics.
type Stats struct {
	PacketsReceived  uint64
	Stalls           uint64 // frames that waited on a full channel
	PacketsIfDropped uint64 // dropped by the kernel or interface, summed over devices
}

// Factory builds a backend from the capture configuration.
type Factory func(cfg config.CaptureConfig) (Backend, error)

type registration struct {
	factory   Factory
	privilege bool
}

var (
	mu       sync.RWMutex
	registry = make(map[string]registration)
)

// Register makes a backend available by name. Backends register from init
// functions guarded by build tags, so only platform-supported names exist.
func Register(name string, privileged bool, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("capture: backend %q already registered", name))
	}
	registry[name] = registration{factory: f, privilege: privileged}
}

// New builds the named backend.
func New(name string, cfg config.CaptureConfig) (Backend, error) {
	mu.RLock()
	reg, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %w: %q (available: %v)", core.ErrConfigInvalid, core.ErrBackendNotFound, name, Available())
	}
	return reg.factory(cfg)
}

// Available lists registered backend names in sorted order.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RequiresPrivilege reports whether the named backend needs elevated rights.
func RequiresPrivilege(name string) bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry[name].privilege
}

// once guards the single-use contract of Capture.
type once struct {
	used atomic.Bool
}

func (o *once) acquire() error {
	if !o.used.CompareAndSwap(false, true) {
		return fmt.Errorf("capture already consumed: %w", ErrExhausted)
	}
	return nil
}

// counters holds the atomic statistics shared by backends.
type counters struct {
	received  atomic.Uint64
	stalls    atomic.Uint64
	ifDropped atomic.Uint64

	mu       sync.Mutex
	perIface map[string]uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		PacketsReceived:  c.received.Load(),
		Stalls:           c.stalls.Load(),
		PacketsIfDropped: c.ifDropped.Load(),
	}
}

// setIfDropped records the cumulative kernel drop count of one device.
func (c *counters) setIfDropped(device string, n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.perIface == nil {
		c.perIface = make(map[string]uint64)
	}
	c.perIface[device] = n
	var total uint64
	for _, v := range c.perIface {
		total += v
	}
	c.ifDropped.Store(total)
}

// deliver sends frame to out, waiting while the channel is full. Frames the
// kernel handed over are never discarded here: the game transport does not
// resend what the client already received. It returns false when ctx ended.
func (c *counters) deliver(ctx context.Context, backend string, out chan<- core.RawFrame, frame core.RawFrame) bool {
	select {
	case out <- frame:
		return true
	default:
	}
	c.stalls.Add(1)
	metrics.CaptureStallsTotal.WithLabelValues(backend).Inc()
	select {
	case out <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}
