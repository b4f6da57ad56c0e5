package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/gopacket/pcap"

	"firestige.xyz/satchel/internal/config"
	"firestige.xyz/satchel/internal/core"
	"firestige.xyz/satchel/internal/metrics"
)

const (
	pcapName        = "pcap"
	pollTimeout     = 100 * time.Millisecond
	defaultSnapLen  = 65535
	pcapIfLoopback  = 0x1 // PCAP_IF_LOOPBACK
	pcapStatsPeriod = 5 * time.Second
)

func init() {
	Register(pcapName, true, newPcapBackend)
}

// pcapBackend reads from every selected device through libpcap or Npcap.
type pcapBackend struct {
	cfg     config.CaptureConfig
	filter  string
	handles map[string]*pcap.Handle
	once    once
	stats   counters
}

func newPcapBackend(cfg config.CaptureConfig) (Backend, error) {
	if cfg.SnapLen <= 0 {
		cfg.SnapLen = defaultSnapLen
	}
	return &pcapBackend{cfg: cfg, filter: FilterExpr(cfg)}, nil
}

func (b *pcapBackend) Name() string { return pcapName }

// candidates selects the devices to open. Explicitly listed devices are used
// as given; otherwise loopback and unaddressed devices are skipped.
func (b *pcapBackend) candidates() ([]string, error) {
	if len(b.cfg.Interfaces) > 0 {
		return b.cfg.Interfaces, nil
	}
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	var names []string
	for _, d := range devs {
		if d.Flags&pcapIfLoopback != 0 || len(d.Addresses) == 0 {
			slog.Debug("skipping capture device", "device", d.Name, "description", d.Description)
			continue
		}
		names = append(names, d.Name)
	}
	return names, nil
}

func (b *pcapBackend) openDevice(name string) (*pcap.Handle, error) {
	inactive, err := pcap.NewInactiveHandle(name)
	if err != nil {
		return nil, err
	}
	defer inactive.CleanUp()

	for _, set := range []func() error{
		func() error { return inactive.SetSnapLen(b.cfg.SnapLen) },
		func() error { return inactive.SetPromisc(b.cfg.Promiscuous) },
		func() error { return inactive.SetTimeout(pollTimeout) },
		func() error { return inactive.SetImmediateMode(true) },
	} {
		if err := set(); err != nil {
			return nil, err
		}
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, err
	}
	if err := handle.SetBPFFilter(b.filter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("set BPF filter %q: %w", b.filter, err)
	}
	return handle, nil
}

// Open activates every candidate device. Devices that fail are skipped; the
// backend is unavailable only when none opens.
func (b *pcapBackend) Open(ctx context.Context) error {
	names, err := b.candidates()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrCaptureUnavailable, err)
	}

	b.handles = make(map[string]*pcap.Handle)
	var errs []error
	for _, name := range names {
		h, err := b.openDevice(name)
		if err != nil {
			slog.Warn("failed to open capture device", "device", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		b.handles[name] = h
		slog.Info("capture device opened", "device", name, "filter", b.filter, "link_type", h.LinkType().String())
	}
	if len(b.handles) == 0 {
		return fmt.Errorf("%w: no usable device among %v: %w", core.ErrCaptureUnavailable, names, errors.Join(errs...))
	}
	return nil
}

// Capture runs one reader per device and returns when all have stopped.
func (b *pcapBackend) Capture(ctx context.Context, out chan<- core.RawFrame) error {
	if err := b.once.acquire(); err != nil {
		return err
	}
	if len(b.handles) == 0 {
		return fmt.Errorf("%w: backend not opened", core.ErrCaptureUnavailable)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		readErr error
	)
	for _, name := range slices.Sorted(maps.Keys(b.handles)) {
		h := b.handles[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.read(ctx, name, h, out); err != nil {
				errOnce.Do(func() { readErr = err })
				cancel()
			}
		}()
	}
	wg.Wait()

	b.closeHandles()
	return readErr
}

func (b *pcapBackend) read(ctx context.Context, name string, h *pcap.Handle, out chan<- core.RawFrame) error {
	linkType := core.LinkType(h.LinkType())
	frames := metrics.CaptureFramesTotal.WithLabelValues(pcapName, name)
	lastStats := time.Now()

	for {
		if ctx.Err() != nil {
			return nil
		}

		data, ci, err := h.ReadPacketData()
		switch {
		case err == nil:
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			continue
		case errors.Is(err, io.EOF), errors.Is(err, pcap.NextErrorNoMorePackets):
			return nil
		default:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read %s: %w", name, err)
		}

		b.stats.received.Add(1)
		frames.Inc()
		if time.Since(lastStats) > pcapStatsPeriod {
			if s, err := h.Stats(); err == nil {
				b.stats.setIfDropped(name, uint64(s.PacketsDropped+s.PacketsIfDropped))
			}
			lastStats = time.Now()
		}

		// ReadPacketData returns a fresh slice; no copy is needed.
		frame := core.RawFrame{
			Data:       data,
			Timestamp:  ci.Timestamp,
			CaptureLen: uint32(ci.CaptureLength),
			OrigLen:    uint32(ci.Length),
			LinkType:   linkType,
			Interface:  name,
		}
		if !b.stats.deliver(ctx, pcapName, out, frame) {
			return nil
		}
	}
}

func (b *pcapBackend) Stats() Stats { return b.stats.snapshot() }

func (b *pcapBackend) closeHandles() {
	for name, h := range b.handles {
		h.Close()
		delete(b.handles, name)
	}
}

// Close releases devices when Capture never ran; Capture closes its own.
func (b *pcapBackend) Close() error {
	if !b.once.used.Load() {
		b.closeHandles()
	}
	return nil
}
