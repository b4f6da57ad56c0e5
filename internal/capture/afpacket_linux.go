//go:build linux

package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/gopacket/afpacket"

	"firestige.xyz/satchel/internal/config"
	"firestige.xyz/satchel/internal/core"
	"firestige.xyz/satchel/internal/metrics"
)

const (
	afpacketName = "afpacket"

	defaultBlockSize = 4 * 1024 * 1024 // 4MB
	defaultNumBlocks = 16
)

func init() {
	Register(afpacketName, true, newAFPacketBackend)
}

// afpacketBackend reads one interface through a TPACKET_V3 ring.
type afpacketBackend struct {
	cfg    config.CaptureConfig
	device string
	filter string
	handle *afpacket.TPacket
	once   once
	stats  counters
}

func newAFPacketBackend(cfg config.CaptureConfig) (Backend, error) {
	if cfg.SnapLen <= 0 {
		cfg.SnapLen = defaultSnapLen
	}
	if cfg.AFPacket.BlockSize <= 0 {
		cfg.AFPacket.BlockSize = defaultBlockSize
	}
	if cfg.AFPacket.NumBlocks <= 0 {
		cfg.AFPacket.NumBlocks = defaultNumBlocks
	}
	if len(cfg.Interfaces) > 1 {
		return nil, fmt.Errorf("%w: afpacket captures a single interface, got %v", core.ErrConfigInvalid, cfg.Interfaces)
	}
	b := &afpacketBackend{cfg: cfg, filter: FilterExpr(cfg)}
	if len(cfg.Interfaces) == 1 {
		b.device = cfg.Interfaces[0]
	}
	return b, nil
}

func (b *afpacketBackend) Name() string { return afpacketName }

// defaultDevice returns the first up, non-loopback interface.
func defaultDevice() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 {
			return iface.Name, nil
		}
	}
	return "", errors.New("no up, non-loopback interface")
}

// frameSize aligns snapLen plus the TPACKET_V3 header to TPACKET_ALIGNMENT.
func frameSize(snapLen int) int {
	const (
		tpacketAlignment = 16
		tpacketHdrLen    = 52
	)
	return (tpacketHdrLen + snapLen + tpacketAlignment - 1) / tpacketAlignment * tpacketAlignment
}

func (b *afpacketBackend) Open(ctx context.Context) error {
	if b.device == "" {
		dev, err := defaultDevice()
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrCaptureUnavailable, err)
		}
		b.device = dev
	}

	fs := frameSize(b.cfg.SnapLen)
	blockSize := max(b.cfg.AFPacket.BlockSize/fs*fs, fs)
	handle, err := afpacket.NewTPacket(
		afpacket.OptInterface(b.device),
		afpacket.OptFrameSize(fs),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(b.cfg.AFPacket.NumBlocks),
		afpacket.OptPollTimeout(pollTimeout),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion3),
	)
	if err != nil {
		return fmt.Errorf("%w: TPacket on %s: %v", core.ErrCaptureUnavailable, b.device, err)
	}

	insns, err := compileBPF(b.filter, b.cfg.SnapLen)
	if err == nil {
		err = handle.SetBPF(insns)
	}
	if err != nil {
		handle.Close()
		return fmt.Errorf("%w: BPF on %s: %v", core.ErrCaptureUnavailable, b.device, err)
	}
	if err := handle.InitSocketStats(); err != nil {
		slog.Warn("failed to init socket stats", "device", b.device, "error", err)
	}

	b.handle = handle
	slog.Info("afpacket capture opened", "device", b.device, "filter", b.filter, "frame_size", fs)
	return nil
}

// Capture owns the ring: the handle is closed here once the read loop exits,
// so no read can race with the unmap.
func (b *afpacketBackend) Capture(ctx context.Context, out chan<- core.RawFrame) error {
	if err := b.once.acquire(); err != nil {
		return err
	}
	if b.handle == nil {
		return fmt.Errorf("%w: backend not opened", core.ErrCaptureUnavailable)
	}
	defer func() {
		b.handle.Close()
		b.handle = nil
	}()

	frames := metrics.CaptureFramesTotal.WithLabelValues(afpacketName, b.device)
	for {
		if ctx.Err() != nil {
			slog.Info("afpacket capture stopped", "device", b.device)
			return nil
		}

		data, ci, err := b.handle.ZeroCopyReadPacketData()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, afpacket.ErrPoll) {
				continue
			}
			return fmt.Errorf("read %s: %w", b.device, err)
		}

		b.stats.received.Add(1)
		frames.Inc()
		if _, s, err := b.handle.SocketStats(); err == nil {
			b.stats.setIfDropped(b.device, uint64(s.Drops()))
		}

		// data is only valid until the next read.
		owned := make([]byte, len(data))
		copy(owned, data)
		frame := core.RawFrame{
			Data:       owned,
			Timestamp:  ci.Timestamp,
			CaptureLen: uint32(ci.CaptureLength),
			OrigLen:    uint32(ci.Length),
			LinkType:   core.LinkTypeEthernet,
			Interface:  b.device,
		}
		if !b.stats.deliver(ctx, afpacketName, out, frame) {
			slog.Info("afpacket capture stopped", "device", b.device)
			return nil
		}
	}
}

func (b *afpacketBackend) Stats() Stats { return b.stats.snapshot() }

func (b *afpacketBackend) Close() error {
	if !b.once.used.Load() && b.handle != nil {
		b.handle.Close()
		b.handle = nil
	}
	return nil
}
