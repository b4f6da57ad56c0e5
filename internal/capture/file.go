package capture

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/satchel/internal/config"
	"firestige.xyz/satchel/internal/core"
	"firestige.xyz/satchel/internal/metrics"
)

const fileName = "file"

// pcapngMagic is the block type of a pcapng section header.
const pcapngMagic = 0x0A0D0D0A

func init() {
	Register(fileName, false, newFileBackend)
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// fileBackend replays a pcap or pcapng capture file.
type fileBackend struct {
	path   string
	f      *os.File
	reader packetReader
	once   once
	stats  counters
}

func newFileBackend(cfg config.CaptureConfig) (Backend, error) {
	if cfg.File == "" {
		return nil, fmt.Errorf("%w: capture.file is required for the file backend", core.ErrConfigInvalid)
	}
	return &fileBackend{path: cfg.File}, nil
}

func (b *fileBackend) Name() string { return fileName }

func (b *fileBackend) Open(ctx context.Context) error {
	f, err := os.Open(b.path)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrCaptureUnavailable, err)
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: read %s: %v", core.ErrCaptureUnavailable, b.path, err)
	}

	var r packetReader
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: %s: %v", core.ErrCaptureUnavailable, b.path, err)
	}

	b.f, b.reader = f, r
	slog.Info("capture file opened", "path", b.path, "link_type", r.LinkType().String())
	return nil
}

// Capture replays every frame, blocking on out rather than dropping, and
// returns ErrExhausted at end of file.
func (b *fileBackend) Capture(ctx context.Context, out chan<- core.RawFrame) error {
	if err := b.once.acquire(); err != nil {
		return err
	}
	if b.reader == nil {
		return fmt.Errorf("%w: backend not opened", core.ErrCaptureUnavailable)
	}

	linkType := core.LinkType(b.reader.LinkType())
	frames := metrics.CaptureFramesTotal.WithLabelValues(fileName, "")
	for {
		if ctx.Err() != nil {
			return nil
		}
		data, ci, err := b.reader.ReadPacketData()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			slog.Info("capture file exhausted", "path", b.path, "frames", b.stats.received.Load())
			return ErrExhausted
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", b.path, err)
		}

		b.stats.received.Add(1)
		frames.Inc()
		owned := make([]byte, len(data))
		copy(owned, data)
		select {
		case out <- core.RawFrame{
			Data:       owned,
			Timestamp:  ci.Timestamp,
			CaptureLen: uint32(ci.CaptureLength),
			OrigLen:    uint32(ci.Length),
			LinkType:   linkType,
		}:
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *fileBackend) Stats() Stats { return b.stats.snapshot() }

func (b *fileBackend) Close() error {
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f, b.reader = nil, nil
	return err
}
