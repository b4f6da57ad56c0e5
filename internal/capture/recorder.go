package capture

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/satchel/internal/core"
)

// Recorder dumps raw frames to a pcap file for offline replay with the file
// backend. The file's link type is taken from the first frame; frames of
// other link types are skipped.
type Recorder struct {
	mu       sync.Mutex
	path     string
	snapLen  uint32
	f        *os.File
	w        *pcapgo.Writer
	linkType core.LinkType
	written  uint64
	skipped  uint64
}

// NewRecorder creates path, truncating an existing file.
func NewRecorder(path string, snapLen int) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create dump file: %w", err)
	}
	if snapLen <= 0 {
		snapLen = defaultSnapLen
	}
	return &Recorder{path: path, snapLen: uint32(snapLen), f: f}, nil
}

// Write appends one frame.
func (r *Recorder) Write(frame core.RawFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		return fmt.Errorf("recorder %s closed", r.path)
	}
	if r.w == nil {
		w := pcapgo.NewWriter(r.f)
		if err := w.WriteFileHeader(r.snapLen, layers.LinkType(frame.LinkType)); err != nil {
			return fmt.Errorf("write dump header: %w", err)
		}
		r.w, r.linkType = w, frame.LinkType
	}
	if frame.LinkType != r.linkType {
		r.skipped++
		return nil
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     frame.Timestamp,
		CaptureLength: len(frame.Data),
		Length:        int(max(frame.OrigLen, uint32(len(frame.Data)))),
	}
	if err := r.w.WritePacket(ci, frame.Data); err != nil {
		return fmt.Errorf("write dump packet: %w", err)
	}
	r.written++
	return nil
}

// Close flushes and closes the dump file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	slog.Info("raw packet dump closed", "path", r.path, "frames", r.written, "skipped", r.skipped)
	return err
}
