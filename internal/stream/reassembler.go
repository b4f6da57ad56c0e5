// Package stream reorders directional transport segments into a gap-free byte stream.
package stream

import (
	"container/list"

	"firestige.xyz/satchel/internal/core"
)

// DefaultMaxBuffered bounds the bytes held ahead of a gap when no limit is configured.
const DefaultMaxBuffered = 8 << 20

// Stats counts reassembler outcomes.
type Stats struct {
	Accepted   uint64 // segments that contributed novel bytes
	Duplicates uint64 // segments carrying only already-seen bytes
	Clipped    uint64 // segments trimmed to their novel portion
	Dropped    uint64 // segments refused because the buffer was full
	Emitted    uint64 // bytes released in order
	Buffered   int    // bytes currently held ahead of a gap
}

// pending is a buffered run of bytes starting at seq.
type pending struct {
	seq  uint32
	data []byte
}

func (p *pending) end() uint32 { return p.seq + uint32(len(p.data)) }

// Reassembler is the reorder buffer for one direction of one session.
// Pending runs are kept ordered and non-overlapping; on overlap the bytes
// that arrived first win. There is no timeout: a permanent gap stalls the
// stream until the session ends. It is not safe for concurrent use.
type Reassembler struct {
	next        uint32    // sequence number of the next byte to emit
	runs        list.List // of *pending, ordered by distance from next
	buffered    int
	maxBuffered int
	stats       Stats
}

// NewReassembler creates a reassembler expecting the stream to start at initialSeq.
func NewReassembler(initialSeq uint32, maxBuffered int) *Reassembler {
	if maxBuffered <= 0 {
		maxBuffered = DefaultMaxBuffered
	}
	return &Reassembler{next: initialSeq, maxBuffered: maxBuffered}
}

// Next returns the sequence number of the next byte the stream expects.
func (r *Reassembler) Next() uint32 {
	return r.next
}

// Stats returns a copy of the counters.
func (r *Reassembler) Stats() Stats {
	s := r.stats
	s.Buffered = r.buffered
	return s
}

// Push accepts a segment in any order and returns the bytes that became
// contiguous, or nil when the stream cannot advance yet.
func (r *Reassembler) Push(seg core.Segment) []byte {
	if len(seg.Data) == 0 {
		return nil
	}

	seq, data := seg.Seq, seg.Data
	clipped := false
	// Clip bytes already emitted.
	if before(seq, r.next) {
		stale := r.next - seq
		if uint64(stale) >= uint64(len(data)) {
			r.stats.Duplicates++
			return nil
		}
		seq, data = r.next, data[stale:]
		clipped = true
	}

	var out []byte
	if seq == r.next && r.runs.Len() == 0 {
		out = r.emit(data)
	} else {
		inserted, trimmed := r.insert(seq, data)
		switch {
		case inserted == 0 && !trimmed:
			r.stats.Dropped++
			return nil
		case inserted == 0:
			r.stats.Duplicates++
			return nil
		}
		clipped = clipped || trimmed
		out = r.drain()
	}

	r.stats.Accepted++
	if clipped {
		r.stats.Clipped++
	}
	return out
}

// insert stores [seq, seq+len(data)) minus the bytes already buffered.
// It returns how many bytes were stored and whether any were trimmed.
func (r *Reassembler) insert(seq uint32, data []byte) (int, bool) {
	if r.offset(seq) != 0 && r.buffered+len(data) > r.maxBuffered {
		// Retransmission will deliver the segment again once the gap fills.
		return 0, false
	}

	stored, trimmed := 0, false
	offset := r.offset(seq)
	end := offset + uint32(len(data))

	e := r.runs.Front()
	for offset < end {
		// Skip runs entirely before the cursor.
		for e != nil && r.offset(e.Value.(*pending).end()) <= offset {
			e = e.Next()
		}
		if e != nil {
			p := e.Value.(*pending)
			pStart := r.offset(p.seq)
			if pStart <= offset {
				// Cursor sits inside an existing run; existing bytes win.
				trimmed = true
				offset = r.offset(p.end())
				continue
			}
			gapEnd := end
			if pStart < gapEnd {
				gapEnd = pStart
				trimmed = true
			}
			chunk := r.slice(data, seq, offset, gapEnd)
			r.runs.InsertBefore(chunk, e)
			stored += len(chunk.data)
			offset = gapEnd
			continue
		}
		chunk := r.slice(data, seq, offset, end)
		r.runs.PushBack(chunk)
		stored += len(chunk.data)
		offset = end
	}

	r.buffered += stored
	return stored, trimmed
}

// slice copies the part of data covering stream offsets [from, to).
func (r *Reassembler) slice(data []byte, seq uint32, from, to uint32) *pending {
	base := r.offset(seq)
	buf := make([]byte, to-from)
	copy(buf, data[from-base:to-base])
	return &pending{seq: r.next + from, data: buf}
}

// drain releases every run that now starts at next.
func (r *Reassembler) drain() []byte {
	var out []byte
	for e := r.runs.Front(); e != nil; e = r.runs.Front() {
		p := e.Value.(*pending)
		if p.seq != r.next {
			break
		}
		r.runs.Remove(e)
		r.buffered -= len(p.data)
		out = append(out, r.emit(p.data)...)
	}
	return out
}

func (r *Reassembler) emit(data []byte) []byte {
	r.next += uint32(len(data))
	r.stats.Emitted += uint64(len(data))
	return data
}

// offset is the distance of seq ahead of next, modulo 2^32.
func (r *Reassembler) offset(seq uint32) uint32 {
	return seq - r.next
}

// before reports whether a precedes b in wrapping sequence space.
func before(a, b uint32) bool {
	return int32(a-b) < 0
}
