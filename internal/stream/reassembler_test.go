package stream

import (
	"bytes"
	"math/rand"
	"testing"

	"firestige.xyz/satchel/internal/core"
)

func streamBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

// split cuts data into segments of varying size, some overlapping their neighbour.
func split(data []byte, start uint32, rng *rand.Rand) []core.Segment {
	var segs []core.Segment
	for off := 0; off < len(data); {
		size := 1 + rng.Intn(64)
		if off+size > len(data) {
			size = len(data) - off
		}
		from := off
		if from > 0 && rng.Intn(3) == 0 {
			from -= rng.Intn(min(from, 16)) // overlap with the previous segment
		}
		segs = append(segs, core.Segment{Seq: start + uint32(from), Data: data[from : off+size]})
		off += size
	}
	return segs
}

func collect(r *Reassembler, segs []core.Segment) []byte {
	var out []byte
	for _, s := range segs {
		out = append(out, r.Push(s)...)
	}
	return out
}

func TestReassemblerInOrder(t *testing.T) {
	data := streamBytes(1000)
	r := NewReassembler(0, 0)
	out := collect(r, split(data, 0, rand.New(rand.NewSource(1))))
	if !bytes.Equal(out, data) {
		t.Fatalf("in-order stream mismatch: got %d bytes", len(out))
	}
	if r.Next() != 1000 {
		t.Errorf("expected next=1000, got %d", r.Next())
	}
}

func TestReassemblerOrderIndependence(t *testing.T) {
	data := streamBytes(4096)
	for seed := int64(0); seed < 20; seed++ {
		rng := rand.New(rand.NewSource(seed))
		segs := split(data, 0, rng)

		// Duplicate some segments, then shuffle everything.
		for i := 0; i < len(segs)/4; i++ {
			segs = append(segs, segs[rng.Intn(len(segs))])
		}
		rng.Shuffle(len(segs), func(i, j int) { segs[i], segs[j] = segs[j], segs[i] })

		r := NewReassembler(0, 0)
		out := collect(r, segs)
		if !bytes.Equal(out, data) {
			t.Fatalf("seed %d: stream mismatch (%d of %d bytes)", seed, len(out), len(data))
		}
		if st := r.Stats(); st.Buffered != 0 {
			t.Errorf("seed %d: %d bytes left buffered", seed, st.Buffered)
		}
	}
}

func TestReassemblerSequenceWrap(t *testing.T) {
	data := streamBytes(512)
	start := uint32(0xFFFFFF00)
	rng := rand.New(rand.NewSource(7))
	segs := split(data, start, rng)
	rng.Shuffle(len(segs), func(i, j int) { segs[i], segs[j] = segs[j], segs[i] })

	r := NewReassembler(start, 0)
	out := collect(r, segs)
	if !bytes.Equal(out, data) {
		t.Fatalf("wrapped stream mismatch: got %d bytes", len(out))
	}
	if r.Next() != start+512 {
		t.Errorf("expected next=%d, got %d", start+512, r.Next())
	}
}

func TestReassemblerDuplicateAndStale(t *testing.T) {
	r := NewReassembler(100, 0)
	if out := r.Push(core.Segment{Seq: 100, Data: []byte("abcd")}); string(out) != "abcd" {
		t.Fatalf("expected abcd, got %q", out)
	}
	// Exact duplicate of emitted bytes.
	if out := r.Push(core.Segment{Seq: 100, Data: []byte("abcd")}); out != nil {
		t.Fatalf("duplicate produced output %q", out)
	}
	// Overlaps emitted bytes: only the novel suffix survives.
	if out := r.Push(core.Segment{Seq: 102, Data: []byte("cdef")}); string(out) != "ef" {
		t.Fatalf("expected clipped suffix ef, got %q", out)
	}

	st := r.Stats()
	if st.Duplicates != 1 || st.Clipped != 1 || st.Accepted != 2 || st.Emitted != 6 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestReassemblerEarlierBytesWin(t *testing.T) {
	r := NewReassembler(0, 0)
	if out := r.Push(core.Segment{Seq: 4, Data: []byte("XXXX")}); out != nil {
		t.Fatalf("gap should hold data back, got %q", out)
	}
	// Overlaps the buffered run with different content; buffered bytes are kept.
	if out := r.Push(core.Segment{Seq: 2, Data: []byte("yyyyyy")}); out != nil {
		t.Fatalf("gap at 0 should still hold data back, got %q", out)
	}
	out := r.Push(core.Segment{Seq: 0, Data: []byte("zz")})
	if string(out) != "zzyyXXXX" {
		t.Fatalf("expected zzyyXXXX, got %q", out)
	}
}

func TestReassemblerBufferLimit(t *testing.T) {
	r := NewReassembler(0, 8)
	if out := r.Push(core.Segment{Seq: 10, Data: []byte("12345678")}); out != nil {
		t.Fatalf("unexpected output %q", out)
	}
	// Would exceed the bound: dropped.
	if out := r.Push(core.Segment{Seq: 30, Data: []byte("x")}); out != nil {
		t.Fatalf("unexpected output %q", out)
	}
	if st := r.Stats(); st.Dropped != 1 || st.Buffered != 8 {
		t.Fatalf("unexpected stats %+v", st)
	}
	// The gap filler is always accepted even when the buffer is full.
	out := r.Push(core.Segment{Seq: 0, Data: []byte("0123456789")})
	if string(out) != "012345678912345678" {
		t.Fatalf("unexpected stream %q", out)
	}
}

func TestReassemblerEmptySegment(t *testing.T) {
	r := NewReassembler(0, 0)
	if out := r.Push(core.Segment{Seq: 0}); out != nil {
		t.Fatalf("empty segment produced %q", out)
	}
	if r.Stats().Accepted != 0 {
		t.Error("empty segment should not be counted")
	}
}
