package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"firestige.xyz/satchel/internal/core"
)

// buildIPv4Fragment constructs a raw IPv4 packet with fragmentation fields set.
// fragOffset is in 8-byte units.
func buildIPv4Fragment(srcIP, dstIP [4]byte, protocol uint8, fragID uint16, fragOffset uint16, moreFragments bool, payload []byte) []byte {
	pkt := make([]byte, 20+len(payload))
	pkt[0] = 0x45
	binary.BigEndian.PutUint16(pkt[2:4], uint16(len(pkt)))
	binary.BigEndian.PutUint16(pkt[4:6], fragID)
	flagsOffset := fragOffset & 0x1FFF
	if moreFragments {
		flagsOffset |= 0x2000
	}
	binary.BigEndian.PutUint16(pkt[6:8], flagsOffset)
	pkt[8] = 64
	pkt[9] = protocol
	copy(pkt[12:16], srcIP[:])
	copy(pkt[16:20], dstIP[:])
	copy(pkt[20:], payload)
	return pkt
}

func sequentialBytes(start, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(start + i)
	}
	return b
}

var (
	testSrc = [4]byte{192, 168, 1, 10}
	testDst = [4]byte{47, 88, 1, 2}
)

func TestReassembler_NonFragment(t *testing.T) {
	r := NewReassembler(ReassemblyConfig{})
	payload := []byte("hello, world")
	pkt := buildIPv4Fragment(testSrc, testDst, 17, 0, 0, false, payload)

	result, complete, err := r.Process(pkt, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !complete {
		t.Fatal("non-fragment should be complete")
	}
	if !bytes.Equal(result, payload) {
		t.Fatalf("expected %q, got %q", payload, result)
	}
	if r.Len() != 0 {
		t.Errorf("expected no pending datagrams, got %d", r.Len())
	}
}

func TestReassembler_OutOfOrder(t *testing.T) {
	r := NewReassembler(ReassemblyConfig{})
	now := time.Now()

	frags := [][]byte{
		buildIPv4Fragment(testSrc, testDst, 17, 7, 20, false, sequentialBytes(160, 40)),
		buildIPv4Fragment(testSrc, testDst, 17, 7, 0, true, sequentialBytes(0, 80)),
		buildIPv4Fragment(testSrc, testDst, 17, 7, 10, true, sequentialBytes(80, 80)),
	}

	var result []byte
	for i, f := range frags {
		out, complete, err := r.Process(f, now)
		if err != nil {
			t.Fatalf("fragment %d: %v", i, err)
		}
		if complete != (i == len(frags)-1) {
			t.Fatalf("fragment %d: complete=%v", i, complete)
		}
		result = out
	}
	if !bytes.Equal(result, sequentialBytes(0, 200)) {
		t.Fatal("reassembled payload mismatch")
	}
	if r.Len() != 0 {
		t.Errorf("datagram should be evicted after completion, %d pending", r.Len())
	}
}

func TestReassembler_OverlapKeepsEarlierBytes(t *testing.T) {
	r := NewReassembler(ReassemblyConfig{})
	now := time.Now()

	first := buildIPv4Fragment(testSrc, testDst, 17, 9, 0, true, bytes.Repeat([]byte{0xAA}, 16))
	overlap := buildIPv4Fragment(testSrc, testDst, 17, 9, 1, false, bytes.Repeat([]byte{0xBB}, 16))

	if _, complete, err := r.Process(first, now); err != nil || complete {
		t.Fatalf("first fragment: complete=%v err=%v", complete, err)
	}
	result, complete, err := r.Process(overlap, now)
	if err != nil || !complete {
		t.Fatalf("overlap fragment: complete=%v err=%v", complete, err)
	}

	want := append(bytes.Repeat([]byte{0xAA}, 16), bytes.Repeat([]byte{0xBB}, 8)...)
	if !bytes.Equal(result, want) {
		t.Fatalf("expected %x, got %x", want, result)
	}
}

func TestReassembler_DuplicateFragment(t *testing.T) {
	r := NewReassembler(ReassemblyConfig{})
	now := time.Now()
	head := buildIPv4Fragment(testSrc, testDst, 17, 3, 0, true, sequentialBytes(0, 8))
	tail := buildIPv4Fragment(testSrc, testDst, 17, 3, 1, false, sequentialBytes(8, 8))

	r.Process(head, now)
	r.Process(head, now)
	result, complete, err := r.Process(tail, now)
	if err != nil || !complete {
		t.Fatalf("complete=%v err=%v", complete, err)
	}
	if !bytes.Equal(result, sequentialBytes(0, 16)) {
		t.Fatalf("unexpected payload %x", result)
	}
}

func TestReassembler_SecurityChecks(t *testing.T) {
	r := NewReassembler(ReassemblyConfig{})
	pkt := buildIPv4Fragment(testSrc, testDst, 17, 1, ipv4MaxFragOffset+1, true, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	_, _, err := r.Process(pkt, time.Now())
	if !errors.Is(err, core.ErrReassemblyLimit) {
		t.Fatalf("expected ErrReassemblyLimit, got %v", err)
	}
}

func TestReassembler_MaxFragments(t *testing.T) {
	r := NewReassembler(ReassemblyConfig{MaxFragments: 2})
	now := time.Now()

	for i := uint16(0); i < 2; i++ {
		pkt := buildIPv4Fragment(testSrc, testDst, 17, 5, i*2, true, sequentialBytes(0, 8))
		if _, _, err := r.Process(pkt, now); err != nil {
			t.Fatalf("fragment %d: %v", i, err)
		}
	}
	pkt := buildIPv4Fragment(testSrc, testDst, 17, 5, 10, true, sequentialBytes(0, 8))
	if _, _, err := r.Process(pkt, now); !errors.Is(err, core.ErrReassemblyLimit) {
		t.Fatalf("expected ErrReassemblyLimit, got %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("datagram should be evicted after limit, %d pending", r.Len())
	}
}

func TestReassembler_TimeoutEviction(t *testing.T) {
	r := NewReassembler(ReassemblyConfig{Timeout: 10 * time.Second})
	start := time.Unix(1700000000, 0)

	stale := buildIPv4Fragment(testSrc, testDst, 17, 11, 0, true, sequentialBytes(0, 8))
	if _, _, err := r.Process(stale, start); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 pending datagram, got %d", r.Len())
	}

	fresh := buildIPv4Fragment(testSrc, testDst, 17, 12, 0, true, sequentialBytes(0, 8))
	if _, _, err := r.Process(fresh, start.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 1 {
		t.Errorf("stale datagram should be evicted, %d pending", r.Len())
	}
}
