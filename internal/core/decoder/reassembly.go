package decoder

import (
	"container/list"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"firestige.xyz/satchel/internal/core"
	"firestige.xyz/satchel/internal/metrics"
)

// Reassembly limits (RFC 791).
const (
	ipv4MinFragSize    = 1
	ipv4MaxSize        = 65535
	ipv4MaxFragOffset  = 8183 // in 8-byte units
	ipv4MaxFragListLen = 8192
)

// ReassemblyConfig contains configuration for IPv4 fragment reassembly.
type ReassemblyConfig struct {
	MaxFragments      int           // Maximum fragments per datagram (default 100)
	MaxReassembleSize int           // Maximum reassembled datagram size (default 65535)
	Timeout           time.Duration // Incomplete datagrams older than this are evicted (default 30s)
}

// fragmentKey identifies a fragmented IPv4 datagram.
type fragmentKey struct {
	srcIP    [4]byte
	dstIP    [4]byte
	protocol uint8
	id       uint16
}

type fragment struct {
	offset  uint16
	length  uint16
	payload []byte
}

// fragmentList keeps fragments ordered by offset. On overlap the earlier
// arrived bytes are kept and the newcomer is trimmed (BSD-Right).
type fragmentList struct {
	list          list.List
	highest       uint16
	current       uint16
	finalReceived bool
	lastSeen      time.Time
}

// Reassembler reassembles IPv4 fragments. Expiry is driven by capture
// timestamps so file replay and live capture behave the same.
type Reassembler struct {
	mu        sync.Mutex
	flows     map[fragmentKey]*fragmentList
	config    ReassemblyConfig
	lastSweep time.Time
}

// NewReassembler creates a new IPv4 fragment reassembler.
func NewReassembler(cfg ReassemblyConfig) *Reassembler {
	if cfg.MaxFragments <= 0 {
		cfg.MaxFragments = 100
	}
	if cfg.MaxReassembleSize <= 0 {
		cfg.MaxReassembleSize = ipv4MaxSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Reassembler{
		flows:  make(map[fragmentKey]*fragmentList),
		config: cfg,
	}
}

// Process consumes one IPv4 packet (header included) and returns:
//   - non-fragment: (payload, true, nil)
//   - fragment, datagram incomplete: (nil, false, nil)
//   - fragment completing a datagram: (reassembled payload, true, nil)
func (r *Reassembler) Process(ipData []byte, ts time.Time) ([]byte, bool, error) {
	if len(ipData) < ipv4HeaderMinLen {
		return nil, false, core.ErrPacketTooShort
	}
	ihl := int(ipData[0]&0x0F) * 4
	if ihl < ipv4HeaderMinLen || len(ipData) < ihl {
		return nil, false, fmt.Errorf("invalid IHL %d: %w", ihl, core.ErrPacketTooShort)
	}
	totalLen := int(binary.BigEndian.Uint16(ipData[2:4]))
	if totalLen < ihl || totalLen > len(ipData) {
		totalLen = len(ipData)
	}

	flagsOffset := binary.BigEndian.Uint16(ipData[6:8])
	moreFragments := flagsOffset&0x2000 != 0
	fragOffset := flagsOffset & 0x1FFF
	if !moreFragments && fragOffset == 0 {
		return ipData[ihl:totalLen], true, nil
	}

	byteOffset := fragOffset * 8
	fragLen := uint16(totalLen - ihl)
	if err := securityChecks(fragLen, fragOffset); err != nil {
		return nil, false, err
	}

	key := fragmentKey{protocol: ipData[9], id: binary.BigEndian.Uint16(ipData[4:6])}
	copy(key.srcIP[:], ipData[12:16])
	copy(key.dstIP[:], ipData[16:20])

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweep(ts)

	fl, ok := r.flows[key]
	if !ok {
		fl = &fragmentList{}
		r.flows[key] = fl
		metrics.ReassemblyPendingDatagrams.Inc()
	}
	if fl.list.Len() >= r.config.MaxFragments || fl.list.Len() >= ipv4MaxFragListLen {
		r.evict(key)
		return nil, false, fmt.Errorf("%d fragments: %w", r.config.MaxFragments, core.ErrReassemblyLimit)
	}
	fl.lastSeen = ts

	if !moreFragments {
		fl.finalReceived = true
		if end := byteOffset + fragLen; end > fl.highest {
			fl.highest = end
		}
	}

	// The capture buffer may be reused; keep a private copy.
	payload := make([]byte, fragLen)
	copy(payload, ipData[ihl:totalLen])
	insertBSDRight(fl, &fragment{offset: byteOffset, length: fragLen, payload: payload})

	if !fl.finalReceived || fl.current < fl.highest {
		return nil, false, nil
	}
	result, err := r.build(fl)
	r.evict(key)
	if err != nil {
		return nil, false, err
	}
	return result, true, nil
}

// Len returns the number of datagrams awaiting fragments.
func (r *Reassembler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

func securityChecks(fragSize, fragOffset uint16) error {
	if fragSize < ipv4MinFragSize {
		return fmt.Errorf("fragment too small (%d bytes): %w", fragSize, core.ErrReassemblyLimit)
	}
	if fragOffset > ipv4MaxFragOffset {
		return fmt.Errorf("fragment offset %d: %w", fragOffset, core.ErrReassemblyLimit)
	}
	if end := uint32(fragOffset)*8 + uint32(fragSize); end > ipv4MaxSize {
		return fmt.Errorf("fragment end %d beyond max datagram: %w", end, core.ErrReassemblyLimit)
	}
	return nil
}

// insertBSDRight inserts frag into fl keeping existing bytes on overlap.
func insertBSDRight(fl *fragmentList, frag *fragment) {
	fragEnd := frag.offset + frag.length
	if fragEnd > fl.highest && !fl.finalReceived {
		fl.highest = fragEnd
	}

	var next *list.Element
	for e := fl.list.Front(); e != nil; e = e.Next() {
		if e.Value.(*fragment).offset >= frag.offset {
			next = e
			break
		}
	}

	startAt := frag.offset
	var prev *list.Element
	if next != nil {
		prev = next.Prev()
	} else {
		prev = fl.list.Back()
	}
	if prev != nil {
		p := prev.Value.(*fragment)
		if end := p.offset + p.length; end > startAt {
			startAt = end
		}
	}

	endAt := fragEnd
	if next != nil {
		if n := next.Value.(*fragment); n.offset < endAt {
			endAt = n.offset
		}
	}
	if startAt >= endAt {
		return
	}

	trimmed := &fragment{
		offset:  startAt,
		length:  endAt - startAt,
		payload: frag.payload[startAt-frag.offset : endAt-frag.offset],
	}
	if next != nil {
		fl.list.InsertBefore(trimmed, next)
	} else {
		fl.list.PushBack(trimmed)
	}
	fl.current += trimmed.length
}

func (r *Reassembler) build(fl *fragmentList) ([]byte, error) {
	size := int(fl.highest)
	if size > r.config.MaxReassembleSize {
		return nil, fmt.Errorf("reassembled size %d exceeds %d: %w", size, r.config.MaxReassembleSize, core.ErrReassemblyLimit)
	}
	out := make([]byte, size)
	for e := fl.list.Front(); e != nil; e = e.Next() {
		f := e.Value.(*fragment)
		copy(out[f.offset:f.offset+f.length], f.payload)
	}
	return out, nil
}

// evict removes a datagram. Must be called with r.mu held.
func (r *Reassembler) evict(key fragmentKey) {
	if _, ok := r.flows[key]; ok {
		delete(r.flows, key)
		metrics.ReassemblyPendingDatagrams.Dec()
	}
}

// sweep drops datagrams whose last fragment is older than the timeout.
// Must be called with r.mu held.
func (r *Reassembler) sweep(now time.Time) {
	if now.Sub(r.lastSweep) < r.config.Timeout/4 {
		return
	}
	r.lastSweep = now
	for key, fl := range r.flows {
		if now.Sub(fl.lastSeen) > r.config.Timeout {
			r.evict(key)
		}
	}
}
