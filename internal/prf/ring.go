// Package prf implements the Priority Ring Fabric: six lock-free MPMC
// rings, one per wire.Priority class, each backed by a Vyukov-style array
// of cache-line-isolated slots with per-slot sequence numbers. Producers and
// consumers never block on each other on the uncontended path — only a CAS
// loop on the ring's head or tail index, gated by the slot's sequence
// counter.
package prf

import (
	"sync/atomic"

	"github.com/agentfabric/fabric/internal/wire"
)

// cacheLinePad is sized to push the next field onto its own cache line on
// the common 64-byte-line architectures this fabric targets.
type cacheLinePad [64]byte

// EnqueueResult is the outcome of a TryEnqueue call.
type EnqueueResult uint8

const (
	EnqueueOK EnqueueResult = iota
	EnqueueFull
	EnqueueRejected
)

func (r EnqueueResult) String() string {
	switch r {
	case EnqueueOK:
		return "Ok"
	case EnqueueFull:
		return "Full"
	default:
		return "Rejected"
	}
}

// slot is one cell of the ring: a sequence counter plus the payload cell.
// The sequence protocol (Vyukov 2010):
//   - empty slot i has seq == i
//   - producer claims slot i when seq == i, writes the item, then sets
//     seq = i+1 (ready to consume)
//   - consumer claims slot i when seq == i+1, reads the item, then sets
//     seq = i+capacity (ready for the next lap's producer)
type slot struct {
	seq  uint64
	item *wire.Message
	_    cacheLinePad
}

// Ring is a fixed-capacity, lock-free multi-producer multi-consumer queue
// for one priority class (spec §4.3).
type Ring struct {
	capacity uint64
	mask     uint64
	slots    []slot

	_    cacheLinePad
	head uint64 // next slot index a producer will attempt to claim
	_    cacheLinePad
	tail uint64 // next slot index a consumer will attempt to claim
	_    cacheLinePad
}

// NewRing builds a ring whose capacity is rounded up to the next power of
// two (required by the mask-based index protocol).
func NewRing(capacity int) *Ring {
	cap64 := nextPowerOfTwo(uint64(capacity))
	r := &Ring{capacity: cap64, mask: cap64 - 1, slots: make([]slot, cap64)}
	for i := range r.slots {
		r.slots[i].seq = uint64(i)
	}
	return r
}

func nextPowerOfTwo(n uint64) uint64 {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// Capacity returns the ring's slot count.
func (r *Ring) Capacity() int { return int(r.capacity) }

// TryEnqueue attempts a wait-free publish of msg. Returns EnqueueFull if the
// ring is at capacity.
func (r *Ring) TryEnqueue(msg *wire.Message) EnqueueResult {
	for {
		head := atomic.LoadUint64(&r.head)
		s := &r.slots[head&r.mask]
		seq := atomic.LoadUint64(&s.seq)
		diff := int64(seq) - int64(head)

		switch {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&r.head, head, head+1) {
				s.item = msg
				atomic.StoreUint64(&s.seq, head+1)
				return EnqueueOK
			}
			// lost the race for this slot; retry
		case diff < 0:
			return EnqueueFull
		default:
			// another producer has already advanced head past what we
			// observed; reload and retry
		}
	}
}

// TryDequeue attempts a wait-free pop. Returns false when the ring is
// observed empty.
func (r *Ring) TryDequeue() (*wire.Message, bool) {
	for {
		tail := atomic.LoadUint64(&r.tail)
		s := &r.slots[tail&r.mask]
		seq := atomic.LoadUint64(&s.seq)
		diff := int64(seq) - int64(tail+1)

		switch {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&r.tail, tail, tail+1) {
				msg := s.item
				s.item = nil
				atomic.StoreUint64(&s.seq, tail+r.capacity)
				return msg, true
			}
		case diff < 0:
			return nil, false
		default:
			// another consumer has already advanced tail; retry
		}
	}
}

// Len is an approximate occupancy count, useful only for metrics — it is
// not linearizable with concurrent producers/consumers.
func (r *Ring) Len() int {
	head := atomic.LoadUint64(&r.head)
	tail := atomic.LoadUint64(&r.tail)
	if head < tail {
		return 0
	}
	return int(head - tail)
}
