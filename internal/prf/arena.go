package prf

import "sync"

// InlineThreshold is the payload size at or below which a message's bytes
// travel inline in the ring slot; above it, the payload lives in an arena
// buffer and the ring slot only carries the handle (spec §4.3).
const InlineThreshold = 256

// Arena hands out reusable payload buffers for one priority class. Go's
// garbage collector is the fabric's reclaimer, so the arena's job is
// narrower than a manual-memory system's epoch reclamation: it exists to
// keep the hot path from doing a fresh heap allocation per large message,
// via a size-bucketed sync.Pool free list. Buffers are refcounted so
// multicast fan-out (spec §4.4: "copies the message handle... not the
// bytes") can share one buffer across many targets and only return it to
// the pool once every target has released it.
type Arena struct {
	pools [numBuckets]sync.Pool
}

// bucket sizes grow geometrically from InlineThreshold up to the max
// inline-payload ceiling (wire.MaxPayload), so a request is never more than
// 2x oversized relative to its bucket.
var bucketSizes = []int{512, 1024, 2048, 4096, 8192, 16384, 32768, 65536}

const numBuckets = 8

// NewArena constructs an empty arena; pools are populated lazily on first
// allocation of each size class.
func NewArena() *Arena {
	a := &Arena{}
	for i, size := range bucketSizes {
		size := size
		a.pools[i].New = func() any { return make([]byte, size) }
	}
	return a
}

func bucketFor(n int) int {
	for i, size := range bucketSizes {
		if n <= size {
			return i
		}
	}
	return -1
}

// Buffer is a refcounted arena-backed payload. A message handle that goes
// to multiple targets (multicast fan-out) increments the refcount once per
// extra target instead of copying bytes; the last Release returns the
// buffer to its pool.
type Buffer struct {
	data   []byte
	bucket int
	arena  *Arena
	refs   int32
	mu     sync.Mutex
}

// Bytes returns the buffer's payload view, sized to the original request.
func (b *Buffer) Bytes() []byte { return b.data }

// Retain increments the refcount; call once per additional holder (e.g.
// each extra multicast target beyond the first).
func (b *Buffer) Retain() {
	b.mu.Lock()
	b.refs++
	b.mu.Unlock()
}

// Release decrements the refcount, returning the backing slice to its pool
// once the last holder releases it.
func (b *Buffer) Release() {
	b.mu.Lock()
	b.refs--
	done := b.refs <= 0
	b.mu.Unlock()
	if done && b.bucket >= 0 {
		b.arena.pools[b.bucket].Put(b.data[:cap(b.data)])
	}
}

// Alloc returns a buffer sized at least n, pulled from the smallest bucket
// that fits, or allocated directly if n exceeds every bucket.
func (a *Arena) Alloc(n int) *Buffer {
	bi := bucketFor(n)
	if bi < 0 {
		return &Buffer{data: make([]byte, n), bucket: -1, refs: 1}
	}
	raw := a.pools[bi].Get().([]byte)
	return &Buffer{data: raw[:n], bucket: bi, arena: a, refs: 1}
}
