package ae

import "sync"

// DefaultWindowSize is the minimum replay window width the spec requires
// (>= 1024 distinct in-flight msg_ids per source).
const DefaultWindowSize = 1024

// replayWindow is a sliding bitset over a per-source msg_id stream: ids at
// or below the low-water mark are rejected outright, ids within the window
// are rejected if their bit is already set, and ids beyond the window slide
// the mark forward, clearing bits as they're passed.
type replayWindow struct {
	mu       sync.Mutex
	size     uint64
	bits     []uint64 // size/64 words, bit msgID % size marks msgID seen while it is in the window
	highWater uint64
	seenAny  bool
}

func newReplayWindow(size uint64) *replayWindow {
	if size < DefaultWindowSize {
		size = DefaultWindowSize
	}
	// round up to a multiple of 64 for clean word indexing
	words := (size + 63) / 64
	return &replayWindow{size: words * 64, bits: make([]uint64, words)}
}

// Check reports whether msgID is a fresh (non-replayed) value for this
// source, and records it if so. Not safe to call with msgID == 0 meaning
// "absent" — callers must filter that before invoking Check.
func (w *replayWindow) Check(msgID uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.seenAny {
		w.seenAny = true
		w.highWater = msgID
		w.setBit(msgID)
		return true
	}

	lowWater := uint64(0)
	if w.highWater >= w.size-1 {
		lowWater = w.highWater - w.size + 1
	}

	if msgID <= lowWater && w.highWater >= w.size-1 {
		return false // too old, outside the trailing window
	}

	if msgID > w.highWater {
		w.advance(msgID)
		w.setBit(msgID)
		return true
	}

	// Within the window: replay iff the bit is already set.
	if w.testBit(msgID) {
		return false
	}
	w.setBit(msgID)
	return true
}

func (w *replayWindow) slot(msgID uint64) uint64 { return msgID % w.size }

func (w *replayWindow) setBit(msgID uint64) {
	i := w.slot(msgID)
	w.bits[i/64] |= 1 << (i % 64)
}

func (w *replayWindow) testBit(msgID uint64) bool {
	i := w.slot(msgID)
	return w.bits[i/64]&(1<<(i%64)) != 0
}

func (w *replayWindow) clearBit(msgID uint64) {
	i := w.slot(msgID)
	w.bits[i/64] &^= 1 << (i % 64)
}

// advance slides the window forward to newHigh, clearing bits for every id
// that falls out of the trailing window as a result.
func (w *replayWindow) advance(newHigh uint64) {
	span := newHigh - w.highWater
	if span >= w.size {
		for i := range w.bits {
			w.bits[i] = 0
		}
		w.highWater = newHigh
		return
	}
	for id := w.highWater + 1; id <= newHigh; id++ {
		exiting := int64(id) - int64(w.size)
		if exiting >= 0 {
			w.clearBit(uint64(exiting))
		}
	}
	w.highWater = newHigh
}

// ReplayGuard tracks independent replay windows keyed by source agent.
// Guards are created lazily on first use and never removed — sources are a
// small, bounded population (spec §5 resource model).
type ReplayGuard struct {
	windowSize uint64
	mu         sync.Mutex
	bySource   map[uint16]*replayWindow
}

// NewReplayGuard creates a guard with the given per-source window size
// (rounded up to at least DefaultWindowSize).
func NewReplayGuard(windowSize uint64) *ReplayGuard {
	return &ReplayGuard{windowSize: windowSize, bySource: make(map[uint16]*replayWindow)}
}

// Check validates msgID from source, creating that source's window on
// first contact.
func (g *ReplayGuard) Check(source uint16, msgID uint64) bool {
	g.mu.Lock()
	w, ok := g.bySource[source]
	if !ok {
		w = newReplayWindow(g.windowSize)
		g.bySource[source] = w
	}
	g.mu.Unlock()
	return w.Check(msgID)
}
