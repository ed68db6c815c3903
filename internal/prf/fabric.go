package prf

import (
	"time"

	"github.com/agentfabric/fabric/internal/wire"
)

// BackpressurePolicy governs what happens when a priority's ring is full at
// enqueue time (spec §4.3). Chosen per priority at configuration time.
type BackpressurePolicy uint8

const (
	DropOldest BackpressurePolicy = iota
	DropNewest
	BlockSender
	SpillToArena
)

// MetricsSink is the fabric's only metrics boundary: a typed counter
// interface with no exporter behind it (no Prometheus registry is wired in
// this module — operators plug in their own implementation).
type MetricsSink interface {
	IncEnqueued(class wire.Priority)
	IncDequeued(class wire.Priority)
	IncDropped(class wire.Priority, reason string)
	IncBlocked(class wire.Priority)
}

type noopMetrics struct{}

func (noopMetrics) IncEnqueued(wire.Priority)             {}
func (noopMetrics) IncDequeued(wire.Priority)              {}
func (noopMetrics) IncDropped(wire.Priority, string)       {}
func (noopMetrics) IncBlocked(wire.Priority)               {}

// RingConfig configures one priority class's ring.
type RingConfig struct {
	Capacity            int
	Policy              BackpressurePolicy
	BlockSenderTimeout  time.Duration
	Quantum             int // max consecutive messages drained from this class per scheduler round; 0 means unbounded (Emergency only)
}

// Fabric owns the six priority rings and their arenas (spec §4.3). It never
// blocks a TryEnqueue caller beyond the BlockSender policy's own timeout,
// and Emergency is the one class that must never silently drop.
type Fabric struct {
	rings   [wire.NumPriorities]*Ring
	arenas  [wire.NumPriorities]*Arena
	configs [wire.NumPriorities]RingConfig
	metrics MetricsSink
	spill   [wire.NumPriorities]*Ring // secondary overflow ring, only populated for SpillToArena classes
}

// NewFabric builds a Fabric from per-class configs. A zero-value entry in
// configs[i] falls back to DefaultRingConfig(wire.Priority(i)).
func NewFabric(configs [wire.NumPriorities]RingConfig, metrics MetricsSink) *Fabric {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	f := &Fabric{metrics: metrics}
	for i := range f.rings {
		cfg := configs[i]
		if cfg.Capacity == 0 {
			cfg = DefaultRingConfig(wire.Priority(i))
		}
		f.configs[i] = cfg
		f.rings[i] = NewRing(cfg.Capacity)
		f.arenas[i] = NewArena()
		if cfg.Policy == SpillToArena {
			f.spill[i] = NewRing(cfg.Capacity / 4)
		}
	}
	return f
}

// DefaultRingConfig matches spec §4.3/§5 defaults.
func DefaultRingConfig(class wire.Priority) RingConfig {
	cfg := RingConfig{Capacity: 1 << 16, Policy: BlockSender, BlockSenderTimeout: 50 * time.Millisecond}
	switch class {
	case wire.PriorityEmergency:
		cfg.Policy = BlockSender // enforced fatal-on-full by the caller, see Enqueue
		cfg.Quantum = 0
	case wire.PriorityCritical:
		cfg.Quantum = 1024
	case wire.PriorityHigh:
		cfg.Quantum = 512
	case wire.PriorityMedium:
		cfg.Quantum = 256
	case wire.PriorityLow:
		cfg.Quantum = 128
	case wire.PriorityBulk:
		cfg.Quantum = 64
		cfg.Policy = DropOldest
	}
	return cfg
}

// InvariantViolation marks a fabric invariant broken beyond in-process
// recovery — currently only an Emergency ring filling up. It implements the
// util.FatalInvariant marker interface so util.SafeGo, at the top of the
// recover chain, turns it into a process exit instead of an ordinary
// logged-and-ignored panic.
type InvariantViolation struct {
	Reason string
}

func (e InvariantViolation) Error() string        { return "prf: invariant violation: " + e.Reason }
func (e InvariantViolation) FatalInvariant() bool { return true }

// Arena returns the arena backing a priority class, for callers that need
// to externalize a payload above InlineThreshold before building the
// wire.Message.
func (f *Fabric) Arena(class wire.Priority) *Arena { return f.arenas[class] }

// Enqueue publishes msg onto its class's ring, applying the configured
// back-pressure policy on a Full result. Enqueueing into a full Emergency
// ring is a fatal invariant violation per spec §4.3 and panics rather than
// silently dropping.
func (f *Fabric) Enqueue(msg *wire.Message) EnqueueResult {
	class := msg.Header.Priority
	ring := f.rings[class]
	cfg := f.configs[class]

	result := ring.TryEnqueue(msg)
	if result == EnqueueOK {
		f.metrics.IncEnqueued(class)
		return EnqueueOK
	}

	if class == wire.PriorityEmergency {
		panic(InvariantViolation{Reason: "emergency ring full"})
	}

	switch cfg.Policy {
	case DropOldest:
		if _, ok := ring.TryDequeue(); ok {
			f.metrics.IncDropped(class, "drop_oldest")
		}
		if ring.TryEnqueue(msg) == EnqueueOK {
			f.metrics.IncEnqueued(class)
			return EnqueueOK
		}
		return EnqueueRejected
	case DropNewest:
		f.metrics.IncDropped(class, "drop_newest")
		return EnqueueFull
	case BlockSender:
		deadline := time.Now().Add(cfg.BlockSenderTimeout)
		f.metrics.IncBlocked(class)
		for time.Now().Before(deadline) {
			if ring.TryEnqueue(msg) == EnqueueOK {
				f.metrics.IncEnqueued(class)
				return EnqueueOK
			}
			time.Sleep(time.Microsecond * 50)
		}
		f.metrics.IncDropped(class, "block_timeout")
		return EnqueueFull
	case SpillToArena:
		if spill := f.spill[class]; spill != nil {
			if spill.TryEnqueue(msg) == EnqueueOK {
				f.metrics.IncEnqueued(class)
				return EnqueueOK
			}
		}
		f.metrics.IncDropped(class, "spill_full")
		return EnqueueFull
	default:
		return EnqueueFull
	}
}

// Dequeue pulls the next message from class's primary ring, falling back to
// its spill ring if one is configured and the primary is empty.
func (f *Fabric) Dequeue(class wire.Priority) (*wire.Message, bool) {
	if msg, ok := f.rings[class].TryDequeue(); ok {
		f.metrics.IncDequeued(class)
		return msg, true
	}
	if spill := f.spill[class]; spill != nil {
		if msg, ok := spill.TryDequeue(); ok {
			f.metrics.IncDequeued(class)
			return msg, true
		}
	}
	return nil, false
}

// Len reports the approximate occupancy of class's primary ring.
func (f *Fabric) Len(class wire.Priority) int { return f.rings[class].Len() }
