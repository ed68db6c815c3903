package fabric

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentfabric/fabric/internal/wire"
)

// classStats holds the lock-free counters for one priority class.
type classStats struct {
	enqueued   uint64
	dequeued   uint64
	blocked    uint64
	latencyN   uint64
	latencySum uint64 // nanoseconds
	latencyMax uint64 // nanoseconds
}

// Metrics is the fabric's in-process implementation of prf.MetricsSink and
// arh.MetricsRecorder: counters (enqueued, dequeued, dropped-by-class,
// auth failures, rpc timeouts, ring occupancy high-water) and per-class
// latency histograms (spec §6), with no exporter behind it — a real
// Prometheus/OTel exporter is an out-of-core collaborator (spec §1).
type Metrics struct {
	classes [wire.NumPriorities]classStats

	dropMu sync.Mutex
	dropped map[wire.Priority]map[string]uint64

	authFailures uint64
	rpcTimeouts  uint64

	highWaterMu sync.Mutex
	highWater   [wire.NumPriorities]int
}

// NewMetrics builds an empty in-process metrics sink.
func NewMetrics() *Metrics {
	return &Metrics{dropped: make(map[wire.Priority]map[string]uint64)}
}

// IncEnqueued implements prf.MetricsSink.
func (m *Metrics) IncEnqueued(class wire.Priority) {
	atomic.AddUint64(&m.classes[class].enqueued, 1)
}

// IncDequeued implements prf.MetricsSink.
func (m *Metrics) IncDequeued(class wire.Priority) {
	atomic.AddUint64(&m.classes[class].dequeued, 1)
}

// IncDropped implements prf.MetricsSink.
func (m *Metrics) IncDropped(class wire.Priority, reason string) {
	m.dropMu.Lock()
	byReason, ok := m.dropped[class]
	if !ok {
		byReason = make(map[string]uint64)
		m.dropped[class] = byReason
	}
	byReason[reason]++
	m.dropMu.Unlock()
}

// IncBlocked implements prf.MetricsSink.
func (m *Metrics) IncBlocked(class wire.Priority) {
	atomic.AddUint64(&m.classes[class].blocked, 1)
}

// RecordLatency implements arh.MetricsRecorder: one end-to-end sample
// (enqueue timestamp to post-verify dispatch time) per delivered message.
func (m *Metrics) RecordLatency(class wire.Priority, d time.Duration) {
	ns := uint64(d)
	atomic.AddUint64(&m.classes[class].latencyN, 1)
	atomic.AddUint64(&m.classes[class].latencySum, ns)
	for {
		cur := atomic.LoadUint64(&m.classes[class].latencyMax)
		if ns <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&m.classes[class].latencyMax, cur, ns) {
			return
		}
	}
}

// IncRPCTimeout implements arh.MetricsRecorder.
func (m *Metrics) IncRPCTimeout() { atomic.AddUint64(&m.rpcTimeouts, 1) }

// IncAuthFailure records one authentication/authorization rejection
// (spec §6: "auth failures").
func (m *Metrics) IncAuthFailure() { atomic.AddUint64(&m.authFailures, 1) }

// SampleOccupancy updates class's high-water mark from an instantaneous
// ring length reading. Nothing in the fabric calls it, so a class's
// high-water mark stays 0 unless a caller samples occupancy itself.
func (m *Metrics) SampleOccupancy(class wire.Priority, occupancy int) {
	m.highWaterMu.Lock()
	if occupancy > m.highWater[class] {
		m.highWater[class] = occupancy
	}
	m.highWaterMu.Unlock()
}

// ClassSnapshot is one priority class's counters at DumpMetrics time.
type ClassSnapshot struct {
	Class            string         `json:"class"`
	Enqueued         uint64         `json:"enqueued"`
	Dequeued         uint64         `json:"dequeued"`
	Blocked          uint64         `json:"blocked"`
	Dropped          map[string]uint64 `json:"dropped"`
	HighWater        int            `json:"high_water"`
	LatencySamples   uint64         `json:"latency_samples"`
	LatencyMeanNS    uint64         `json:"latency_mean_ns"`
	LatencyMaxNS     uint64         `json:"latency_max_ns"`
}

// Snapshot is the full DumpMetrics response (spec §6).
type Snapshot struct {
	Classes      []ClassSnapshot `json:"classes"`
	AuthFailures uint64          `json:"auth_failures"`
	RPCTimeouts  uint64          `json:"rpc_timeouts"`
}

// Dump returns a point-in-time copy of every counter and histogram,
// implementing the control plane's DumpMetrics command.
func (m *Metrics) Dump() Snapshot {
	snap := Snapshot{AuthFailures: atomic.LoadUint64(&m.authFailures), RPCTimeouts: atomic.LoadUint64(&m.rpcTimeouts)}

	m.dropMu.Lock()
	droppedCopy := make(map[wire.Priority]map[string]uint64, len(m.dropped))
	for class, byReason := range m.dropped {
		cp := make(map[string]uint64, len(byReason))
		for reason, n := range byReason {
			cp[reason] = n
		}
		droppedCopy[class] = cp
	}
	m.dropMu.Unlock()

	m.highWaterMu.Lock()
	highWater := m.highWater
	m.highWaterMu.Unlock()

	for class := wire.Priority(0); int(class) < wire.NumPriorities; class++ {
		cs := &m.classes[class]
		n := atomic.LoadUint64(&cs.latencyN)
		sum := atomic.LoadUint64(&cs.latencySum)
		var mean uint64
		if n > 0 {
			mean = sum / n
		}
		snap.Classes = append(snap.Classes, ClassSnapshot{
			Class:          class.String(),
			Enqueued:       atomic.LoadUint64(&cs.enqueued),
			Dequeued:       atomic.LoadUint64(&cs.dequeued),
			Blocked:        atomic.LoadUint64(&cs.blocked),
			Dropped:        droppedCopy[class],
			HighWater:      highWater[class],
			LatencySamples: n,
			LatencyMeanNS:  mean,
			LatencyMaxNS:   atomic.LoadUint64(&cs.latencyMax),
		})
	}
	return snap
}
