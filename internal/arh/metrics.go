package arh

import (
	"time"

	"github.com/agentfabric/fabric/internal/wire"
)

// MetricsRecorder receives end-to-end latency samples and RPC-timeout
// counts from an Agent's dispatch loop. Supplied by internal/fabric; left
// nil an Agent simply skips the measurement (spec §6: "histograms
// (end-to-end latency per class)").
type MetricsRecorder interface {
	RecordLatency(class wire.Priority, d time.Duration)
	IncRPCTimeout()
}

// SetMetrics installs m, wiring both the per-message latency sample taken
// at dispatch time and the RPC-timeout counter fed by this agent's
// PendingTable.
func (a *Agent) SetMetrics(m MetricsRecorder) {
	a.metrics = m
	if m != nil {
		a.pending.SetTimeoutHook(func(uint64) { m.IncRPCTimeout() })
	}
}
