package rpe

import (
	"context"
	"sync"
	"time"

	"github.com/agentfabric/fabric/internal/wire"
	"github.com/agentfabric/fabric/pkg/logger"
	"github.com/agentfabric/fabric/pkg/util"
)

// PendingRpc tracks one outstanding request awaiting a Response/Result
// (spec §4.4's "RPC Request/Response" and §5 cancellation model).
type PendingRpc struct {
	CorrelationID uint64
	Deadline      time.Time
	resultCh      chan *wire.Message
	once          sync.Once
}

// resolve delivers msg to the waiter, if one is still listening. Safe to
// call at most meaningfully once; later calls are no-ops (an
// already-resolved or already-expired entry produces an OrphanResponse
// audit event upstream, not a panic here).
func (p *PendingRpc) resolve(msg *wire.Message) {
	p.once.Do(func() {
		p.resultCh <- msg
		close(p.resultCh)
	})
}

// PendingTable holds every in-flight RPC for one ARH, keyed by
// correlation_id, with a background reaper that expires stale entries.
type PendingTable struct {
	mu        sync.Mutex
	entries   map[uint64]*PendingRpc
	onTimeout func(correlationID uint64)
}

// NewPendingTable builds an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[uint64]*PendingRpc)}
}

// SetTimeoutHook installs a callback invoked once per correlation id that
// expires without a response, whether caught by Await's own timer or by
// the background reaper. Used by internal/fabric to feed the
// rpc-timeouts counter named in spec §6 without coupling this package to
// any metrics implementation.
func (t *PendingTable) SetTimeoutHook(fn func(correlationID uint64)) {
	t.mu.Lock()
	t.onTimeout = fn
	t.mu.Unlock()
}

func (t *PendingTable) fireTimeout(correlationID uint64) {
	t.mu.Lock()
	fn := t.onTimeout
	t.mu.Unlock()
	if fn != nil {
		fn(correlationID)
	}
}

// Register adds a new pending entry for correlationID with the given
// deadline, returning the PendingRpc whose result channel receives exactly
// one message (the response) or is closed without a value on
// timeout/cancellation.
func (t *PendingTable) Register(correlationID uint64, deadline time.Time) *PendingRpc {
	p := &PendingRpc{CorrelationID: correlationID, Deadline: deadline, resultCh: make(chan *wire.Message, 1)}
	t.mu.Lock()
	t.entries[correlationID] = p
	t.mu.Unlock()
	return p
}

// Resolve delivers a Response/Result to its waiter. Returns false
// (ErrOrphanResponse territory) if no pending entry matches — the caller
// reports that as an audit event.
func (t *PendingTable) Resolve(correlationID uint64, msg *wire.Message) bool {
	t.mu.Lock()
	p, ok := t.entries[correlationID]
	if ok {
		delete(t.entries, correlationID)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	p.resolve(msg)
	return true
}

// Cancel removes and resolves-empty a pending entry, used for collaborative
// RPC cancellation (spec §5).
func (t *PendingTable) Cancel(correlationID uint64) {
	t.mu.Lock()
	p, ok := t.entries[correlationID]
	if ok {
		delete(t.entries, correlationID)
	}
	t.mu.Unlock()
	if ok {
		p.once.Do(func() { close(p.resultCh) })
	}
}

// CancelAll cancels every pending entry, used on agent shutdown (spec §5:
// "Shutdown cancels all pending RPCs with Cancelled").
func (t *PendingTable) CancelAll() {
	t.mu.Lock()
	all := t.entries
	t.entries = make(map[uint64]*PendingRpc)
	t.mu.Unlock()
	for _, p := range all {
		p.once.Do(func() { close(p.resultCh) })
	}
}

// Await blocks until p resolves, ctx is cancelled, or p's deadline elapses,
// returning ErrRpcTimeout on expiry.
func (t *PendingTable) Await(ctx context.Context, p *PendingRpc) (*wire.Message, error) {
	timer := time.NewTimer(time.Until(p.Deadline))
	defer timer.Stop()

	select {
	case msg, ok := <-p.resultCh:
		if !ok {
			return nil, context.Canceled
		}
		return msg, nil
	case <-timer.C:
		t.Cancel(p.CorrelationID)
		t.fireTimeout(p.CorrelationID)
		return nil, ErrRpcTimeout
	case <-ctx.Done():
		t.Cancel(p.CorrelationID)
		return nil, ctx.Err()
	}
}

// RunReaper periodically sweeps expired entries that nobody is actively
// Awaiting (e.g. a caller that abandoned its future without cancelling).
// Runs until ctx is cancelled.
func (t *PendingTable) RunReaper(ctx context.Context, interval time.Duration) {
	util.SafeGo(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.sweep()
			}
		}
	})
}

func (t *PendingTable) sweep() {
	now := time.Now()
	t.mu.Lock()
	var expired []*PendingRpc
	for id, p := range t.entries {
		if now.After(p.Deadline) {
			expired = append(expired, p)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	for _, p := range expired {
		p.once.Do(func() { close(p.resultCh) })
		logger.Warnw("rpe: reaped expired pending rpc", "correlation_id", p.CorrelationID)
		t.fireTimeout(p.CorrelationID)
	}
}
