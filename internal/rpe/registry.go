package rpe

import (
	"sync"
	"sync/atomic"

	"github.com/agentfabric/fabric/internal/prf"
	"github.com/agentfabric/fabric/internal/wire"
)

// AgentState is an agent's routing-visible lifecycle state (spec §4.4).
type AgentState uint8

const (
	Starting AgentState = iota
	Active
	Draining
	Stopped
)

func (s AgentState) String() string {
	switch s {
	case Starting:
		return "Starting"
	case Active:
		return "Active"
	case Draining:
		return "Draining"
	default:
		return "Stopped"
	}
}

// AgentEntry is the Agent Registry's record for one agent: its private
// inbox (one prf.Fabric instance per agent, giving it its own six priority
// rings) and its routing-visible lifecycle state.
type AgentEntry struct {
	ID    wire.AgentID
	Inbox *prf.Fabric
	state atomic.Int32
}

// State reads the entry's current lifecycle state.
func (e *AgentEntry) State() AgentState { return AgentState(e.state.Load()) }

// SetState writes the entry's lifecycle state.
func (e *AgentEntry) SetState(s AgentState) { e.state.Store(int32(s)) }

// Registry is the RPE's Agent Registry: single-writer, RCU-published, so
// consumer fibers resolving routes never block on a lock (spec §4.4, §5).
type Registry struct {
	mu      sync.Mutex
	entries atomic.Pointer[map[wire.AgentID]*AgentEntry]
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := make(map[wire.AgentID]*AgentEntry)
	r.entries.Store(&empty)
	return r
}

// Register creates a Starting-state entry for id with a fresh private
// inbox. Fails ErrAlreadyExists if id is already registered and not
// Stopped.
func (r *Registry) Register(id wire.AgentID, inboxConfigs [wire.NumPriorities]prf.RingConfig, metrics prf.MetricsSink) (*AgentEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.entries.Load()
	if existing, ok := old[id]; ok && existing.State() != Stopped {
		return nil, ErrAlreadyExists
	}

	entry := &AgentEntry{ID: id, Inbox: prf.NewFabric(inboxConfigs, metrics)}
	entry.SetState(Starting)

	updated := make(map[wire.AgentID]*AgentEntry, len(old)+1)
	for k, v := range old {
		updated[k] = v
	}
	updated[id] = entry
	r.entries.Store(&updated)
	return entry, nil
}

// Lookup returns the entry for id, or nil if never registered.
func (r *Registry) Lookup(id wire.AgentID) *AgentEntry {
	entries := *r.entries.Load()
	return entries[id]
}

// Deregister removes id from the registry entirely. Revocation through the
// control plane does not call it. Unlike SetState,
// this is a structural registry mutation and goes through the RCU publish
// path.
func (r *Registry) Deregister(id wire.AgentID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.entries.Load()
	if _, ok := old[id]; !ok {
		return
	}
	updated := make(map[wire.AgentID]*AgentEntry, len(old))
	for k, v := range old {
		if k != id {
			updated[k] = v
		}
	}
	r.entries.Store(&updated)
}

// Snapshot returns every currently-registered entry, for broadcast fan-out
// and admin introspection. The returned slice is a point-in-time view and
// is never mutated by the registry after it is handed out.
func (r *Registry) Snapshot() []*AgentEntry {
	entries := *r.entries.Load()
	out := make([]*AgentEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	return out
}
