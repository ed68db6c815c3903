package rpe

import (
	"github.com/agentfabric/fabric/internal/prf"
	"github.com/agentfabric/fabric/internal/wire"
	"github.com/agentfabric/fabric/pkg/logger"
)

// Router resolves targets for every addressing pattern and hands messages
// to the resolved agents' private inboxes (spec §4.4). It holds no
// per-message state of its own: PendingRpc bookkeeping lives in each
// agent's ARH-owned PendingTable, which RouteResponse takes as an argument.
type Router struct {
	registry      *Registry
	subscriptions *SubscriptionTable
}

// NewRouter builds a router over the given registry and subscription
// table.
func NewRouter(registry *Registry, subscriptions *SubscriptionTable) *Router {
	return &Router{registry: registry, subscriptions: subscriptions}
}

// deliverOne enqueues msg into target's inbox ring for msg.Header.Priority.
// Sending to a Draining agent is permitted; Stopped or unknown is NoRoute
// (spec §4.4).
func (rt *Router) deliverOne(target wire.AgentID, msg *wire.Message) error {
	entry := rt.registry.Lookup(target)
	if entry == nil || entry.State() == Stopped {
		return ErrNoRoute
	}
	result := entry.Inbox.Enqueue(msg)
	if result != prf.EnqueueOK {
		logger.Warnw("rpe: inbox enqueue rejected", "target", target, "result", result.String())
	}
	return nil
}

// RouteDirect implements pattern 1: exactly one target.
func (rt *Router) RouteDirect(msg *wire.Message) error {
	if msg.Header.TargetCount < 1 {
		return ErrNoRoute
	}
	return rt.deliverOne(msg.Header.Targets[0], msg)
}

// RouteMulticast implements pattern 2: fan-out to an inline target list.
// Each target's delivery failure is independent and does not abort the
// others; the caller receives the count of targets that had no route.
func (rt *Router) RouteMulticast(msg *wire.Message) (failed int) {
	n := int(msg.Header.TargetCount)
	if n > wire.MaxInlineTargets {
		n = wire.MaxInlineTargets
	}
	for i := 0; i < n; i++ {
		if err := rt.deliverOne(msg.Header.Targets[i], msg); err != nil {
			failed++
		}
	}
	return failed
}

// RouteBroadcast implements pattern 3: every registered agent except the
// source, using a registry snapshot taken before fan-out begins so no lock
// is held during delivery.
func (rt *Router) RouteBroadcast(msg *wire.Message) {
	snapshot := rt.registry.Snapshot()
	for _, entry := range snapshot {
		if entry.ID == msg.Header.Source || entry.State() == Stopped {
			continue
		}
		entry.Inbox.Enqueue(msg)
	}
}

// RoutePubSub implements pattern 4: the payload's topic prefix is matched
// against the subscription table (exact-string), and every current
// subscriber receives an independent copy of the handle.
func (rt *Router) RoutePubSub(msg *wire.Message) {
	topic := ExtractTopic(msg.Payload)
	subscribers := rt.subscriptions.Subscribers(topic)
	for _, id := range subscribers {
		if id == msg.Header.Source {
			continue
		}
		rt.deliverOne(id, msg)
	}
}

// RouteResponse implements the reply leg of pattern 5: walks a direct path
// back to the original caller and resolves its PendingRpc via the table
// owned by that caller's ARH. Returns ErrOrphanResponse if no such pending
// call exists (late/duplicate/cancelled).
func (rt *Router) RouteResponse(callerPending *PendingTable, msg *wire.Message) error {
	if !callerPending.Resolve(msg.Header.CorrelationID, msg) {
		return ErrOrphanResponse
	}
	return nil
}

// RouteWorkQueue implements pattern 6: the RPE itself is stateless here — a
// Task is simply delivered direct to the configured coordinator AgentId,
// which owns load-balancing policy (spec §4.4).
func (rt *Router) RouteWorkQueue(coordinator wire.AgentID, msg *wire.Message) error {
	return rt.deliverOne(coordinator, msg)
}
