package rpe

import (
	"sync"
	"sync/atomic"

	"github.com/agentfabric/fabric/internal/wire"
)

// MaxTopicBytes bounds the topic prefix the RPE inspects in a pub/sub
// Event's payload (spec §4.4: "first up to 32 bytes, a null-terminated
// UTF-8 string").
const MaxTopicBytes = 32

// ExtractTopic reads the null-terminated topic prefix from a pub/sub
// payload. If no NUL appears within MaxTopicBytes, the whole prefix is
// taken as the topic (best-effort, matching a producer that omitted the
// terminator on a maximally sized topic).
func ExtractTopic(payload []byte) string {
	n := len(payload)
	if n > MaxTopicBytes {
		n = MaxTopicBytes
	}
	for i := 0; i < n; i++ {
		if payload[i] == 0 {
			return string(payload[:i])
		}
	}
	return string(payload[:n])
}

// SubscriptionTable maps topic -> subscriber set. Single-writer with
// RCU-style publication (spec §4.4). Matching is exact-string; wildcard
// matching is an extension point left for a future subscription syntax.
type SubscriptionTable struct {
	mu   sync.Mutex
	byTopic atomic.Pointer[map[string]map[wire.AgentID]struct{}]
}

// NewSubscriptionTable builds an empty table.
func NewSubscriptionTable() *SubscriptionTable {
	t := &SubscriptionTable{}
	empty := make(map[string]map[wire.AgentID]struct{})
	t.byTopic.Store(&empty)
	return t
}

// Subscribe adds id as a subscriber of topic. Idempotent.
func (t *SubscriptionTable) Subscribe(topic string, id wire.AgentID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := *t.byTopic.Load()
	updated := make(map[string]map[wire.AgentID]struct{}, len(old)+1)
	for k, v := range old {
		updated[k] = v
	}

	existing := old[topic]
	newSet := make(map[wire.AgentID]struct{}, len(existing)+1)
	for k := range existing {
		newSet[k] = struct{}{}
	}
	newSet[id] = struct{}{}
	updated[topic] = newSet

	t.byTopic.Store(&updated)
}

// Unsubscribe removes id from topic's subscriber set. Idempotent.
func (t *SubscriptionTable) Unsubscribe(topic string, id wire.AgentID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := *t.byTopic.Load()
	existing, ok := old[topic]
	if !ok {
		return
	}
	if _, present := existing[id]; !present {
		return
	}

	updated := make(map[string]map[wire.AgentID]struct{}, len(old))
	for k, v := range old {
		updated[k] = v
	}

	newSet := make(map[wire.AgentID]struct{}, len(existing))
	for k := range existing {
		if k != id {
			newSet[k] = struct{}{}
		}
	}
	if len(newSet) == 0 {
		delete(updated, topic)
	} else {
		updated[topic] = newSet
	}
	t.byTopic.Store(&updated)
}

// Subscribers returns a snapshot of topic's subscriber set, taken without
// holding any lock across the caller's fan-out (spec §4.4: "subscribers are
// snapshotted per dispatch").
func (t *SubscriptionTable) Subscribers(topic string) []wire.AgentID {
	byTopic := *t.byTopic.Load()
	set := byTopic[topic]
	out := make([]wire.AgentID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// UnsubscribeAll removes id from every topic, used when an agent is
// deregistered.
func (t *SubscriptionTable) UnsubscribeAll(id wire.AgentID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := *t.byTopic.Load()
	updated := make(map[string]map[wire.AgentID]struct{}, len(old))
	for topic, set := range old {
		if _, present := set[id]; !present {
			updated[topic] = set
			continue
		}
		newSet := make(map[wire.AgentID]struct{}, len(set))
		for k := range set {
			if k != id {
				newSet[k] = struct{}{}
			}
		}
		if len(newSet) > 0 {
			updated[topic] = newSet
		}
	}
	t.byTopic.Store(&updated)
}
