package rpe

import (
	"testing"
	"time"

	"github.com/agentfabric/fabric/internal/prf"
	"github.com/agentfabric/fabric/internal/wire"
)

func testInboxConfigs() [wire.NumPriorities]prf.RingConfig {
	var cfgs [wire.NumPriorities]prf.RingConfig
	for i := range cfgs {
		cfgs[i] = prf.RingConfig{Capacity: 16, Policy: prf.DropOldest, Quantum: 16}
	}
	return cfgs
}

func registerActive(t *testing.T, reg *Registry, id wire.AgentID) *AgentEntry {
	t.Helper()
	e, err := reg.Register(id, testInboxConfigs(), nil)
	if err != nil {
		t.Fatalf("Register(%d): %v", id, err)
	}
	e.SetState(Active)
	return e
}

func directMsg(source, target wire.AgentID, class wire.Priority) *wire.Message {
	h := wire.NewHeader()
	h.Priority = class
	h.Source = source
	h.TargetCount = 1
	h.Targets[0] = target
	return &wire.Message{Header: h}
}

func TestRouteDirectDelivers(t *testing.T) {
	reg := NewRegistry()
	registerActive(t, reg, 1)
	target := registerActive(t, reg, 2)

	rt := NewRouter(reg, NewSubscriptionTable())
	msg := directMsg(1, 2, wire.PriorityHigh)
	if err := rt.RouteDirect(msg); err != nil {
		t.Fatalf("RouteDirect: %v", err)
	}

	got, ok := target.Inbox.Dequeue(wire.PriorityHigh)
	if !ok || got.Header.Source != 1 {
		t.Fatal("expected target's inbox to receive the direct message")
	}
}

func TestRouteDirectUnknownTargetIsNoRoute(t *testing.T) {
	reg := NewRegistry()
	registerActive(t, reg, 1)
	rt := NewRouter(reg, NewSubscriptionTable())

	msg := directMsg(1, 999, wire.PriorityHigh)
	if err := rt.RouteDirect(msg); err != ErrNoRoute {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestRouteDirectToStoppedIsNoRoute(t *testing.T) {
	reg := NewRegistry()
	registerActive(t, reg, 1)
	target := registerActive(t, reg, 2)
	target.SetState(Stopped)

	rt := NewRouter(reg, NewSubscriptionTable())
	msg := directMsg(1, 2, wire.PriorityHigh)
	if err := rt.RouteDirect(msg); err != ErrNoRoute {
		t.Fatalf("expected ErrNoRoute for stopped target, got %v", err)
	}
}

func TestRouteDirectToDrainingIsPermitted(t *testing.T) {
	reg := NewRegistry()
	registerActive(t, reg, 1)
	target := registerActive(t, reg, 2)
	target.SetState(Draining)

	rt := NewRouter(reg, NewSubscriptionTable())
	msg := directMsg(1, 2, wire.PriorityHigh)
	if err := rt.RouteDirect(msg); err != nil {
		t.Fatalf("expected delivery to draining agent to succeed, got %v", err)
	}
}

func TestRouteMulticastIndependentFailures(t *testing.T) {
	reg := NewRegistry()
	registerActive(t, reg, 1)
	a := registerActive(t, reg, 2)
	registerActive(t, reg, 3)

	rt := NewRouter(reg, NewSubscriptionTable())
	h := wire.NewHeader()
	h.Source = 1
	h.TargetCount = 3
	h.Targets[0] = 2
	h.Targets[1] = 999 // no route
	h.Targets[2] = 3
	msg := &wire.Message{Header: h}

	failed := rt.RouteMulticast(msg)
	if failed != 1 {
		t.Fatalf("expected exactly one failed target, got %d", failed)
	}
	if _, ok := a.Inbox.Dequeue(wire.PriorityEmergency); ok {
		t.Fatal("message should land on its own priority class, not Emergency")
	}
}

func TestRouteBroadcastExcludesSource(t *testing.T) {
	reg := NewRegistry()
	source := registerActive(t, reg, 1)
	b := registerActive(t, reg, 2)
	c := registerActive(t, reg, 3)

	rt := NewRouter(reg, NewSubscriptionTable())
	h := wire.NewHeader()
	h.MsgType = wire.MsgBroadcast
	h.Priority = wire.PriorityMedium
	h.Source = 1
	msg := &wire.Message{Header: h}
	rt.RouteBroadcast(msg)

	if _, ok := source.Inbox.Dequeue(wire.PriorityMedium); ok {
		t.Fatal("source should not receive its own broadcast")
	}
	if _, ok := b.Inbox.Dequeue(wire.PriorityMedium); !ok {
		t.Fatal("expected target b to receive the broadcast")
	}
	if _, ok := c.Inbox.Dequeue(wire.PriorityMedium); !ok {
		t.Fatal("expected target c to receive the broadcast")
	}
}

func TestRoutePubSubMatchesExactTopic(t *testing.T) {
	reg := NewRegistry()
	registerActive(t, reg, 1)
	sub := registerActive(t, reg, 2)

	subs := NewSubscriptionTable()
	subs.Subscribe("orders.created", 2)

	rt := NewRouter(reg, subs)
	h := wire.NewHeader()
	h.MsgType = wire.MsgEvent
	h.Priority = wire.PriorityLow
	h.Source = 1
	payload := append([]byte("orders.created"), 0, 'x', 'x')
	msg := &wire.Message{Header: h, Payload: payload}

	rt.RoutePubSub(msg)
	if _, ok := sub.Inbox.Dequeue(wire.PriorityLow); !ok {
		t.Fatal("expected subscriber to receive the event")
	}
}

func TestRouteWorkQueueDeliversToCoordinator(t *testing.T) {
	reg := NewRegistry()
	coordinator := registerActive(t, reg, 5)
	rt := NewRouter(reg, NewSubscriptionTable())

	h := wire.NewHeader()
	h.MsgType = wire.MsgTask
	h.Priority = wire.PriorityMedium
	msg := &wire.Message{Header: h}

	if err := rt.RouteWorkQueue(5, msg); err != nil {
		t.Fatalf("RouteWorkQueue: %v", err)
	}
	if _, ok := coordinator.Inbox.Dequeue(wire.PriorityMedium); !ok {
		t.Fatal("expected coordinator to receive the task")
	}
}

func TestRouteResponseResolvesPendingCall(t *testing.T) {
	table := NewPendingTable()
	p := table.Register(42, time.Now().Add(time.Second))

	rt := NewRouter(NewRegistry(), NewSubscriptionTable())
	h := wire.NewHeader()
	h.MsgType = wire.MsgResponse
	h.CorrelationID = 42
	msg := &wire.Message{Header: h}

	if err := rt.RouteResponse(table, msg); err != nil {
		t.Fatalf("RouteResponse: %v", err)
	}
	select {
	case got := <-p.resultCh:
		if got.Header.CorrelationID != 42 {
			t.Fatal("resolved message has wrong correlation id")
		}
	default:
		t.Fatal("expected the pending call's channel to have a value")
	}
}

func TestRouteResponseOrphan(t *testing.T) {
	table := NewPendingTable()
	rt := NewRouter(NewRegistry(), NewSubscriptionTable())

	h := wire.NewHeader()
	h.MsgType = wire.MsgResponse
	h.CorrelationID = 1234
	msg := &wire.Message{Header: h}

	if err := rt.RouteResponse(table, msg); err != ErrOrphanResponse {
		t.Fatalf("expected ErrOrphanResponse, got %v", err)
	}
}
