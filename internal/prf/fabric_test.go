package prf

import (
	"testing"
	"time"

	"github.com/agentfabric/fabric/internal/wire"
)

func testFabric() *Fabric {
	var cfgs [wire.NumPriorities]RingConfig
	for i := range cfgs {
		cfgs[i] = RingConfig{Capacity: 8, Policy: DropOldest, Quantum: 4}
	}
	return NewFabric(cfgs, nil)
}

func priMsg(class wire.Priority, id uint64) *wire.Message {
	h := wire.NewHeader()
	h.Priority = class
	h.MsgID = id
	return &wire.Message{Header: h}
}

func TestFabricEnqueueDequeuePerClass(t *testing.T) {
	f := testFabric()
	if f.Enqueue(priMsg(wire.PriorityHigh, 1)) != EnqueueOK {
		t.Fatal("enqueue should succeed")
	}
	got, ok := f.Dequeue(wire.PriorityHigh)
	if !ok || got.Header.MsgID != 1 {
		t.Fatal("expected to dequeue the enqueued message from the same class")
	}
	if _, ok := f.Dequeue(wire.PriorityLow); ok {
		t.Fatal("a different class's ring should be empty")
	}
}

func TestFabricEmergencyFullPanics(t *testing.T) {
	var cfgs [wire.NumPriorities]RingConfig
	for i := range cfgs {
		cfgs[i] = RingConfig{Capacity: 2, Policy: DropOldest}
	}
	f := NewFabric(cfgs, nil)

	for i := 0; i < f.rings[wire.PriorityEmergency].Capacity(); i++ {
		if f.Enqueue(priMsg(wire.PriorityEmergency, uint64(i))) != EnqueueOK {
			t.Fatal("filling the emergency ring to capacity should succeed")
		}
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on emergency ring overflow")
		}
	}()
	f.Enqueue(priMsg(wire.PriorityEmergency, 999))
}

func TestFabricDropOldestPolicy(t *testing.T) {
	var cfgs [wire.NumPriorities]RingConfig
	for i := range cfgs {
		cfgs[i] = RingConfig{Capacity: 2, Policy: DropOldest}
	}
	f := NewFabric(cfgs, nil)
	class := wire.PriorityBulk

	for i := 0; i < f.rings[class].Capacity(); i++ {
		f.Enqueue(priMsg(class, uint64(i)))
	}
	if f.Enqueue(priMsg(class, 999)) != EnqueueOK {
		t.Fatal("DropOldest should make room and succeed")
	}
	first, _ := f.Dequeue(class)
	if first.Header.MsgID == 0 {
		t.Fatal("the oldest message should have been dropped, not delivered")
	}
}

func TestFabricBlockSenderTimesOut(t *testing.T) {
	var cfgs [wire.NumPriorities]RingConfig
	for i := range cfgs {
		cfgs[i] = RingConfig{Capacity: 2, Policy: BlockSender, BlockSenderTimeout: 20 * time.Millisecond}
	}
	f := NewFabric(cfgs, nil)
	class := wire.PriorityMedium
	for i := 0; i < f.rings[class].Capacity(); i++ {
		f.Enqueue(priMsg(class, uint64(i)))
	}

	start := time.Now()
	result := f.Enqueue(priMsg(class, 999))
	if result != EnqueueFull {
		t.Fatalf("expected EnqueueFull after timeout, got %v", result)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("BlockSender should have waited close to its configured timeout")
	}
}
