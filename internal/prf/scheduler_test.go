package prf

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentfabric/fabric/internal/wire"
)

func TestSchedulerDrainsHigherPriorityFirst(t *testing.T) {
	var cfgs [wire.NumPriorities]RingConfig
	for i := range cfgs {
		cfgs[i] = RingConfig{Capacity: 16, Policy: DropOldest, Quantum: 16}
	}
	f := NewFabric(cfgs, nil)
	f.Enqueue(priMsg(wire.PriorityBulk, 1))
	f.Enqueue(priMsg(wire.PriorityCritical, 2))

	var order []uint64
	var mu sync.Mutex
	handler := func(msg *wire.Message) {
		mu.Lock()
		order = append(order, msg.Header.MsgID)
		mu.Unlock()
	}

	s := NewScheduler(f, handler, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("expected critical(2) before bulk(1), got %v", order)
	}
}

func TestSchedulerPanicInHandlerIsIsolated(t *testing.T) {
	var cfgs [wire.NumPriorities]RingConfig
	for i := range cfgs {
		cfgs[i] = RingConfig{Capacity: 16, Policy: DropOldest, Quantum: 16}
	}
	f := NewFabric(cfgs, nil)
	f.Enqueue(priMsg(wire.PriorityHigh, 1))
	f.Enqueue(priMsg(wire.PriorityHigh, 2))

	var processed int32
	handler := func(msg *wire.Message) {
		if msg.Header.MsgID == 1 {
			panic("boom")
		}
		atomic.AddInt32(&processed, 1)
	}

	s := NewScheduler(f, handler, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if atomic.LoadInt32(&processed) != 1 {
		t.Fatalf("expected the second message to still be processed, processed=%d", processed)
	}
}

func TestSchedulerPropagatesFatalInvariant(t *testing.T) {
	var cfgs [wire.NumPriorities]RingConfig
	for i := range cfgs {
		cfgs[i] = RingConfig{Capacity: 16, Policy: DropOldest, Quantum: 16}
	}
	f := NewFabric(cfgs, nil)
	f.Enqueue(priMsg(wire.PriorityHigh, 1))

	handler := func(msg *wire.Message) {
		panic(InvariantViolation{Reason: "test"})
	}

	s := NewScheduler(f, handler, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a FatalInvariant panic to propagate out of Run")
		}
		if iv, ok := r.(InvariantViolation); !ok || !iv.FatalInvariant() {
			t.Fatalf("expected recovered value to be an InvariantViolation, got %#v", r)
		}
	}()
	s.Run(ctx)
}

func TestSchedulerLimiterBoundsConcurrentDispatch(t *testing.T) {
	var cfgs [wire.NumPriorities]RingConfig
	for i := range cfgs {
		cfgs[i] = RingConfig{Capacity: 16, Policy: DropOldest, Quantum: 16}
	}
	f := NewFabric(cfgs, nil)
	for i := 0; i < 4; i++ {
		f.Enqueue(priMsg(wire.PriorityHigh, uint64(i)))
	}

	sem := make(chan struct{}, 1)
	var concurrent int32
	var maxConcurrent int32
	handler := func(msg *wire.Message) {
		cur := atomic.AddInt32(&concurrent, 1)
		for {
			m := atomic.LoadInt32(&maxConcurrent)
			if cur <= m || atomic.CompareAndSwapInt32(&maxConcurrent, m, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&concurrent, -1)
	}

	s := NewScheduler(f, handler, time.Millisecond).WithLimiter(sem)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if atomic.LoadInt32(&maxConcurrent) > 1 {
		t.Fatalf("limiter of size 1 should bound concurrent dispatch to 1, saw %d", maxConcurrent)
	}
}
