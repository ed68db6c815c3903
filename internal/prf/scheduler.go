package prf

import (
	"context"
	"time"

	"github.com/agentfabric/fabric/internal/wire"
	"github.com/agentfabric/fabric/pkg/logger"
	"github.com/agentfabric/fabric/pkg/util"
)

// Handler processes one dequeued message. It must not block for long —
// a slow handler delays every lower-priority class behind it in the same
// agent's round.
type Handler func(msg *wire.Message)

// Scheduler drains a Fabric's rings in strict priority order, honoring each
// class's quantum before moving on, and guarantees every non-empty class is
// visited within one round (spec §4.3). Emergency has no quantum: the
// scheduler drains it to empty before considering any lower class.
//
// Run drives exactly one consumer fiber per Scheduler: an agent's inbox is
// a private SPMC ring with one consumer (spec invariant), so there is never
// more than one goroutine calling round()/dispatch() against a given
// Scheduler's fabric.
type Scheduler struct {
	fabric  *Fabric
	handler Handler
	idle    time.Duration
	limiter chan struct{}
}

// NewScheduler builds a scheduler over fabric. idle is the sleep interval
// used when a full round finds every ring empty.
func NewScheduler(fabric *Fabric, handler Handler, idle time.Duration) *Scheduler {
	if idle <= 0 {
		idle = time.Millisecond
	}
	return &Scheduler{fabric: fabric, handler: handler, idle: idle}
}

// WithLimiter bounds how many dispatches may run concurrently across every
// Scheduler sharing sem, not just this one — callers construct one shared
// channel and pass it to each agent's scheduler so a fabric-wide
// ConsumerWorkers setting throttles total concurrent handler execution
// without letting more than one goroutine drain any single inbox. Must be
// called before Run. Returns s for chaining.
func (s *Scheduler) WithLimiter(sem chan struct{}) *Scheduler {
	s.limiter = sem
	return s
}

// Run drives this scheduler's single consumer fiber until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !s.round() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.idle):
			}
		}
	}
}

// round visits every priority class once, draining each up to its quantum
// (Emergency unbounded). Returns true iff at least one message was
// processed, so the caller can decide whether to idle.
func (s *Scheduler) round() bool {
	processedAny := false
	for class := wire.Priority(0); int(class) < wire.NumPriorities; class++ {
		cfg := s.fabric.configs[class]
		limit := cfg.Quantum
		drained := 0
		for limit == 0 || drained < limit {
			msg, ok := s.fabric.Dequeue(class)
			if !ok {
				break
			}
			processedAny = true
			drained++
			s.dispatch(msg)
			if class != wire.PriorityEmergency && limit == 0 {
				break // unbounded-but-not-Emergency is a misconfiguration guard
			}
		}
	}
	return processedAny
}

func (s *Scheduler) dispatch(msg *wire.Message) {
	if s.limiter != nil {
		s.limiter <- struct{}{}
		defer func() { <-s.limiter }()
	}
	defer func() {
		if r := recover(); r != nil {
			if fi, ok := r.(util.FatalInvariant); ok && fi.FatalInvariant() {
				panic(r)
			}
			// Handler panics never escape the scheduler beyond a
			// FatalInvariant; the fabric's audit sink (wired by
			// internal/fabric) is responsible for recording these if
			// configured — arh.Agent.invoke is the layer that audits.
			logger.Errorw("prf: handler panicked", "panic", r)
		}
	}()
	s.handler(msg)
}
