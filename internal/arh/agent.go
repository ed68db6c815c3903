package arh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentfabric/fabric/internal/ae"
	"github.com/agentfabric/fabric/internal/prf"
	"github.com/agentfabric/fabric/internal/rpe"
	"github.com/agentfabric/fabric/internal/wire"
	"github.com/agentfabric/fabric/pkg/logger"
	"github.com/agentfabric/fabric/pkg/util"
)

// Handler processes one inbound message. A non-nil returned message is
// auto-stamped and routed back to the sender as a Response (spec §4.5
// dispatch table keyed by msg_type).
type Handler func(ctx context.Context, msg *wire.Message) (*wire.Message, error)

// AuditSink receives handler-failure and lifecycle audit events. A typed
// boundary, same shape as kis.AuditSink, kept separate to avoid an import
// cycle between kis and arh.
type AuditSink interface {
	Audit(eventType, action, result, actor, target, detail string)
}

type noopAuditSink struct{}

func (noopAuditSink) Audit(string, string, string, string, string, string) {}

// Agent is the Agent Runtime Host's per-agent handle: inbox (owned by its
// rpe.AgentEntry), outbox, RPC pending table, per-source replay window, and
// the handler dispatch table (spec §4.5).
type Agent struct {
	id       wire.AgentID
	entry    *rpe.AgentEntry
	router   *rpe.Router
	envelope *ae.Envelope
	replay   *ae.ReplayGuard
	pending  *rpe.PendingTable
	subs     *rpe.SubscriptionTable
	audit    AuditSink
	metrics  MetricsRecorder

	handlersMu sync.RWMutex
	handlers   map[wire.MsgType]Handler

	shutdownGrace time.Duration

	scheduler *prf.Scheduler
	cancel    context.CancelFunc
}

// New builds an Agent bound to an already-registered rpe.AgentEntry. The
// caller (internal/fabric) is responsible for registry/KIS bookkeeping;
// Agent only owns runtime dispatch.
func New(entry *rpe.AgentEntry, router *rpe.Router, envelope *ae.Envelope, subs *rpe.SubscriptionTable, replayWindowSize uint64, shutdownGrace time.Duration, audit AuditSink) *Agent {
	if audit == nil {
		audit = noopAuditSink{}
	}
	a := &Agent{
		id:            entry.ID,
		entry:         entry,
		router:        router,
		envelope:      envelope,
		replay:        ae.NewReplayGuard(replayWindowSize),
		pending:       rpe.NewPendingTable(),
		subs:          subs,
		audit:         audit,
		handlers:      make(map[wire.MsgType]Handler),
		shutdownGrace: shutdownGrace,
	}
	return a
}

// ID returns the agent's stable AgentID.
func (a *Agent) ID() wire.AgentID { return a.id }

// RegisterHandler installs the handler for msg_type. Must be called before
// Start (spec §4.5: "at startup, before Active").
func (a *Agent) RegisterHandler(msgType wire.MsgType, h Handler) error {
	if a.entry.State() != rpe.Starting {
		return ErrAlreadyActive
	}
	a.handlersMu.Lock()
	a.handlers[msgType] = h
	a.handlersMu.Unlock()
	return nil
}

// Subscribe adds this agent to topic's subscriber set via the RPE.
func (a *Agent) Subscribe(topic string) { a.subs.Subscribe(topic, a.id) }

// Unsubscribe removes this agent from topic.
func (a *Agent) Unsubscribe(topic string) { a.subs.Unsubscribe(topic, a.id) }

// Start transitions the agent to Active and launches the single consumer
// fiber draining its private inbox. sem, when non-nil, is a fabric-wide
// semaphore shared with every other agent's scheduler, bounding how many
// handler calls may run concurrently across the whole fabric without ever
// letting more than this one goroutine drain this agent's inbox.
func (a *Agent) Start(ctx context.Context, sem chan struct{}) {
	a.entry.SetState(rpe.Active)
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.scheduler = prf.NewScheduler(a.entry.Inbox, a.dispatch, time.Millisecond).WithLimiter(sem)
	util.SafeGo(func() { a.scheduler.Run(runCtx) })
}

// Send stamps msg via AE with this agent as source and routes it according
// to msg.Header.MsgType/TargetCount.
func (a *Agent) Send(msg *wire.Message) error {
	if a.entry.State() != rpe.Active && a.entry.State() != rpe.Draining {
		return ErrNotActive
	}
	if err := a.envelope.Stamp(&msg.Header, msg.Payload, a.id); err != nil {
		return err
	}
	return a.route(msg)
}

// SendBatch sends msgs in order, walking them as runs of contiguous
// same-priority messages. Each message is still stamped and routed by its
// own Send call: a run does not share one ring reservation. The first error
// stops the batch; messages already sent stay sent.
func (a *Agent) SendBatch(msgs []*wire.Message) error {
	i := 0
	for i < len(msgs) {
		j := i + 1
		for j < len(msgs) && msgs[j].Header.Priority == msgs[i].Header.Priority {
			j++
		}
		for _, msg := range msgs[i:j] {
			if err := a.Send(msg); err != nil {
				return err
			}
		}
		i = j
	}
	return nil
}

func (a *Agent) route(msg *wire.Message) error {
	switch msg.Header.MsgType {
	case wire.MsgBroadcast:
		a.router.RouteBroadcast(msg)
		return nil
	case wire.MsgEvent:
		a.router.RoutePubSub(msg)
		return nil
	default:
		if msg.Header.Flags.Has(wire.FlagMulticast) || msg.Header.TargetCount > 1 {
			a.router.RouteMulticast(msg)
			return nil
		}
		return a.router.RouteDirect(msg)
	}
}

// Call issues an RPC: sets ReplyExpected, stamps the request (whose
// resulting msg_id becomes the correlation id the responder must echo),
// registers a PendingRpc, sends, then blocks until the response arrives,
// timeout elapses, or ctx is cancelled (spec §4.5). Request messages carry
// correlation_id == 0 by wire.Header.Validate's rule; the request's own
// msg_id plays the correlating role a Response/Result's correlation_id
// later echoes back.
func (a *Agent) Call(ctx context.Context, target wire.AgentID, payload []byte, priority wire.Priority, timeout time.Duration) (*wire.Message, error) {
	h := wire.NewHeader()
	h.MsgType = wire.MsgRequest
	h.Priority = priority
	h.Flags |= wire.FlagReplyExpected
	h.TargetCount = 1
	h.Targets[0] = target
	msg := &wire.Message{Header: h, Payload: payload}

	if err := a.envelope.Stamp(&msg.Header, msg.Payload, a.id); err != nil {
		return nil, err
	}
	correlationID := msg.Header.MsgID

	pendingEntry := a.pending.Register(correlationID, time.Now().Add(timeout))
	if err := a.route(msg); err != nil {
		a.pending.Cancel(correlationID)
		return nil, err
	}

	return a.pending.Await(ctx, pendingEntry)
}

// Respond builds and sends a Response/Result carrying correlationID back to
// its caller, at priority >= the original request (spec §4.4 rule 5).
func (a *Agent) Respond(correlationID uint64, target wire.AgentID, payload []byte, requestPriority wire.Priority, isResult bool) error {
	h := wire.NewHeader()
	h.MsgType = wire.MsgResponse
	if isResult {
		h.MsgType = wire.MsgResult
	}
	h.Priority = requestPriority
	h.CorrelationID = correlationID
	h.TargetCount = 1
	h.Targets[0] = target
	msg := &wire.Message{Header: h, Payload: payload}
	return a.Send(msg)
}

// Stop transitions the agent to Draining, waits for its inbox to empty (or
// shutdown_grace to elapse), cancels outstanding RPCs, then marks Stopped
// (spec §4.5).
func (a *Agent) Stop() {
	a.entry.SetState(rpe.Draining)

	deadline := time.Now().Add(a.shutdownGrace)
	for time.Now().Before(deadline) {
		drained := true
		for class := wire.Priority(0); int(class) < wire.NumPriorities; class++ {
			if a.entry.Inbox.Len(class) > 0 {
				drained = false
				break
			}
		}
		if drained {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if a.cancel != nil {
		a.cancel()
	}
	a.pending.CancelAll()
	a.entry.SetState(rpe.Stopped)
}

// dispatch runs on the agent's consumer worker for every message pulled
// from its inbox: verify, replay-check, route Response/Result back to a
// pending caller, or invoke the registered handler.
func (a *Agent) dispatch(msg *wire.Message) {
	if err := a.envelope.VerifyEnvelope(msg.Header, msg.Payload, a.replay); err != nil {
		a.audit.Audit("arh.verify", "verify", "denied", fmt.Sprintf("%d", msg.Header.Source), fmt.Sprintf("%d", a.id), err.Error())
		return
	}

	if a.metrics != nil {
		age := time.Duration(uint64(time.Now().UnixNano()) - msg.Header.TimestampNS)
		a.metrics.RecordLatency(msg.Header.Priority, age)
	}

	if msg.Header.MsgType == wire.MsgResponse || msg.Header.MsgType == wire.MsgResult {
		if !a.pending.Resolve(msg.Header.CorrelationID, msg) {
			a.audit.Audit("arh.route", "response", "orphan", fmt.Sprintf("%d", msg.Header.Source), fmt.Sprintf("%d", a.id), "no matching pending rpc")
		}
		return
	}

	a.handlersMu.RLock()
	h, ok := a.handlers[msg.Header.MsgType]
	a.handlersMu.RUnlock()
	if !ok {
		a.audit.Audit("arh.dispatch", "dispatch", "no_handler", fmt.Sprintf("%d", msg.Header.Source), fmt.Sprintf("%d", a.id), msg.Header.MsgType.String())
		return
	}

	a.invoke(h, msg)
}

// invoke isolates an ordinary handler panic so it does not take down the
// consumer worker: the offending message is audited and the agent remains
// Active (spec §4.5). A panic value implementing util.FatalInvariant is
// re-panicked instead.
func (a *Agent) invoke(h Handler, msg *wire.Message) {
	defer func() {
		if r := recover(); r != nil {
			if fi, ok := r.(util.FatalInvariant); ok && fi.FatalInvariant() {
				panic(r)
			}
			logger.Errorw("arh: handler panicked", "agent_id", a.id, "msg_type", msg.Header.MsgType.String(), "panic", r)
			a.audit.Audit("arh.handler", "dispatch", "panic", fmt.Sprintf("%d", msg.Header.Source), fmt.Sprintf("%d", a.id), fmt.Sprintf("%v", r))
		}
	}()

	ctx := context.Background()
	resp, err := h(ctx, msg)
	if err != nil {
		a.audit.Audit("arh.handler", "dispatch", "error", fmt.Sprintf("%d", msg.Header.Source), fmt.Sprintf("%d", a.id), err.Error())
		return
	}
	if resp != nil && msg.Header.Flags.Has(wire.FlagReplyExpected) {
		a.Respond(msg.Header.MsgID, msg.Header.Source, resp.Payload, msg.Header.Priority, false)
	}
}
