package fabric

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentfabric/fabric/internal/persist"
	"github.com/agentfabric/fabric/pkg/logger"
	"github.com/agentfabric/fabric/pkg/util"
)

// maxAuditDetailBytes bounds how much of a single event's detail text is
// kept, so one oversized admin-command payload or handler panic message
// can't grow an audit row (or the in-memory fallback queue) unbounded.
const maxAuditDetailBytes = 4096

// ResilientAuditSink is the fabric's AuditSink implementation: durable-first
// when the Postgres collaborator is healthy, degrading to an in-process
// pending queue (and, if configured, persist.PendingStore) on failure, with
// a background loop that replays the queue and flips back to healthy once
// drained. Implements kis.AuditSink and arh.AuditSink — both share the same
// Audit(eventType, action, result, actor, target, detail string) shape.
type ResilientAuditSink struct {
	audit   *persist.AuditStore
	pending *persist.PendingStore
	healthy atomic.Bool

	// memQueue keeps every event, whatever the Postgres health, in a
	// capped in-memory ring: it feeds Recent(), and Query() when no
	// Postgres collaborator is configured (audit==nil).
	memMu    sync.Mutex
	memQueue []persist.AuditRecord
	memCap   int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewResilientAuditSink builds a sink. audit/pending may both be nil (no
// Postgres collaborator configured), in which case every event is kept only
// in the bounded in-memory queue.
func NewResilientAuditSink(audit *persist.AuditStore, pending *persist.PendingStore, memCap int) *ResilientAuditSink {
	if memCap <= 0 {
		memCap = 1000
	}
	s := &ResilientAuditSink{audit: audit, pending: pending, memCap: memCap, stopCh: make(chan struct{})}
	s.healthy.Store(true)
	return s
}

// Start launches the background recovery loop. No-op if no Postgres
// collaborator is configured.
func (s *ResilientAuditSink) Start(ctx context.Context) {
	if s.audit == nil || s.pending == nil {
		return
	}
	s.wg.Add(1)
	util.SafeGo(func() {
		defer s.wg.Done()
		s.recoveryLoop(ctx)
	})
}

// Stop waits for the recovery loop to exit.
func (s *ResilientAuditSink) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Audit implements the shared AuditSink shape used by kis.Store and
// arh.Agent. Blocks the caller on bounded (5 s) DB writes: one Append while
// healthy, one pending-store save while unhealthy, and both for the event
// whose failed Append marks the sink unhealthy.
func (s *ResilientAuditSink) Audit(eventType, action, result, actor, target, detail string) {
	rec := persist.AuditRecord{TS: time.Now(), EventType: eventType, Action: action, Result: result, Actor: actor, Target: target, Detail: boundDetail(detail)}

	if s.audit == nil {
		s.appendMem(rec)
		return
	}

	if s.healthy.Load() {
		if s.tryAppend(rec) {
			s.appendMem(rec)
			return
		}
		s.healthy.Store(false)
		logger.Warnw("fabric: audit sink marked unhealthy, switching to DB fallback")
	}

	s.appendMem(rec)
	s.saveToPending(rec)
}

// boundDetail truncates detail to maxAuditDetailBytes via a LimitedWriter
// rather than a bare slice, so the truncation point respects partial
// multi-byte writes the same way a streamed writer would.
func boundDetail(detail string) string {
	var buf bytes.Buffer
	lw := util.NewLimitedWriter(&buf, maxAuditDetailBytes)
	_, _ = lw.Write([]byte(detail))
	return buf.String()
}

func (s *ResilientAuditSink) appendMem(rec persist.AuditRecord) {
	s.memMu.Lock()
	s.memQueue = append(s.memQueue, rec)
	if len(s.memQueue) > s.memCap {
		s.memQueue = s.memQueue[len(s.memQueue)-s.memCap:]
	}
	s.memMu.Unlock()
}

// Recent returns up to n of the most recently recorded events, regardless
// of Postgres health, for the control plane's audit feed.
func (s *ResilientAuditSink) Recent(n int) []persist.AuditRecord {
	s.memMu.Lock()
	defer s.memMu.Unlock()
	if n <= 0 || n > len(s.memQueue) {
		n = len(s.memQueue)
	}
	out := make([]persist.AuditRecord, n)
	copy(out, s.memQueue[len(s.memQueue)-n:])
	return out
}

// Query serves filtered audit lookups for the control plane. When a
// Postgres collaborator is configured it queries the durable table
// directly (so a filter reaches further back than the in-memory window);
// otherwise it filters the bounded in-memory queue.
func (s *ResilientAuditSink) Query(ctx context.Context, eventType, actor, targetLike string, limit int) ([]persist.AuditRecord, error) {
	if s.audit != nil {
		return s.audit.List(ctx, eventType, actor, targetLike, limit)
	}

	s.memMu.Lock()
	defer s.memMu.Unlock()
	out := make([]persist.AuditRecord, 0, limit)
	for i := len(s.memQueue) - 1; i >= 0 && len(out) < limit; i-- {
		rec := s.memQueue[i]
		if eventType != "" && rec.EventType != eventType {
			continue
		}
		if actor != "" && rec.Actor != actor {
			continue
		}
		if targetLike != "" && !strings.Contains(rec.Target, targetLike) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *ResilientAuditSink) tryAppend(rec persist.AuditRecord) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			logger.Errorw("fabric: audit append panicked", "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.audit.Append(ctx, rec); err != nil {
		logger.Warnw("fabric: audit append failed", "error", err)
		return false
	}
	return true
}

func (s *ResilientAuditSink) saveToPending(rec persist.AuditRecord) {
	if s.pending == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pr := persist.PendingRecord{EventType: rec.EventType, Action: rec.Action, Result: rec.Result, Actor: rec.Actor, Target: rec.Target, Detail: rec.Detail}
	if err := s.pending.Save(ctx, pr); err != nil {
		logger.Errorw("fabric: audit fallback save failed", "error", err)
	}
}

func (s *ResilientAuditSink) recoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.recoverPending(ctx)
		}
	}
}

func (s *ResilientAuditSink) recoverPending(ctx context.Context) {
	recs, err := s.pending.LoadOldest(ctx, 100)
	if err != nil {
		return
	}
	if len(recs) == 0 {
		if !s.healthy.Load() {
			s.healthy.Store(true)
			logger.Infow("fabric: audit sink recovered, marked healthy")
		}
		return
	}

	for _, pr := range recs {
		rec := persist.AuditRecord{TS: pr.CreatedAt, EventType: pr.EventType, Action: pr.Action, Result: pr.Result, Actor: pr.Actor, Target: pr.Target, Detail: pr.Detail}
		if !s.tryAppend(rec) {
			return
		}
		if err := s.pending.Delete(ctx, pr.Seq); err != nil {
			logger.Errorw("fabric: audit pending delete failed", "seq", pr.Seq, "error", err)
		}
	}
	logger.Infow("fabric: replayed pending audit events", "count", len(recs))
}
