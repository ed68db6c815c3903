package persist

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRecord is one durable audit row, the on-disk shape of an audit
// event once the fabric's in-process sink has decided to persist it
// (normal append, or a fallback recovery replay).
type AuditRecord struct {
	TS        time.Time      `db:"ts"`
	EventType string         `db:"event_type"`
	Action    string         `db:"action"`
	Result    string         `db:"result"`
	Actor     string         `db:"actor"`
	Target    string         `db:"target"`
	Detail    string         `db:"detail"`
	Extra     map[string]any `db:"extra"`
}

// AuditStore appends audit events durably and serves the admin audit
// query surface through List. It never blocks message delivery: every
// caller in internal/fabric treats a failed Append as non-fatal.
type AuditStore struct{ BaseStore }

// NewAuditStore builds a store over pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore { return &AuditStore{NewBaseStore(pool)} }

// Append durably records one audit event.
func (s *AuditStore) Append(ctx context.Context, r AuditRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_events (ts, event_type, action, result, actor, target, detail, extra)
		 VALUES (NOW(), $1, $2, $3, $4, $5, $6, $7::jsonb)`,
		r.EventType, r.Action, r.Result, r.Actor, r.Target, r.Detail, marshalExtra(r.Extra))
	return err
}

// List returns the most recent audit events, optionally filtered by event
// type, exact actor, and a target substring, newest first.
func (s *AuditStore) List(ctx context.Context, eventType, actor, targetLike string, limit int) ([]AuditRecord, error) {
	q := NewQueryBuilder().Eq("event_type", eventType).Eq("actor", actor).Like("target", targetLike)
	sql, params := q.Build(
		"SELECT ts, event_type, action, result, actor, target, detail, extra FROM audit_events",
		"ts DESC, id DESC", limit)
	rows, err := s.pool.Query(ctx, sql, params...)
	if err != nil {
		return nil, err
	}
	return collectRows[AuditRecord](rows)
}
