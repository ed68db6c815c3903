package persist

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PendingRecord is one audit event the in-process sink could not deliver
// (the fabric's audit dispatcher was unhealthy) and spilled to disk for
// later replay, mirroring the teacher corpus's bus_pending degrade/replay
// pattern.
type PendingRecord struct {
	Seq       int64     `db:"seq"`
	EventType string    `db:"event_type"`
	Action    string    `db:"action"`
	Result    string    `db:"result"`
	Actor     string    `db:"actor"`
	Target    string    `db:"target"`
	Detail    string    `db:"detail"`
	CreatedAt time.Time `db:"created_at"`
}

// PendingStore is the fallback store backing internal/fabric's
// ResilientAuditSink.
type PendingStore struct{ BaseStore }

// NewPendingStore builds a store over pool.
func NewPendingStore(pool *pgxpool.Pool) *PendingStore { return &PendingStore{NewBaseStore(pool)} }

// Save spills one event to the pending queue.
func (s *PendingStore) Save(ctx context.Context, r PendingRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_pending (event_type, action, result, actor, target, detail) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.EventType, r.Action, r.Result, r.Actor, r.Target, r.Detail)
	return err
}

// LoadOldest returns up to limit queued events, oldest first, for replay.
func (s *PendingStore) LoadOldest(ctx context.Context, limit int) ([]PendingRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT seq, event_type, action, result, actor, target, detail, created_at FROM audit_pending ORDER BY seq ASC LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	return collectRows[PendingRecord](rows)
}

// Delete removes a replayed entry.
func (s *PendingStore) Delete(ctx context.Context, seq int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM audit_pending WHERE seq = $1`, seq)
	return err
}
