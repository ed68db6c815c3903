// Package persist is the fabric's one typed boundary to the PostgreSQL
// audit/recovery collaborator named in spec §1 as out of scope ("the
// PostgreSQL learning store ... appears only as a named collaborator with
// typed boundaries"). Nothing here ever sits on the message hot path: the
// fabric's in-process AuditSink (internal/fabric) appends each audit event
// here while Postgres is healthy and spills to the pending table when it is
// not, and the rest of the core (KIS/AE/PRF/RPE/ARH) never imports it.
package persist

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentfabric/fabric/pkg/util"
)

// BaseStore is the common embed for every persist store: just a pool
// handle, so new stores never redeclare the same constructor shape.
type BaseStore struct{ pool *pgxpool.Pool }

// NewBaseStore wraps a connection pool for embedding.
func NewBaseStore(pool *pgxpool.Pool) BaseStore { return BaseStore{pool: pool} }

// QueryBuilder incrementally assembles a parameterized WHERE clause so
// call sites never hand-splice `$N` placeholders.
type QueryBuilder struct {
	where  []string
	params []any
	n      int
}

// NewQueryBuilder starts an empty builder.
func NewQueryBuilder() *QueryBuilder { return &QueryBuilder{} }

// Eq adds an equality condition; an empty val is skipped (no filter).
func (q *QueryBuilder) Eq(col, val string) *QueryBuilder {
	if val == "" {
		return q
	}
	q.n++
	q.where = append(q.where, fmt.Sprintf("%s = $%d", col, q.n))
	q.params = append(q.params, val)
	return q
}

// Like adds a substring match against col using a LIKE pattern, escaping
// val so it can never inject its own wildcards. Skipped when val is empty.
func (q *QueryBuilder) Like(col, val string) *QueryBuilder {
	if val == "" {
		return q
	}
	q.n++
	q.where = append(q.where, fmt.Sprintf("%s LIKE $%d ESCAPE '\\'", col, q.n))
	q.params = append(q.params, "%"+util.EscapeLike(val)+"%")
	return q
}

// Build assembles the final SQL string and its positional parameters.
func (q *QueryBuilder) Build(baseSQL, orderBy string, limit int) (string, []any) {
	if limit <= 0 {
		limit = 100
	}
	limit = util.ClampInt(limit, 1, 2000)
	sql := baseSQL
	if len(q.where) > 0 {
		sql += " WHERE " + strings.Join(q.where, " AND ")
	}
	if orderBy != "" {
		sql += " ORDER BY " + orderBy
	}
	q.n++
	sql += fmt.Sprintf(" LIMIT $%d", q.n)
	params := append(append([]any{}, q.params...), limit)
	return sql, params
}

func marshalExtra(v map[string]any) []byte {
	if v == nil {
		return []byte("{}")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// collectRows scans every row of a query result into a slice of T via
// pgx.RowToStructByName, matching the field-tag convention used across
// this package's record types.
func collectRows[T any](rows pgx.Rows) ([]T, error) {
	defer rows.Close()
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, err
	}
	return out, nil
}
