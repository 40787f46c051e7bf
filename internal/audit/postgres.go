package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresSink persists entries to the audit_entries table. The table has no
// UPDATE or DELETE path in this package.
type PostgresSink struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresSink creates a PostgresSink backed by pool.
func NewPostgresSink(pool *pgxpool.Pool, logger *zap.Logger) *PostgresSink {
	return &PostgresSink{pool: pool, logger: logger}
}

// Write implements Sink.
func (s *PostgresSink) Write(ctx context.Context, e *Entry) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO audit_entries (id, actor, action, target, scope, diff_hash, ts, correlation_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Actor, e.Action, e.Target, e.Scope, e.DiffHash, e.Timestamp, e.CorrelationID,
	); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Group implements Querier.
func (s *PostgresSink) Group(ctx context.Context, correlationID string) (*Group, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, actor, action, target, scope, diff_hash, ts, correlation_id
		 FROM audit_entries WHERE correlation_id = $1 ORDER BY ts ASC, seq ASC`,
		correlationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit group: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.ID, &e.Actor, &e.Action, &e.Target, &e.Scope, &e.DiffHash, &e.Timestamp, &e.CorrelationID)
		e.Timestamp = e.Timestamp.UTC()
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan audit group: %w", err)
	}
	return &Group{CorrelationID: correlationID, Entries: entries}, nil
}
