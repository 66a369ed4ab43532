//go:build postgres

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLogger stores events in the audit_events table created by
// internal/storage/postgres.
type PostgresLogger struct {
	pool *pgxpool.Pool
}

// NewPostgresLogger wraps an existing, migrated pool.
func NewPostgresLogger(pool *pgxpool.Pool) *PostgresLogger {
	return &PostgresLogger{pool: pool}
}

func (s *PostgresLogger) Log(ctx context.Context, e *Event) error {
	if e == nil {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	var detail []byte
	if len(e.Detail) > 0 {
		var err error
		if detail, err = json.Marshal(e.Detail); err != nil {
			return fmt.Errorf("encode audit detail: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events (id, timestamp, actor_id, actor_email, action, target_id, detail, request_id, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9)`,
		e.ID, e.Timestamp.UTC(), e.ActorID, e.ActorEmail, e.Action, e.TargetID,
		nullBytes(detail), e.RequestID, e.IPAddress,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresLogger) List(ctx context.Context, opts ListOptions) ([]*Event, int, error) {
	where := "TRUE"
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where += fmt.Sprintf(" AND %s $%d", cond, len(args))
	}
	if opts.ActorID != "" {
		add("actor_id =", opts.ActorID)
	}
	if opts.TargetID != "" {
		add("target_id =", opts.TargetID)
	}
	if opts.Action != "" {
		add("action =", opts.Action)
	}
	if opts.Since != nil {
		add("timestamp >=", opts.Since.UTC())
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_events WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, timestamp, actor_id, actor_email, action, target_id, detail, request_id, ip_address
		FROM audit_events WHERE %s ORDER BY timestamp DESC, id LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	rows, err := s.pool.Query(ctx, query, append(args, opts.limit(), max(opts.Offset, 0))...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e      Event
			detail []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ActorID, &e.ActorEmail, &e.Action, &e.TargetID, &detail, &e.RequestID, &e.IPAddress); err != nil {
			return nil, 0, fmt.Errorf("scan audit event: %w", err)
		}
		if len(detail) > 0 {
			_ = json.Unmarshal(detail, &e.Detail)
		}
		events = append(events, &e)
	}
	return events, total, rows.Err()
}

func nullBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
