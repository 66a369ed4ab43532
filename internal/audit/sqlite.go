//go:build sqlite

package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// sqliteTimeLayout is fixed-width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteLogger stores events in the audit_events table created by
// internal/storage/sqlite.
type SQLiteLogger struct {
	db *sql.DB
}

// NewSQLiteLogger wraps an open, migrated database.
func NewSQLiteLogger(db *sql.DB) *SQLiteLogger {
	return &SQLiteLogger{db: db}
}

func (s *SQLiteLogger) Log(ctx context.Context, e *Event) error {
	if e == nil {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	var detail sql.NullString
	if len(e.Detail) > 0 {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("encode audit detail: %w", err)
		}
		detail = sql.NullString{String: string(data), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, timestamp, actor_id, actor_email, action, target_id, detail, request_id, ip_address)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.Timestamp.UTC().Format(sqliteTimeLayout), e.ActorID, e.ActorEmail,
		e.Action, e.TargetID, detail, e.RequestID, e.IPAddress,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *SQLiteLogger) List(ctx context.Context, opts ListOptions) ([]*Event, int, error) {
	where := "1=1"
	var args []any
	if opts.ActorID != "" {
		where += " AND actor_id = ?"
		args = append(args, opts.ActorID)
	}
	if opts.TargetID != "" {
		where += " AND target_id = ?"
		args = append(args, opts.TargetID)
	}
	if opts.Action != "" {
		where += " AND action = ?"
		args = append(args, opts.Action)
	}
	if opts.Since != nil {
		where += " AND timestamp >= ?"
		args = append(args, opts.Since.UTC().Format(sqliteTimeLayout))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, timestamp, actor_id, actor_email, action, target_id, detail, request_id, ip_address
		FROM audit_events WHERE `+where+` ORDER BY timestamp DESC, id LIMIT ? OFFSET ?`,
		append(args, opts.limit(), max(opts.Offset, 0))...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e      Event
			ts     string
			detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.ActorID, &e.ActorEmail, &e.Action, &e.TargetID, &detail, &e.RequestID, &e.IPAddress); err != nil {
			return nil, 0, fmt.Errorf("scan audit event: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if detail.Valid && detail.String != "" {
			_ = json.Unmarshal([]byte(detail.String), &e.Detail)
		}
		events = append(events, &e)
	}
	return events, total, rows.Err()
}
