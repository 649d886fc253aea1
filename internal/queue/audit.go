package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AuditEvent records one lifecycle transition for later inspection.
type AuditEvent struct {
	ID        int64
	WorkID    int64
	EventType string
	Detail    string
	Actor     string
	CreatedAt time.Time
}

// appendAudit records a lifecycle event. Auditing is best-effort: a failed
// insert never blocks the transition that triggered it.
func (s *Store) appendAudit(ctx context.Context, workID int64, eventType, detail, actor string) {
	_, _ = s.execWithRetry(
		ctx,
		`INSERT INTO audit_events (work_id, event_type, detail, actor, created_at)
         VALUES (?, ?, ?, ?, ?)`,
		workID,
		eventType,
		nullableString(detail),
		nullableString(actor),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
}

// AuditTrail returns the recorded events for a work item, oldest first.
func (s *Store) AuditTrail(ctx context.Context, workID int64) ([]AuditEvent, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, work_id, event_type, detail, actor, created_at
         FROM audit_events WHERE work_id = ? ORDER BY id`,
		workID,
	)
	if err != nil {
		return nil, fmt.Errorf("audit trail: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			event   AuditEvent
			detail  sql.NullString
			actor   sql.NullString
			created sql.NullString
		)
		if err := rows.Scan(&event.ID, &event.WorkID, &event.EventType, &detail, &actor, &created); err != nil {
			return nil, err
		}
		event.Detail = detail.String
		event.Actor = actor.String
		if ts, err := parseTimeString(created.String); err == nil {
			event.CreatedAt = ts
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
