package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"loom/internal/services"
	"loom/internal/workitem"
)

// EnqueueRequest carries the fields needed to insert a pending work item.
type EnqueueRequest struct {
	Type         workitem.Type
	Payload      json.RawMessage
	ContainerID  string
	TenantID     string
	Priority     int
	ParentWorkID *int64
	// Delay holds the item back from claiming until it elapses. Cascade
	// rules with a configured delay use this.
	Delay time.Duration
}

// Enqueue validates the payload against the registered stage schema and
// inserts a pending item.
func (s *Store) Enqueue(ctx context.Context, req EnqueueRequest) (*workitem.Item, error) {
	if strings.TrimSpace(req.TenantID) == "" {
		return nil, services.Wrap(services.ErrValidation, "queue", "enqueue", "tenant_id is required", nil)
	}
	if strings.TrimSpace(req.ContainerID) == "" {
		return nil, services.Wrap(services.ErrValidation, "queue", "enqueue", "container_id is required", nil)
	}
	if err := s.registry.ValidatePayload(req.Type, req.Payload); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	availableAt := now.Add(req.Delay).Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO work_items (
            work_type, status, priority, container_id, tenant_id, payload,
            parent_work_id, available_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(req.Type),
		workitem.StatusPending,
		req.Priority,
		req.ContainerID,
		req.TenantID,
		string(req.Payload),
		nullableInt64(req.ParentWorkID),
		availableAt,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert work item: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	s.appendAudit(ctx, id, "enqueued", string(req.Type), "")

	return s.getByID(ctx, id)
}

// Get fetches a work item scoped to a tenant. Items belonging to another
// tenant are never disclosed; the lookup fails with an access error.
func (s *Store) Get(ctx context.Context, tenantID string, id int64) (*workitem.Item, error) {
	item, err := s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, services.Wrap(services.ErrNotFound, "queue", "get", fmt.Sprintf("work item %d", id), nil)
	}
	if item.TenantID != tenantID {
		return nil, services.Wrap(services.ErrAccessDenied, "queue", "get", fmt.Sprintf("work item %d is outside tenant scope", id), nil)
	}
	return item, nil
}

// getByID fetches a work item without tenant scoping. Internal callers
// (workers, cascade manager) operate across tenants.
func (s *Store) getByID(ctx context.Context, id int64) (*workitem.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get work item: %w", err)
	}
	return item, nil
}

// Filter narrows List results. TenantID is mandatory; remaining fields are
// optional.
type Filter struct {
	TenantID    string
	ContainerID string
	Statuses    []workitem.Status
	Types       []workitem.Type
	Limit       int
	Offset      int
}

// List returns work items for a tenant ordered by creation time.
func (s *Store) List(ctx context.Context, filter Filter) ([]*workitem.Item, error) {
	if strings.TrimSpace(filter.TenantID) == "" {
		return nil, services.Wrap(services.ErrValidation, "queue", "list", "tenant_id is required", nil)
	}

	query := `SELECT ` + itemColumns + ` FROM work_items WHERE tenant_id = ?`
	args := []any{filter.TenantID}

	if filter.ContainerID != "" {
		query += ` AND container_id = ?`
		args = append(args, filter.ContainerID)
	}
	if len(filter.Statuses) > 0 {
		query += ` AND status IN (` + makePlaceholders(len(filter.Statuses)) + `)`
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	if len(filter.Types) > 0 {
		query += ` AND work_type IN (` + makePlaceholders(len(filter.Types)) + `)`
		for _, t := range filter.Types {
			args = append(args, string(t))
		}
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	var items []*workitem.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Children returns cascaded children of a parent item, optionally narrowed to
// one target type.
func (s *Store) Children(ctx context.Context, parentID int64, target workitem.Type) ([]*workitem.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM work_items WHERE parent_work_id = ?`
	args := []any{parentID}
	if target != "" {
		query += ` AND work_type = ?`
		args = append(args, string(target))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var items []*workitem.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

const itemColumns = "id, work_type, status, priority, container_id, tenant_id, payload, parent_work_id, claimed_by, claimed_at, last_heartbeat, result, error_message, attempt_count, cancel_requested, available_at, created_at, updated_at"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*workitem.Item, error) {
	var (
		id               int64
		workType         string
		statusStr        string
		priority         int
		containerID      string
		tenantID         string
		payload          sql.NullString
		parentWorkID     sql.NullInt64
		claimedBy        sql.NullString
		claimedAtRaw     sql.NullString
		lastHeartbeatRaw sql.NullString
		result           sql.NullString
		errorMessage     sql.NullString
		attemptCount     int
		cancelRequested  sql.NullInt64
		availableRaw     sql.NullString
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&workType,
		&statusStr,
		&priority,
		&containerID,
		&tenantID,
		&payload,
		&parentWorkID,
		&claimedBy,
		&claimedAtRaw,
		&lastHeartbeatRaw,
		&result,
		&errorMessage,
		&attemptCount,
		&cancelRequested,
		&availableRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	item := &workitem.Item{
		ID:           id,
		Type:         workitem.Type(workType),
		Status:       workitem.Status(statusStr),
		Priority:     priority,
		ContainerID:  containerID,
		TenantID:     tenantID,
		ClaimedBy:    claimedBy.String,
		ErrorMessage: errorMessage.String,
		AttemptCount: attemptCount,
	}
	if payload.Valid {
		item.Payload = json.RawMessage(payload.String)
	}
	if parentWorkID.Valid {
		parent := parentWorkID.Int64
		item.ParentWorkID = &parent
	}
	if result.Valid && result.String != "" {
		item.Result = json.RawMessage(result.String)
	}
	if cancelRequested.Valid {
		item.CancelRequested = cancelRequested.Int64 != 0
	}

	if claimedAtRaw.Valid {
		if claimedAt, err := parseTimeString(claimedAtRaw.String); err == nil {
			item.ClaimedAt = &claimedAt
		}
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			item.LastHeartbeat = &heartbeat
		}
	}
	if availableRaw.Valid {
		if available, err := parseTimeString(availableRaw.String); err == nil {
			item.AvailableAt = available
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
