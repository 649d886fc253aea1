package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"loom/internal/services"
	"loom/internal/workitem"
)

// MarkProcessing moves a claimed item into processing. Only the claiming
// worker advances an item, so the transition is guarded on both id and owner.
func (s *Store) MarkProcessing(ctx context.Context, id int64, workerID string) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items SET status = ?, updated_at = ?
         WHERE id = ? AND claimed_by = ? AND status = ?`,
		workitem.StatusProcessing,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		workerID,
		workitem.StatusClaimed,
	)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return services.Wrap(services.ErrConflict, "queue", "mark processing", fmt.Sprintf("work item %d is not claimed by %s", id, workerID), nil)
	}
	return nil
}

// Complete terminally finishes an item with its result. Completing an item
// that is not in an owned state is a conflict, reported as an error the
// caller logs rather than an exception that corrupts state.
func (s *Store) Complete(ctx context.Context, id int64, result json.RawMessage) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items
         SET status = ?, result = ?, error_message = NULL,
             claimed_by = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status IN (?, ?, ?)`,
		workitem.StatusCompleted,
		string(result),
		now,
		id,
		workitem.StatusClaimed,
		workitem.StatusProcessing,
		workitem.StatusCascading,
	)
	if err != nil {
		return fmt.Errorf("complete work item: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return services.Wrap(services.ErrConflict, "queue", "complete", fmt.Sprintf("work item %d is not in an owned state", id), nil)
	}
	s.appendAudit(ctx, id, "completed", "", "")
	return nil
}

// BeginCascade parks a finished item in the cascading state with its result
// recorded, holding it there until the follow-on child is enqueued.
func (s *Store) BeginCascade(ctx context.Context, id int64, result json.RawMessage) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items SET status = ?, result = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		workitem.StatusCascading,
		string(result),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		workitem.StatusClaimed,
		workitem.StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("begin cascade: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return services.Wrap(services.ErrConflict, "queue", "begin cascade", fmt.Sprintf("work item %d is not in an owned state", id), nil)
	}
	s.appendAudit(ctx, id, "cascading", "", "")
	return nil
}

// FinishCascade completes a cascading item, releasing its claim.
func (s *Store) FinishCascade(ctx context.Context, id int64) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items
         SET status = ?, claimed_by = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		workitem.StatusCompleted,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		workitem.StatusCascading,
	)
	if err != nil {
		return fmt.Errorf("finish cascade: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return services.Wrap(services.ErrConflict, "queue", "finish cascade", fmt.Sprintf("work item %d is not cascading", id), nil)
	}
	s.appendAudit(ctx, id, "completed", "", "")
	return nil
}

// Fail records a stage failure. Transient failures with remaining attempts
// requeue the item to pending; everything else lands in terminal failed with
// the message retained. The attempt count advances at claim time, so Fail
// only consults it. Returns whether the item was requeued.
func (s *Store) Fail(ctx context.Context, id int64, message string, transient bool, maxRetries int) (bool, error) {
	transientFlag := 0
	if transient {
		transientFlag = 1
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items
         SET status = CASE WHEN ?1 != 0 AND attempt_count < ?2 THEN ?3 ELSE ?4 END,
             error_message = CASE WHEN ?1 != 0 AND attempt_count < ?2 THEN NULL ELSE ?5 END,
             result = NULL,
             claimed_by = NULL, last_heartbeat = NULL, updated_at = ?6
         WHERE id = ?7 AND status IN (?8, ?9, ?10)`,
		transientFlag,
		maxRetries,
		workitem.StatusPending,
		workitem.StatusFailed,
		message,
		now,
		id,
		workitem.StatusClaimed,
		workitem.StatusProcessing,
		workitem.StatusCascading,
	)
	if err != nil {
		return false, fmt.Errorf("fail work item: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return false, services.Wrap(services.ErrConflict, "queue", "fail", fmt.Sprintf("work item %d is not in an owned state", id), nil)
	}

	item, err := s.getByID(ctx, id)
	if err != nil {
		return false, err
	}
	requeued := item != nil && item.Status == workitem.StatusPending
	if requeued {
		s.appendAudit(ctx, id, "requeued", message, "")
	} else {
		s.appendAudit(ctx, id, "failed", message, "")
	}
	return requeued, nil
}

// Retry moves a terminally failed item back to pending, clearing its error.
// Only failed items are eligible.
func (s *Store) Retry(ctx context.Context, tenantID string, id int64) error {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return err
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items
         SET status = ?, error_message = NULL, result = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		workitem.StatusPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		workitem.StatusFailed,
	)
	if err != nil {
		return fmt.Errorf("retry work item: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return services.Wrap(services.ErrConflict, "queue", "retry", fmt.Sprintf("work item %d is not failed", id), nil)
	}
	s.appendAudit(ctx, id, "retried", "", "")
	return nil
}

// RequestCancel flags an item for cooperative cancellation. Stage handlers
// check the flag and early-exit; there is no in-flight interruption.
func (s *Store) RequestCancel(ctx context.Context, tenantID string, id int64) error {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return err
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items SET cancel_requested = 1, updated_at = ?
         WHERE id = ? AND status NOT IN (?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		workitem.StatusCompleted,
		workitem.StatusFailed,
	)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return services.Wrap(services.ErrConflict, "queue", "request cancel", fmt.Sprintf("work item %d is already terminal", id), nil)
	}
	s.appendAudit(ctx, id, "cancel_requested", "", "")
	return nil
}
