package queue

import (
	"context"
	"fmt"
	"time"

	"loom/internal/services"
	"loom/internal/workitem"
)

// Claim atomically transfers up to limit items to the calling worker. Items
// are taken in priority order (highest first, then oldest). A pending item is
// claimable once its availability time has passed; a claimed, processing, or
// cascading item becomes claimable again once
// neither its heartbeat nor its claim timestamp has moved within staleAfter,
// which treats the previous owner as dead. Reclaiming a cascading row restarts
// its stage; the child-enqueue check keeps the eventual cascade idempotent.
//
// Each candidate is taken with one conditional UPDATE re-stating the
// claimability predicate, so two workers racing over the same row see exactly
// one win. Lost races are skipped, not retried; the next poll finds fresh
// candidates.
func (s *Store) Claim(ctx context.Context, workerID string, limit int, staleAfter time.Duration) ([]*workitem.Item, error) {
	if workerID == "" {
		return nil, fmt.Errorf("claim: worker id is required")
	}
	if limit <= 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	cutoff := now.Add(-staleAfter).Format(time.RFC3339Nano)

	// Overselect candidates to tolerate races with other claimers.
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id FROM work_items
         WHERE ((status = ? AND available_at <= ?)
            OR (status IN (?, ?, ?) AND COALESCE(last_heartbeat, claimed_at) < ?))
         ORDER BY priority DESC, created_at, id
         LIMIT ?`,
		workitem.StatusPending,
		now.Format(time.RFC3339Nano),
		workitem.StatusClaimed,
		workitem.StatusProcessing,
		workitem.StatusCascading,
		cutoff,
		limit*2,
	)
	if err != nil {
		return nil, fmt.Errorf("select claim candidates: %w", err)
	}
	var candidates []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan claim candidate: %w", err)
		}
		candidates = append(candidates, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claim candidates: %w", err)
	}

	timestamp := now.Format(time.RFC3339Nano)
	claimed := make([]*workitem.Item, 0, limit)
	for _, id := range candidates {
		if len(claimed) >= limit {
			break
		}
		res, err := s.execWithRetry(
			ctx,
			`UPDATE work_items
             SET status = ?, claimed_by = ?, claimed_at = ?, last_heartbeat = NULL,
                 attempt_count = attempt_count + 1, error_message = NULL, result = NULL,
                 updated_at = ?
             WHERE id = ?
               AND ((status = ? AND available_at <= ?)
                    OR (status IN (?, ?, ?) AND COALESCE(last_heartbeat, claimed_at) < ?))`,
			workitem.StatusClaimed,
			workerID,
			timestamp,
			timestamp,
			id,
			workitem.StatusPending,
			timestamp,
			workitem.StatusClaimed,
			workitem.StatusProcessing,
			workitem.StatusCascading,
			cutoff,
		)
		if err != nil {
			return claimed, fmt.Errorf("claim item %d: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return claimed, fmt.Errorf("claim rows affected: %w", err)
		}
		if affected == 0 {
			// Lost the race or the owner heartbeated; move on.
			continue
		}
		item, err := s.getByID(ctx, id)
		if err != nil {
			return claimed, err
		}
		if item != nil {
			s.appendAudit(ctx, id, "claimed", string(item.Type), workerID)
			claimed = append(claimed, item)
		}
	}
	return claimed, nil
}

// UpdateHeartbeat refreshes the liveness timestamp for an in-flight item. A
// zero-row update means the claim is gone (the item finished, failed, or was
// reclaimed), which the heartbeating worker needs to know about.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64, workerID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items SET last_heartbeat = ?, updated_at = ?
         WHERE id = ? AND claimed_by = ? AND status IN (?, ?, ?)`,
		now,
		now,
		id,
		workerID,
		workitem.StatusClaimed,
		workitem.StatusProcessing,
		workitem.StatusCascading,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return services.Wrap(services.ErrConflict, "queue", "heartbeat", fmt.Sprintf("work item %d is no longer held by %s", id, workerID), nil)
	}
	return nil
}
