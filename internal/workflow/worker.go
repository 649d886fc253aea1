package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"loom/internal/logging"
	"loom/internal/services"
	"loom/internal/workitem"
)

func newWorkerID() string {
	return "worker-" + strings.Split(uuid.NewString(), "-")[0]
}

func (m *Manager) newClaimBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.pollInterval
	b.MaxInterval = m.errorMaxInterval
	b.MaxElapsedTime = 0
	return b
}

// runWorker polls the claim call until shutdown. Store errors pace the loop
// with exponential backoff; an idle queue waits one poll interval.
func (m *Manager) runWorker(ctx context.Context, workerID string) {
	defer m.wg.Done()
	logger := m.logger.With(logging.String(logging.FieldWorkerID, workerID))
	claimBackoff := m.newClaimBackoff()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		items, err := m.store.Claim(ctx, workerID, m.claimBatch, m.staleAfter)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			wait := claimBackoff.NextBackOff()
			logger.Warn("claim failed",
				logging.Error(err),
				logging.Duration("retry_in", wait),
				logging.String(logging.FieldErrorHint, "check queue database access"))
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}
		claimBackoff.Reset()

		if len(items) == 0 {
			if !sleepCtx(ctx, m.pollInterval) {
				return
			}
			continue
		}
		for _, item := range items {
			if ctx.Err() != nil {
				return
			}
			m.processItem(ctx, logger, workerID, item)
		}
	}
}

func (m *Manager) processItem(ctx context.Context, logger *slog.Logger, workerID string, item *workitem.Item) {
	ctx = services.WithItemID(ctx, item.ID)
	ctx = services.WithStage(ctx, string(item.Type))
	ctx = services.WithWorkerID(ctx, workerID)
	itemLogger := logger.With(
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String(logging.FieldWorkType, string(item.Type)),
		logging.String(logging.FieldTenantID, item.TenantID),
	)

	if item.CancelRequested {
		m.failItem(ctx, itemLogger, item, fmt.Errorf("cancellation requested before processing"), false)
		return
	}
	handler, ok := m.handlers[item.Type]
	if !ok {
		m.failItem(ctx, itemLogger, item, fmt.Errorf("no handler registered for stage %q", item.Type), false)
		return
	}

	if err := m.store.MarkProcessing(ctx, item.ID, workerID); err != nil {
		// Another worker reclaimed the item between claim and dispatch.
		itemLogger.Warn("item no longer owned", logging.Error(err))
		return
	}

	// The heartbeat loop keeps the claim alive for long stages and cancels
	// processing when the claim is lost to reclamation.
	procCtx, cancelProc := context.WithCancel(ctx)
	heartbeatDone := make(chan struct{})
	go m.heartbeatLoop(procCtx, cancelProc, itemLogger, workerID, item.ID, heartbeatDone)

	started := time.Now()
	result, err := handler.Process(procCtx, item)
	cancelProc()
	<-heartbeatDone

	if err != nil {
		transient := services.IsRetryable(err) && !errors.Is(err, context.Canceled)
		m.failItem(ctx, itemLogger, item, err, transient)
		return
	}

	if cascadeErr := m.cascades.Complete(ctx, item, result); cascadeErr != nil {
		itemLogger.Error("completion failed", logging.Error(cascadeErr))
		return
	}
	itemLogger.Info("item completed",
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "item_completed"))
}

func (m *Manager) failItem(ctx context.Context, logger *slog.Logger, item *workitem.Item, cause error, transient bool) {
	requeued, err := m.store.Fail(ctx, item.ID, cause.Error(), transient, m.maxRetries)
	if err != nil {
		logger.Error("failure transition failed", logging.Error(err))
		return
	}
	if requeued {
		logger.Warn("item requeued after transient failure",
			logging.Error(cause),
			logging.Int("attempt", item.AttemptCount),
			logging.String(logging.FieldEventType, "item_requeued"))
		return
	}
	logger.Error("item failed",
		logging.Error(cause),
		logging.Int("attempt", item.AttemptCount),
		logging.String(logging.FieldEventType, "item_failed"))
}

// heartbeatLoop refreshes the claim until processing ends. A heartbeat
// conflict means the claim was reclaimed; processing is cancelled so the
// stage stops early instead of double-committing.
func (m *Manager) heartbeatLoop(ctx context.Context, cancelProc context.CancelFunc, logger *slog.Logger, workerID string, itemID int64, done chan<- struct{}) {
	defer close(done)
	if m.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := m.store.UpdateHeartbeat(ctx, itemID, workerID)
			if err == nil {
				continue
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, services.ErrConflict) {
				logger.Warn("claim lost during processing",
					logging.String(logging.FieldEventType, "claim_lost"))
				cancelProc()
				return
			}
			logger.Warn("heartbeat update failed", logging.Error(err))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
