package api

import (
	"context"
	"encoding/json"
	"time"

	"loom/internal/queue"
	"loom/internal/status"
	"loom/internal/workitem"
)

// WorkStore abstracts queue persistence interactions needed by the work API.
type WorkStore interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (*workitem.Item, error)
	Get(ctx context.Context, tenantID string, id int64) (*workitem.Item, error)
	List(ctx context.Context, filter queue.Filter) ([]*workitem.Item, error)
	Children(ctx context.Context, parentID int64, target workitem.Type) ([]*workitem.Item, error)
	StageAverages(ctx context.Context) (map[workitem.Type]float64, error)
	Retry(ctx context.Context, tenantID string, id int64) error
	RequestCancel(ctx context.Context, tenantID string, id int64) error
	Health(ctx context.Context) (queue.HealthSummary, error)
}

// WorkService exposes work submission and derived-status queries as API DTOs.
type WorkService struct {
	store    WorkStore
	registry *workitem.Registry
	now      func() time.Time
}

// NewWorkService constructs a WorkService around the provided store and
// stage registry.
func NewWorkService(store WorkStore, registry *workitem.Registry) *WorkService {
	if store == nil || registry == nil {
		return nil
	}
	return &WorkService{store: store, registry: registry, now: time.Now}
}

// SubmitWorkRequest carries a new work item submission.
type SubmitWorkRequest struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	TenantID    string          `json:"tenant_id"`
	ContainerID string          `json:"container_id"`
	Priority    int             `json:"priority"`
}

// Submit validates and enqueues a work item, returning its derived view.
func (s *WorkService) Submit(ctx context.Context, req SubmitWorkRequest) (*WorkStatus, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	item, err := s.store.Enqueue(ctx, queue.EnqueueRequest{
		Type:        workitem.Type(req.Type),
		Payload:     req.Payload,
		TenantID:    req.TenantID,
		ContainerID: req.ContainerID,
		Priority:    req.Priority,
	})
	if err != nil {
		return nil, err
	}
	return s.describe(ctx, item)
}

// Describe returns the derived status view for one work item.
func (s *WorkService) Describe(ctx context.Context, tenantID string, id int64) (*WorkStatus, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	item, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return s.describe(ctx, item)
}

func (s *WorkService) describe(ctx context.Context, item *workitem.Item) (*WorkStatus, error) {
	family, err := s.family(ctx, item)
	if err != nil {
		return nil, err
	}
	averages, err := s.store.StageAverages(ctx)
	if err != nil {
		return nil, err
	}
	view := status.Derive(item, family, s.registry.Sequence(), averages, s.now())
	dto := fromStatusView(view)
	return &dto, nil
}

func (s *WorkService) family(ctx context.Context, item *workitem.Item) (status.Family, error) {
	var family status.Family
	if item.ParentWorkID != nil {
		parent, err := s.store.Get(ctx, item.TenantID, *item.ParentWorkID)
		if err == nil {
			family.Parent = parent
		}
	}
	children, err := s.store.Children(ctx, item.ID, "")
	if err != nil {
		return family, err
	}
	family.Children = children
	return family, nil
}

// List returns derived views for a tenant's work items, newest first within
// the store's ordering, honoring status and type filters plus pagination.
func (s *WorkService) List(ctx context.Context, filter queue.Filter) ([]WorkStatus, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	items, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	averages, err := s.store.StageAverages(ctx)
	if err != nil {
		return nil, err
	}
	sequence := s.registry.Sequence()
	now := s.now()
	views := make([]WorkStatus, 0, len(items))
	for _, item := range items {
		family, err := s.family(ctx, item)
		if err != nil {
			return nil, err
		}
		views = append(views, fromStatusView(status.Derive(item, family, sequence, averages, now)))
	}
	return views, nil
}

// Retry requeues a failed work item.
func (s *WorkService) Retry(ctx context.Context, tenantID string, id int64) error {
	if s == nil || s.store == nil {
		return nil
	}
	return s.store.Retry(ctx, tenantID, id)
}

// Cancel flags a work item for cooperative cancellation.
func (s *WorkService) Cancel(ctx context.Context, tenantID string, id int64) error {
	if s == nil || s.store == nil {
		return nil
	}
	return s.store.RequestCancel(ctx, tenantID, id)
}

// Health returns the aggregate queue summary.
func (s *WorkService) Health(ctx context.Context) (QueueHealth, error) {
	if s == nil || s.store == nil {
		return QueueHealth{}, nil
	}
	summary, err := s.store.Health(ctx)
	if err != nil {
		return QueueHealth{}, err
	}
	return fromHealthSummary(summary), nil
}
