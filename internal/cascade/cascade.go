// Package cascade turns stage completions into follow-on work. Rules are
// declarative and immutable after startup: when a source stage completes and
// its result satisfies the rule's predicate, a child item for the target
// stage is enqueued with the parent's lineage and a summary of its result.
package cascade

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/queue"
	"loom/internal/services"
	"loom/internal/workitem"
)

// Rule links a source stage to its follow-on stage. A rule without a target
// marks a terminal stage.
type Rule struct {
	Source          workitem.Type
	Target          workitem.Type
	WhenField       string
	WhenGreaterThan float64
	Delay           time.Duration
}

// fires evaluates the rule's predicate over a stage result.
func (r Rule) fires(result workitem.Result) bool {
	if r.Target == "" {
		return false
	}
	value, ok := result.Float(r.WhenField)
	return ok && value > r.WhenGreaterThan
}

// Manager owns the rule table and drives the cascading transition on the
// queue store.
type Manager struct {
	store  *queue.Store
	rules  map[workitem.Type]Rule
	logger *slog.Logger
}

// NewManager loads rules from config, rejecting rules that reference stages
// missing from the registry.
func NewManager(store *queue.Store, registry *workitem.Registry, rules []config.CascadeRule, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		store:  store,
		rules:  make(map[workitem.Type]Rule, len(rules)),
		logger: logging.NewComponentLogger(logger, "cascade"),
	}
	for _, rule := range rules {
		source := workitem.Type(rule.Source)
		target := workitem.Type(rule.Target)
		if !registry.Known(source) {
			return nil, services.Wrap(services.ErrConfiguration, "cascade", "load rules",
				fmt.Sprintf("rule source %q is not a registered stage", rule.Source), nil)
		}
		if target != "" && !registry.Known(target) {
			return nil, services.Wrap(services.ErrConfiguration, "cascade", "load rules",
				fmt.Sprintf("rule target %q is not a registered stage", rule.Target), nil)
		}
		if _, dup := m.rules[source]; dup {
			return nil, services.Wrap(services.ErrConfiguration, "cascade", "load rules",
				fmt.Sprintf("stage %q has more than one rule", rule.Source), nil)
		}
		m.rules[source] = Rule{
			Source:          source,
			Target:          target,
			WhenField:       rule.WhenField,
			WhenGreaterThan: rule.WhenGreaterThan,
			Delay:           time.Duration(rule.DelaySeconds) * time.Second,
		}
	}
	return m, nil
}

// Rule returns the rule for a source stage, if one exists.
func (m *Manager) Rule(source workitem.Type) (Rule, bool) {
	rule, ok := m.rules[source]
	return rule, ok
}

// Complete finishes a claimed item and triggers its cascade rule. When the
// rule fires, the source parks in the cascading state until the child is
// enqueued, then completes. A trigger failure is non-fatal: the source still
// completes with its result, and the cascade can be re-triggered manually.
func (m *Manager) Complete(ctx context.Context, item *workitem.Item, result json.RawMessage) error {
	rule, ok := m.rules[item.Type]
	decoded := workitem.Result{}
	if len(result) > 0 {
		// Predicate evaluation tolerates malformed results; the rule simply
		// does not fire.
		_ = json.Unmarshal(result, &decoded)
	}
	if !ok || !rule.fires(decoded) {
		return m.store.Complete(ctx, item.ID, result)
	}

	if err := m.store.BeginCascade(ctx, item.ID, result); err != nil {
		return err
	}
	if err := m.enqueueChild(ctx, item, rule, decoded); err != nil {
		m.logger.Warn("cascade trigger failed",
			logging.Int64(logging.FieldItemID, item.ID),
			logging.String(logging.FieldWorkType, string(rule.Target)),
			logging.Error(err))
	}
	return m.store.FinishCascade(ctx, item.ID)
}

// Retrigger re-runs the cascade for an already completed source, used after
// a trigger failure. The idempotency check makes it safe to call at any time.
func (m *Manager) Retrigger(ctx context.Context, tenantID string, id int64) error {
	item, err := m.store.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if item.Status != workitem.StatusCompleted {
		return services.Wrap(services.ErrConflict, "cascade", "retrigger",
			fmt.Sprintf("work item %d is not completed", id), nil)
	}
	rule, ok := m.rules[item.Type]
	if !ok || rule.Target == "" {
		return nil
	}
	decoded := item.DecodedResult()
	if !rule.fires(decoded) {
		return nil
	}
	return m.enqueueChild(ctx, item, rule, decoded)
}

// enqueueChild creates the follow-on item exactly once per source. A prior
// child with the same parent and target means an earlier attempt already
// succeeded, so the call is a no-op.
func (m *Manager) enqueueChild(ctx context.Context, item *workitem.Item, rule Rule, result workitem.Result) error {
	existing, err := m.store.Children(ctx, item.ID, rule.Target)
	if err != nil {
		return fmt.Errorf("check existing children: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"cascade_source": workitem.CascadeSource{
			WorkID: item.ID,
			Type:   item.Type,
			Result: result,
		},
	})
	if err != nil {
		return fmt.Errorf("encode cascade payload: %w", err)
	}

	parentID := item.ID
	child, err := m.store.Enqueue(ctx, queue.EnqueueRequest{
		Type:         rule.Target,
		Payload:      payload,
		ContainerID:  item.ContainerID,
		TenantID:     item.TenantID,
		Priority:     item.Priority,
		ParentWorkID: &parentID,
		Delay:        rule.Delay,
	})
	if err != nil {
		return fmt.Errorf("enqueue cascade child: %w", err)
	}

	m.logger.Info("cascade fired",
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String(logging.FieldWorkType, string(rule.Target)),
		logging.Int64("child_id", child.ID))
	return nil
}
