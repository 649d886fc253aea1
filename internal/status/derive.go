// Package status computes read-side progress views from persisted work item
// state. Nothing here is stored: derivation is a pure function of its
// inputs, so re-deriving from unchanged state always yields the same view.
package status

import (
	"strings"
	"time"

	"loom/internal/workitem"
)

// Classification buckets a failure for recovery guidance.
type Classification string

const (
	ClassTimeout             Classification = "timeout"
	ClassConstraintViolation Classification = "constraint_violation"
	ClassConnectionError     Classification = "connection_error"
	ClassProcessingFailed    Classification = "processing_failed"
)

// Impact counts substrate effects read from a stage result.
type Impact struct {
	EntitiesCreated      int
	RelationshipsCreated int
}

// CascadePosition locates an item within its pipeline family.
type CascadePosition struct {
	StageIndex   int
	StageCount   int
	ParentWorkID *int64
	ChildWorkIDs []int64
}

// ErrorView carries a failure's classification and a stage-specific hint.
type ErrorView struct {
	Classification Classification
	Message        string
	RecoveryHint   string
}

// View is the derived status of one work item.
type View struct {
	WorkID             int64
	Type               workitem.Type
	Status             workitem.Status
	PercentComplete    float64
	EstimatedRemaining time.Duration
	Impact             Impact
	Cascade            CascadePosition
	Error              *ErrorView
	CancelRequested    bool
	Attempts           int
}

// Family is the item's cascade lineage as persisted.
type Family struct {
	Parent   *workitem.Item
	Children []*workitem.Item
}

// statusWeight is the within-stage progress contribution of each status.
func statusWeight(s workitem.Status) float64 {
	switch s {
	case workitem.StatusPending:
		return 0.0
	case workitem.StatusClaimed:
		return 0.1
	case workitem.StatusProcessing:
		return 0.5
	case workitem.StatusCascading:
		return 0.9
	case workitem.StatusCompleted, workitem.StatusFailed:
		return 1.0
	default:
		return 0.0
	}
}

// Derive computes the status view. The clock is an explicit input so the
// function stays pure; averages come from historical per-stage completion
// times keyed by work type, in seconds.
func Derive(item *workitem.Item, family Family, sequence []workitem.Type, averages map[workitem.Type]float64, now time.Time) View {
	view := View{
		WorkID:          item.ID,
		Type:            item.Type,
		Status:          item.Status,
		CancelRequested: item.CancelRequested,
		Attempts:        item.AttemptCount,
	}

	stageIndex := 0
	for i, stage := range sequence {
		if stage == item.Type {
			stageIndex = i
			break
		}
	}
	view.Cascade = CascadePosition{
		StageIndex:   stageIndex,
		StageCount:   len(sequence),
		ParentWorkID: item.ParentWorkID,
	}
	for _, child := range family.Children {
		view.Cascade.ChildWorkIDs = append(view.Cascade.ChildWorkIDs, child.ID)
	}

	if count := len(sequence); count > 0 {
		view.PercentComplete = 100 * (float64(stageIndex) + statusWeight(item.Status)) / float64(count)
	}

	view.EstimatedRemaining = estimateRemaining(item, averages, now)

	result := item.DecodedResult()
	view.Impact = Impact{
		EntitiesCreated:      result.EntitiesCreated(),
		RelationshipsCreated: result.RelationshipsCreated(),
	}

	if item.Status == workitem.StatusFailed {
		class := classify(item.ErrorMessage)
		view.Error = &ErrorView{
			Classification: class,
			Message:        item.ErrorMessage,
			RecoveryHint:   recoveryHint(class, item.Type),
		}
	}
	return view
}

// estimateRemaining projects time left in the current stage from historical
// averages. Terminal items have nothing remaining; items without history
// report zero, meaning unknown.
func estimateRemaining(item *workitem.Item, averages map[workitem.Type]float64, now time.Time) time.Duration {
	if item.Status.IsTerminal() {
		return 0
	}
	avgSeconds, ok := averages[item.Type]
	if !ok || avgSeconds <= 0 {
		return 0
	}
	full := time.Duration(avgSeconds * float64(time.Second))
	if item.Status == workitem.StatusPending || item.ClaimedAt == nil {
		return full
	}
	elapsed := now.Sub(*item.ClaimedAt)
	if remaining := full - elapsed; remaining > 0 {
		return remaining
	}
	return 0
}

func classify(message string) Classification {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded") || strings.Contains(lower, "timed out"):
		return ClassTimeout
	case strings.Contains(lower, "constraint") || strings.Contains(lower, "unique") || strings.Contains(lower, "foreign key"):
		return ClassConstraintViolation
	case strings.Contains(lower, "connection") || strings.Contains(lower, "refused") || strings.Contains(lower, "unreachable") || strings.Contains(lower, "unavailable"):
		return ClassConnectionError
	default:
		return ClassProcessingFailed
	}
}

func recoveryHint(class Classification, stage workitem.Type) string {
	switch class {
	case ClassTimeout:
		return "retry the item; if the " + string(stage) + " stage times out repeatedly, raise stale_claim_timeout or reduce the input size"
	case ClassConstraintViolation:
		return "the " + string(stage) + " result conflicts with committed state; inspect the proposal log before retrying"
	case ClassConnectionError:
		return "a backing service was unreachable; retry once connectivity to the store is restored"
	default:
		return "inspect the error message and the " + string(stage) + " payload, then retry the item"
	}
}
