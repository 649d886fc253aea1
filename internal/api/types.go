package api

import (
	"time"

	"loom/internal/governance"
	"loom/internal/queue"
	"loom/internal/status"
)

// WorkStatus is the derived view of one work item returned to callers.
type WorkStatus struct {
	WorkID             int64    `json:"work_id"`
	WorkType           string   `json:"work_type"`
	Status             string   `json:"status"`
	PercentComplete    float64  `json:"percent_complete"`
	EstimatedRemaining float64  `json:"estimated_remaining_seconds"`
	EntitiesCreated    int      `json:"entities_created"`
	Relationships      int      `json:"relationships_created"`
	StageIndex         int      `json:"stage_index"`
	StageCount         int      `json:"stage_count"`
	ParentWorkID       *int64   `json:"parent_work_id,omitempty"`
	ChildWorkIDs       []int64  `json:"child_work_ids,omitempty"`
	Error              *WorkError `json:"error,omitempty"`
	CancelRequested    bool     `json:"cancel_requested,omitempty"`
	Attempts           int      `json:"attempts"`
}

// WorkError carries a failure classification and recovery hint.
type WorkError struct {
	Classification string `json:"classification"`
	Message        string `json:"message"`
	RecoveryHint   string `json:"recovery_hint"`
}

// fromStatusView flattens the derived view into the wire shape.
func fromStatusView(view status.View) WorkStatus {
	dto := WorkStatus{
		WorkID:             view.WorkID,
		WorkType:           string(view.Type),
		Status:             string(view.Status),
		PercentComplete:    view.PercentComplete,
		EstimatedRemaining: view.EstimatedRemaining.Seconds(),
		EntitiesCreated:    view.Impact.EntitiesCreated,
		Relationships:      view.Impact.RelationshipsCreated,
		StageIndex:         view.Cascade.StageIndex,
		StageCount:         view.Cascade.StageCount,
		ParentWorkID:       view.Cascade.ParentWorkID,
		ChildWorkIDs:       view.Cascade.ChildWorkIDs,
		CancelRequested:    view.CancelRequested,
		Attempts:           view.Attempts,
	}
	if view.Error != nil {
		dto.Error = &WorkError{
			Classification: string(view.Error.Classification),
			Message:        view.Error.Message,
			RecoveryHint:   view.Error.RecoveryHint,
		}
	}
	return dto
}

// QueueHealth is the aggregate queue summary.
type QueueHealth struct {
	Total             int     `json:"total"`
	Pending           int     `json:"pending"`
	Processing        int     `json:"processing"`
	Failed            int     `json:"failed"`
	Completed         int     `json:"completed"`
	ActiveCascades    int     `json:"active_cascades"`
	AvgProcessingTime float64 `json:"avg_processing_time_seconds"`
}

func fromHealthSummary(summary queue.HealthSummary) QueueHealth {
	return QueueHealth{
		Total:             summary.Total,
		Pending:           summary.Pending,
		Processing:        summary.Processing,
		Failed:            summary.Failed,
		Completed:         summary.Completed,
		ActiveCascades:    summary.ActiveCascades,
		AvgProcessingTime: summary.AvgProcessingTime.Seconds(),
	}
}

// ProposalView is the wire shape of a proposal and its validator verdict.
type ProposalView struct {
	ID                  string            `json:"id"`
	Kind                string            `json:"kind"`
	Origin              string            `json:"origin"`
	Status              string            `json:"status"`
	Confidence          float64           `json:"confidence"`
	BlastRadius         string            `json:"blast_radius,omitempty"`
	Warnings            []string          `json:"warnings,omitempty"`
	SuggestedMerges     []SuggestedMerge  `json:"suggested_merges,omitempty"`
	IsExecuted          bool              `json:"is_executed"`
	Operations          []OperationView   `json:"operations"`
	CreatedAt           time.Time         `json:"created_at"`
}

// SuggestedMerge reports a near-duplicate create detected at validation.
type SuggestedMerge struct {
	OpIndex          int     `json:"op_index"`
	ExistingEntityID string  `json:"existing_entity_id"`
	Score            float64 `json:"score"`
	Disposition      string  `json:"disposition"`
}

// OperationView is one operation with its recorded execution outcome.
type OperationView struct {
	Position       int    `json:"position"`
	Type           string `json:"type"`
	Executed       bool   `json:"executed"`
	ResultEntityID string `json:"result_entity_id,omitempty"`
	Outcome        string `json:"outcome,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

func fromProposal(p *governance.Proposal) ProposalView {
	view := ProposalView{
		ID:         p.ID,
		Kind:       string(p.Kind),
		Origin:     string(p.Origin),
		Status:     string(p.Status),
		IsExecuted: p.IsExecuted,
		CreatedAt:  p.CreatedAt,
	}
	if p.Report != nil {
		view.Confidence = p.Report.Confidence
		view.BlastRadius = string(p.Report.BlastRadius)
		view.Warnings = p.Report.Warnings
		for _, merge := range p.Report.SuggestedMerges {
			view.SuggestedMerges = append(view.SuggestedMerges, SuggestedMerge{
				OpIndex:          merge.OpIndex,
				ExistingEntityID: merge.ExistingEntityID,
				Score:            merge.Score,
				Disposition:      string(merge.Disposition),
			})
		}
	}
	for _, op := range p.Ops {
		view.Operations = append(view.Operations, OperationView{
			Position:       op.Position,
			Type:           string(op.Type),
			Executed:       op.Executed,
			ResultEntityID: op.ResultEntityID,
			Outcome:        string(op.Outcome),
			Detail:         op.Detail,
		})
	}
	return view
}

// ExecutionView reports what a review did, including the per-op log.
type ExecutionView struct {
	ProposalID string         `json:"proposal_id"`
	Status     string         `json:"status"`
	Executed   bool           `json:"executed"`
	Log        []LogEntryView `json:"log,omitempty"`
}

// LogEntryView is one line of an execution log.
type LogEntryView struct {
	Position int    `json:"position"`
	Type     string `json:"type"`
	Outcome  string `json:"outcome"`
	Detail   string `json:"detail,omitempty"`
	EntityID string `json:"entity_id,omitempty"`
}

func fromExecutionResult(result *governance.ExecutionResult) ExecutionView {
	view := ExecutionView{
		ProposalID: result.ProposalID,
		Status:     string(result.Status),
		Executed:   result.Executed,
	}
	for _, entry := range result.Log {
		view.Log = append(view.Log, LogEntryView{
			Position: entry.Position,
			Type:     string(entry.Type),
			Outcome:  string(entry.Outcome),
			Detail:   entry.Detail,
			EntityID: entry.EntityID,
		})
	}
	return view
}
