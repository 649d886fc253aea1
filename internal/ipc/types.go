package ipc

import (
	"encoding/json"

	"loom/internal/api"
	"loom/internal/governance"
)

// StartRequest triggers daemon workflow startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops daemon workflow.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon/workflow status information.
type StatusResponse struct {
	Running     bool           `json:"running"`
	Workers     int            `json:"workers"`
	Handlers    int            `json:"handlers"`
	QueueStats  map[string]int `json:"queue_stats"`
	QueueDBPath string         `json:"queue_db_path"`
	LockPath    string         `json:"lock_path"`
	PID         int            `json:"pid"`
}

// WorkStatus mirrors the API work DTO for IPC callers.
type WorkStatus = api.WorkStatus

// ProposalView mirrors the API proposal DTO for IPC callers.
type ProposalView = api.ProposalView

// ExecutionView mirrors the API execution DTO for IPC callers.
type ExecutionView = api.ExecutionView

// WorkSubmitRequest enqueues a new work item.
type WorkSubmitRequest struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	TenantID    string          `json:"tenant_id"`
	ContainerID string          `json:"container_id"`
	Priority    int             `json:"priority"`
}

// WorkSubmitResponse returns the derived view of the new item.
type WorkSubmitResponse struct {
	Work WorkStatus `json:"work"`
}

// WorkDescribeRequest fetches a single work item's derived status.
type WorkDescribeRequest struct {
	TenantID string `json:"tenant_id"`
	ID       int64  `json:"id"`
}

// WorkDescribeResponse contains the derived view.
type WorkDescribeResponse struct {
	Work WorkStatus `json:"work"`
}

// WorkListRequest filters work listing.
type WorkListRequest struct {
	TenantID    string   `json:"tenant_id"`
	ContainerID string   `json:"container_id"`
	Statuses    []string `json:"statuses"`
	Types       []string `json:"types"`
	Limit       int      `json:"limit"`
	Offset      int      `json:"offset"`
}

// WorkListResponse contains derived views.
type WorkListResponse struct {
	Items []WorkStatus `json:"items"`
}

// WorkRetryRequest requeues a failed item.
type WorkRetryRequest struct {
	TenantID string `json:"tenant_id"`
	ID       int64  `json:"id"`
}

// WorkRetryResponse acknowledges the retry.
type WorkRetryResponse struct {
	Retried bool `json:"retried"`
}

// WorkCancelRequest flags an item for cooperative cancellation.
type WorkCancelRequest struct {
	TenantID string `json:"tenant_id"`
	ID       int64  `json:"id"`
}

// WorkCancelResponse acknowledges the cancellation request.
type WorkCancelResponse struct {
	Requested bool `json:"requested"`
}

// QueueHealthRequest fetches aggregate diagnostics.
type QueueHealthRequest struct{}

// QueueHealthResponse reports queue health information.
type QueueHealthResponse struct {
	Health api.QueueHealth `json:"health"`
}

// DatabaseHealthRequest fetches detailed database diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse reports database health information.
type DatabaseHealthResponse struct {
	DBPath           string `json:"db_path"`
	DatabaseExists   bool   `json:"database_exists"`
	DatabaseReadable bool   `json:"database_readable"`
	TableExists      bool   `json:"table_exists"`
	IntegrityCheck   bool   `json:"integrity_check"`
	TotalItems       int    `json:"total_items"`
	Error            string `json:"error"`
}

// ProposalSubmitRequest submits a proposal for validation.
type ProposalSubmitRequest struct {
	Kind           string                      `json:"kind"`
	Origin         string                      `json:"origin"`
	TenantID       string                      `json:"tenant_id"`
	ContainerID    string                      `json:"container_id"`
	Provenance     []string                    `json:"provenance,omitempty"`
	Ops            []governance.OperationDraft `json:"ops"`
	ConfidenceHint float64                     `json:"confidence_hint,omitempty"`
}

// ProposalSubmitResponse returns the proposal with its validator verdict.
type ProposalSubmitResponse struct {
	Proposal ProposalView `json:"proposal"`
}

// ProposalDescribeRequest fetches a proposal by id.
type ProposalDescribeRequest struct {
	TenantID string `json:"tenant_id"`
	ID       string `json:"id"`
}

// ProposalDescribeResponse contains the proposal view.
type ProposalDescribeResponse struct {
	Proposal ProposalView `json:"proposal"`
}

// ProposalReviewRequest applies a reviewer decision. PerOpDecisions keys are
// operation positions; values are "approve" or "reject".
type ProposalReviewRequest struct {
	ProposalID     string         `json:"proposal_id"`
	TenantID       string         `json:"tenant_id"`
	Decision       string         `json:"decision"`
	PerOpDecisions map[int]string `json:"per_op_decisions,omitempty"`
}

// ProposalReviewResponse reports what the review did.
type ProposalReviewResponse struct {
	Result ExecutionView `json:"result"`
}

// LogTailRequest fetches log lines based on offset and follow semantics.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}
