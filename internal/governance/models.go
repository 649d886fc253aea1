package governance

import "time"

// Kind classifies what a proposal intends.
type Kind string

const (
	KindExtraction Kind = "extraction"
	KindEdit       Kind = "edit"
	KindMerge      Kind = "merge"
	KindAttachment Kind = "attachment"
)

// Origin records who authored a proposal.
type Origin string

const (
	OriginAgent Origin = "agent"
	OriginHuman Origin = "human"
)

// Status is a proposal's lifecycle state. Approved-and-executed and rejected
// proposals are immutable.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusProposed    Status = "proposed"
	StatusUnderReview Status = "under_review"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusSuperseded  Status = "superseded"
	StatusMerged      Status = "merged"
)

// OpType enumerates the mutations a proposal can carry.
type OpType string

const (
	OpCreateEntity       OpType = "create_entity"
	OpUpdateEntity       OpType = "update_entity"
	OpDeleteEntity       OpType = "delete_entity"
	OpCreateRelationship OpType = "create_relationship"
)

// OperationDraft is one intended mutation as submitted. Targets are either
// existing entity ids or indexes of earlier operations in the same proposal
// whose created entity this operation consumes.
type OperationDraft struct {
	Type OpType `json:"type"`
	// TargetRef names an existing entity (update/delete target, relationship
	// source). TargetOp instead points at an earlier operation's output.
	TargetRef string `json:"target_ref,omitempty"`
	TargetOp  *int   `json:"target_op,omitempty"`
	// RelatedRef/RelatedOp name the relationship's far endpoint.
	RelatedRef string `json:"related_ref,omitempty"`
	RelatedOp  *int   `json:"related_op,omitempty"`
	Content    string `json:"content,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

// Outcome is the recorded result of one operation during execution.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeRejected Outcome = "rejected"
)

// Operation is a persisted proposal operation with its execution record.
type Operation struct {
	ID             string
	Position       int
	Type           OpType
	Draft          OperationDraft
	Executed       bool
	ResultEntityID string
	Outcome        Outcome
	Detail         string
}

// SimilarityCandidate pairs a proposed operation with an existing entity it
// resembles. Computed during validation, persisted only inside the report.
type SimilarityCandidate struct {
	OpIndex          int     `json:"op_index"`
	ExistingEntityID string  `json:"existing_entity_id"`
	Score            float64 `json:"score"`
}

// MergeDisposition says what a merge candidate would do to the matched entity.
type MergeDisposition string

const (
	MergeModified  MergeDisposition = "modified"
	MergeUnchanged MergeDisposition = "unchanged"
)

// SuggestedMerge reclassifies a create as an update of a near-duplicate.
type SuggestedMerge struct {
	OpIndex          int              `json:"op_index"`
	ExistingEntityID string           `json:"existing_entity_id"`
	Score            float64          `json:"score"`
	Disposition      MergeDisposition `json:"disposition"`
}

// BlastRadius classifies how widely a proposal's effects reach.
type BlastRadius string

const (
	BlastLocal  BlastRadius = "local"
	BlastScoped BlastRadius = "scoped"
	BlastGlobal BlastRadius = "global"
)

// ImpactSummary counts what execution would touch.
type ImpactSummary struct {
	EntitiesCreated      int `json:"entities_created"`
	EntitiesUpdated      int `json:"entities_updated"`
	EntitiesDeleted      int `json:"entities_deleted"`
	RelationshipsCreated int `json:"relationships_created"`
}

// ValidatorReport is the validator's verdict on a proposal. Partial reports
// come from degraded validation (store unavailable) and cap confidence low;
// the proposal stays reviewable by a human regardless.
type ValidatorReport struct {
	Confidence          float64               `json:"confidence"`
	DuplicateCandidates []SimilarityCandidate `json:"duplicate_candidates,omitempty"`
	SuggestedMerges     []SuggestedMerge      `json:"suggested_merges,omitempty"`
	Warnings            []string              `json:"warnings,omitempty"`
	HardViolations      []string              `json:"hard_violations,omitempty"`
	BlastRadius         BlastRadius           `json:"blast_radius"`
	Impact              ImpactSummary         `json:"impact"`
	Partial             bool                  `json:"partial,omitempty"`
}

// Proposal is a batch of intended mutations awaiting validation and approval.
type Proposal struct {
	ID          string
	Kind        Kind
	Origin      Origin
	Status      Status
	TenantID    string
	ContainerID string
	Provenance  []string
	Ops         []*Operation
	Report      *ValidatorReport
	IsExecuted  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LogEntry is one line of a proposal's execution log.
type LogEntry struct {
	Position int     `json:"position"`
	Type     OpType  `json:"type"`
	Outcome  Outcome `json:"outcome"`
	Detail   string  `json:"detail,omitempty"`
	EntityID string  `json:"entity_id,omitempty"`
}

// ExecutionResult reports what a review did.
type ExecutionResult struct {
	ProposalID string
	Status     Status
	Executed   bool
	Log        []LogEntry
}
