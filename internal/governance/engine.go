package governance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/services"
	"loom/internal/substrate"
)

// Engine owns the proposal lifecycle: submission, validation, review, and
// atomic execution against the entity store.
type Engine struct {
	store     *Store
	entities  *substrate.Store
	validator *Validator
	cfg       config.Governance
	logger    *slog.Logger
}

// NewEngine wires the proposal store, entity store, and validator together.
func NewEngine(store *Store, entities *substrate.Store, cfg config.Governance, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "governance")
	return &Engine{
		store:     store,
		entities:  entities,
		validator: NewValidator(entities, store, cfg, logger),
		cfg:       cfg,
		logger:    logger,
	}
}

// SubmitRequest carries a batch of intended mutations.
type SubmitRequest struct {
	Kind           Kind
	Origin         Origin
	TenantID       string
	ContainerID    string
	Provenance     []string
	Ops            []OperationDraft
	ConfidenceHint float64
}

// Submit creates a draft proposal, validates it, and moves it to proposed or
// rejected. Structurally malformed requests fail with a validation error
// before any proposal exists; content-level problems reject the proposal and
// keep it on record with the report attached.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*Proposal, error) {
	if err := e.checkSubmit(req); err != nil {
		return nil, err
	}

	proposal := &Proposal{
		ID:          uuid.NewString(),
		Kind:        req.Kind,
		Origin:      req.Origin,
		Status:      StatusDraft,
		TenantID:    req.TenantID,
		ContainerID: req.ContainerID,
		Provenance:  req.Provenance,
	}
	for i, draft := range req.Ops {
		proposal.Ops = append(proposal.Ops, &Operation{
			ID:       uuid.NewString(),
			Position: i,
			Type:     draft.Type,
			Draft:    draft,
		})
	}
	if err := e.store.createProposal(ctx, proposal); err != nil {
		return nil, err
	}

	report := e.validator.Validate(ctx, proposal, req.ConfidenceHint)
	status := StatusProposed
	if len(report.HardViolations) > 0 {
		status = StatusRejected
	} else if e.cfg.AutoMerge && allUnchangedDuplicates(proposal, report) {
		// Every operation restates existing content verbatim. With auto-merge
		// enabled there is nothing to commit and nothing to review.
		status = StatusMerged
	}
	if err := e.store.setReport(ctx, proposal.ID, report, status); err != nil {
		return nil, err
	}
	proposal.Report = report
	proposal.Status = status

	e.logger.Info("proposal submitted",
		logging.String(logging.FieldProposalID, proposal.ID),
		logging.String(logging.FieldTenantID, proposal.TenantID),
		logging.String("status", string(status)),
		logging.Float64("confidence", report.Confidence),
		logging.Int("ops", len(proposal.Ops)))
	return proposal, nil
}

// allUnchangedDuplicates reports whether every operation is a create whose
// content matches an existing entity without material change.
func allUnchangedDuplicates(proposal *Proposal, report *ValidatorReport) bool {
	unchanged := make(map[int]bool, len(report.SuggestedMerges))
	for _, merge := range report.SuggestedMerges {
		if merge.Disposition == MergeUnchanged {
			unchanged[merge.OpIndex] = true
		}
	}
	for _, op := range proposal.Ops {
		if op.Type != OpCreateEntity || !unchanged[op.Position] {
			return false
		}
	}
	return true
}

func (e *Engine) checkSubmit(req SubmitRequest) error {
	fail := func(msg string) error {
		return services.Wrap(services.ErrValidation, "governance", "submit", msg, nil)
	}
	if len(req.Ops) == 0 {
		return fail("a proposal needs at least one operation")
	}
	switch req.Kind {
	case KindExtraction, KindEdit, KindMerge, KindAttachment:
	default:
		return fail(fmt.Sprintf("unknown proposal kind %q", req.Kind))
	}
	switch req.Origin {
	case OriginAgent, OriginHuman:
	default:
		return fail(fmt.Sprintf("unknown origin %q", req.Origin))
	}
	if strings.TrimSpace(req.TenantID) == "" {
		return fail("tenant id is required")
	}
	if strings.TrimSpace(req.ContainerID) == "" {
		return fail("container id is required")
	}
	for i, op := range req.Ops {
		switch op.Type {
		case OpCreateEntity, OpUpdateEntity, OpDeleteEntity, OpCreateRelationship:
		default:
			return fail(fmt.Sprintf("operation %d: unknown type %q", i, op.Type))
		}
		for _, dep := range []*int{op.TargetOp, op.RelatedOp} {
			if dep == nil {
				continue
			}
			if *dep < 0 || *dep >= i {
				return fail(fmt.Sprintf("operation %d: dependency %d must point at an earlier operation", i, *dep))
			}
			depType := req.Ops[*dep].Type
			if depType != OpCreateEntity && depType != OpUpdateEntity {
				return fail(fmt.Sprintf("operation %d: dependency %d produces no entity", i, *dep))
			}
		}
		if op.Type == OpUpdateEntity || op.Type == OpDeleteEntity {
			if op.TargetRef == "" && op.TargetOp == nil {
				return fail(fmt.Sprintf("operation %d: a target is required", i))
			}
		}
		if op.Type == OpCreateRelationship {
			if (op.TargetRef == "" && op.TargetOp == nil) || (op.RelatedRef == "" && op.RelatedOp == nil) {
				return fail(fmt.Sprintf("operation %d: both relationship endpoints are required", i))
			}
		}
	}
	return nil
}

// Describe returns a proposal with its operations and report.
func (e *Engine) Describe(ctx context.Context, tenantID, id string) (*Proposal, error) {
	return e.store.Get(ctx, tenantID, id)
}

// Decision is a reviewer's verdict on a proposal or a single operation.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ReviewRequest carries a reviewer's verdict. PerOpDecisions allows partial
// acceptance: an operation rejected there is excluded from execution, along
// with every later operation that depends on its output.
type ReviewRequest struct {
	ProposalID     string
	TenantID       string
	Decision       Decision
	PerOpDecisions map[int]Decision
}

// Review applies a verdict. Approval executes every non-excluded operation
// as one atomic unit: any single failure rolls back all entity effects,
// records failure and skipped outcomes in the execution log, and rejects the
// proposal with the log retained.
func (e *Engine) Review(ctx context.Context, req ReviewRequest) (*ExecutionResult, error) {
	proposal, err := e.store.Get(ctx, req.TenantID, req.ProposalID)
	if err != nil {
		return nil, err
	}
	switch proposal.Status {
	case StatusProposed, StatusUnderReview:
	default:
		return nil, services.Wrap(services.ErrConflict, "governance", "review",
			fmt.Sprintf("proposal %s is %s and no longer reviewable", proposal.ID, proposal.Status), nil)
	}

	if req.Decision == DecisionReject {
		if err := e.store.setStatus(ctx, proposal.ID, StatusRejected); err != nil {
			return nil, err
		}
		e.logger.Info("proposal rejected", logging.String(logging.FieldProposalID, proposal.ID))
		return &ExecutionResult{ProposalID: proposal.ID, Status: StatusRejected}, nil
	}
	if req.Decision != DecisionApprove {
		return nil, services.Wrap(services.ErrValidation, "governance", "review",
			fmt.Sprintf("unknown decision %q", req.Decision), nil)
	}

	excluded := excludedOps(proposal.Ops, req.PerOpDecisions)
	result, execErr := e.execute(ctx, proposal, excluded)
	if execErr != nil {
		return nil, execErr
	}

	e.logger.Info("proposal reviewed",
		logging.String(logging.FieldProposalID, proposal.ID),
		logging.String("status", string(result.Status)),
		logging.Bool("executed", result.Executed))
	return result, nil
}

// excludedOps closes the reviewer's per-op rejections over dependencies: an
// operation consuming a rejected operation's output is excluded too.
func excludedOps(ops []*Operation, decisions map[int]Decision) map[int]bool {
	excluded := make(map[int]bool)
	for pos, decision := range decisions {
		if decision == DecisionReject {
			excluded[pos] = true
		}
	}
	for _, op := range ops {
		if excluded[op.Position] {
			continue
		}
		for _, dep := range []*int{op.Draft.TargetOp, op.Draft.RelatedOp} {
			if dep != nil && excluded[*dep] {
				excluded[op.Position] = true
				break
			}
		}
	}
	return excluded
}

func (e *Engine) execute(ctx context.Context, proposal *Proposal, excluded map[int]bool) (*ExecutionResult, error) {
	tx, err := e.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin execution tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	log := make([]LogEntry, 0, len(proposal.Ops))
	created := make(map[int]string)
	failedAt := -1

	for _, op := range proposal.Ops {
		if failedAt >= 0 {
			log = append(log, LogEntry{Position: op.Position, Type: op.Type, Outcome: OutcomeSkipped})
			continue
		}
		if excluded[op.Position] {
			log = append(log, LogEntry{Position: op.Position, Type: op.Type, Outcome: OutcomeRejected, Detail: "rejected by reviewer"})
			continue
		}

		entityID, opErr := e.applyOp(ctx, tx, proposal, op, created)
		if opErr != nil {
			failedAt = op.Position
			log = append(log, LogEntry{Position: op.Position, Type: op.Type, Outcome: OutcomeFailure, Detail: opErr.Error()})
			continue
		}
		created[op.Position] = entityID
		log = append(log, LogEntry{Position: op.Position, Type: op.Type, Outcome: OutcomeSuccess, EntityID: entityID})
	}

	if failedAt >= 0 {
		// Roll back every entity effect, then persist the log and the
		// rejection so the reviewer can see which operation failed. Entity
		// ids from rolled-back creates no longer resolve, so drop them.
		_ = tx.Rollback()
		for i := range log {
			log[i].EntityID = ""
		}
		if err := e.persistLog(ctx, proposal, log, StatusRejected, false); err != nil {
			return nil, err
		}
		e.logger.Warn("proposal execution failed",
			logging.String(logging.FieldProposalID, proposal.ID),
			logging.Int("failed_op", failedAt))
		return &ExecutionResult{ProposalID: proposal.ID, Status: StatusRejected, Log: log}, nil
	}

	for _, entry := range log {
		op := proposal.Ops[entry.Position]
		executed := entry.Outcome == OutcomeSuccess
		if err := recordOutcome(ctx, tx, op.ID, executed, entry.EntityID, entry.Outcome, entry.Detail); err != nil {
			return nil, err
		}
	}
	if err := finalize(ctx, tx, proposal.ID, StatusApproved, true); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit execution: %w", err)
	}
	return &ExecutionResult{ProposalID: proposal.ID, Status: StatusApproved, Executed: true, Log: log}, nil
}

// persistLog records per-op outcomes and the final status outside the rolled
// back execution transaction.
func (e *Engine) persistLog(ctx context.Context, proposal *Proposal, log []LogEntry, status Status, executed bool) error {
	tx, err := e.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin log tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, entry := range log {
		op := proposal.Ops[entry.Position]
		if err := recordOutcome(ctx, tx, op.ID, false, "", entry.Outcome, entry.Detail); err != nil {
			return err
		}
	}
	if err := finalize(ctx, tx, proposal.ID, status, executed); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit log: %w", err)
	}
	return nil
}

func (e *Engine) applyOp(ctx context.Context, tx substrate.DBTX, proposal *Proposal, op *Operation, created map[int]string) (string, error) {
	resolve := func(ref string, dep *int) (string, error) {
		if dep != nil {
			id, ok := created[*dep]
			if !ok || id == "" {
				return "", fmt.Errorf("operation %d produced no entity", *dep)
			}
			return id, nil
		}
		if ref == "" {
			return "", fmt.Errorf("no target")
		}
		return ref, nil
	}

	switch op.Type {
	case OpCreateEntity:
		entity, err := e.entities.CreateEntity(ctx, tx, substrate.NewEntity{
			TenantID:    proposal.TenantID,
			ContainerID: proposal.ContainerID,
			Content:     op.Draft.Content,
		})
		if err != nil {
			return "", err
		}
		return entity.ID, nil
	case OpUpdateEntity:
		target, err := resolve(op.Draft.TargetRef, op.Draft.TargetOp)
		if err != nil {
			return "", err
		}
		entity, err := e.entities.Supersede(ctx, tx, proposal.TenantID, target, op.Draft.Content)
		if err != nil {
			return "", err
		}
		return entity.ID, nil
	case OpDeleteEntity:
		target, err := resolve(op.Draft.TargetRef, op.Draft.TargetOp)
		if err != nil {
			return "", err
		}
		return "", e.entities.MarkRejected(ctx, tx, proposal.TenantID, target)
	case OpCreateRelationship:
		source, err := resolve(op.Draft.TargetRef, op.Draft.TargetOp)
		if err != nil {
			return "", err
		}
		target, err := resolve(op.Draft.RelatedRef, op.Draft.RelatedOp)
		if err != nil {
			return "", err
		}
		rel, err := e.entities.CreateRelationship(ctx, tx, substrate.NewRelationship{
			TenantID:       proposal.TenantID,
			ContainerID:    proposal.ContainerID,
			SourceEntityID: source,
			TargetEntityID: target,
			Kind:           op.Draft.Kind,
		})
		if err != nil {
			return "", err
		}
		return rel.ID, nil
	}
	return "", fmt.Errorf("unknown operation type %q", op.Type)
}
