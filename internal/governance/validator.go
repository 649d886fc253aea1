package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/services"
	"loom/internal/substrate"
	"loom/internal/textutil"
)

// degradedConfidenceCap bounds confidence when validation could not consult
// the entity store; a low score keeps the proposal flagged for close review.
const degradedConfidenceCap = 0.2

// duplicateReportFloor is the similarity above which a match is worth
// surfacing as a duplicate candidate even when it stays below the merge
// threshold.
const duplicateReportFloor = 0.5

// Validator scores proposed operations against existing entities in scope.
type Validator struct {
	entities  *substrate.Store
	proposals *Store
	cfg       config.Governance
	logger    *slog.Logger
}

// NewValidator builds a validator over the entity and proposal stores. The
// proposal store may be nil, which disables the concurrent-conflict scan.
func NewValidator(entities *substrate.Store, proposals *Store, cfg config.Governance, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Validator{entities: entities, proposals: proposals, cfg: cfg, logger: logger}
}

// Validate produces the report for a proposal. It never returns an error: a
// store failure yields a degraded partial report with confidence capped low,
// and the proposal remains reviewable by a human.
func (v *Validator) Validate(ctx context.Context, p *Proposal, confidenceHint float64) *ValidatorReport {
	report := &ValidatorReport{BlastRadius: BlastLocal}

	existing, err := v.entities.ActiveInScope(ctx, p.TenantID, p.ContainerID)
	if err != nil {
		v.logger.Warn("validation degraded",
			logging.String(logging.FieldComponent, "governance"),
			logging.String(logging.FieldProposalID, p.ID),
			logging.Error(err))
		report.Partial = true
		report.Warnings = append(report.Warnings, "validation was partial: entity store unavailable")
	}

	completenessMisses := 0
	certaintySum := 0.0
	certaintyCount := 0

	for _, op := range p.Ops {
		v.countImpact(op, &report.Impact)

		switch op.Type {
		case OpCreateEntity, OpUpdateEntity:
			if op.Draft.Content == "" {
				completenessMisses++
				warning := fmt.Sprintf("operation %d: content is empty", op.Position)
				report.Warnings = append(report.Warnings, warning)
				report.HardViolations = append(report.HardViolations, warning)
				continue
			}
			if report.Partial {
				continue
			}
			best, bestScore := bestMatch(op.Draft.Content, existing)
			certaintySum += 2 * abs(bestScore-0.5)
			certaintyCount++
			if best == nil {
				continue
			}
			if bestScore >= duplicateReportFloor {
				report.DuplicateCandidates = append(report.DuplicateCandidates, SimilarityCandidate{
					OpIndex:          op.Position,
					ExistingEntityID: best.ID,
					Score:            bestScore,
				})
			}
			if op.Type == OpCreateEntity && bestScore >= v.cfg.MergeThreshold {
				disposition := MergeModified
				if textutil.Normalize(op.Draft.Content) == textutil.Normalize(best.Content) {
					disposition = MergeUnchanged
				}
				report.SuggestedMerges = append(report.SuggestedMerges, SuggestedMerge{
					OpIndex:          op.Position,
					ExistingEntityID: best.ID,
					Score:            bestScore,
					Disposition:      disposition,
				})
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("operation %d duplicates entity %s (score %.2f)", op.Position, best.ID, bestScore))
			}
		case OpDeleteEntity:
			if op.Draft.TargetRef == "" && op.Draft.TargetOp == nil {
				completenessMisses++
				warning := fmt.Sprintf("operation %d: delete target is empty", op.Position)
				report.Warnings = append(report.Warnings, warning)
				report.HardViolations = append(report.HardViolations, warning)
			}
		case OpCreateRelationship:
			if op.Draft.Kind == "" {
				completenessMisses++
				warning := fmt.Sprintf("operation %d: relationship kind is empty", op.Position)
				report.Warnings = append(report.Warnings, warning)
				report.HardViolations = append(report.HardViolations, warning)
			}
		}
	}

	if !report.Partial {
		v.classifyBlastRadius(ctx, p, report)
		v.warnConcurrentProposals(ctx, p, report)
	}

	completeness := 1.0
	if len(p.Ops) > 0 {
		completeness = 1.0 - float64(completenessMisses)/float64(len(p.Ops))
	}
	certainty := 1.0
	if certaintyCount > 0 {
		certainty = certaintySum / float64(certaintyCount)
	}
	trust := v.cfg.AgentOriginTrust
	if p.Origin == OriginHuman {
		trust = v.cfg.HumanOriginTrust
	}

	confidence := 0.4*completeness + 0.3*certainty + 0.3*trust
	if confidenceHint > 0 && confidenceHint <= 1 {
		confidence = (confidence + confidenceHint) / 2
	}
	if report.Partial && confidence > degradedConfidenceCap {
		confidence = degradedConfidenceCap
	}
	report.Confidence = clamp01(confidence)
	return report
}

// classifyBlastRadius resolves every referenced entity and widens the radius
// as targets cross containers. A cross-tenant target is a policy violation
// and rejects the proposal outright.
func (v *Validator) classifyBlastRadius(ctx context.Context, p *Proposal, report *ValidatorReport) {
	for _, op := range p.Ops {
		for _, ref := range []string{op.Draft.TargetRef, op.Draft.RelatedRef} {
			if ref == "" {
				continue
			}
			entity, err := v.entities.Get(ctx, p.TenantID, ref)
			if errors.Is(err, services.ErrAccessDenied) {
				report.BlastRadius = BlastGlobal
				report.HardViolations = append(report.HardViolations,
					fmt.Sprintf("operation %d targets entity %s outside the tenant", op.Position, ref))
				continue
			}
			if errors.Is(err, services.ErrNotFound) {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("operation %d targets missing entity %s", op.Position, ref))
				continue
			}
			if err != nil {
				report.Partial = true
				report.Warnings = append(report.Warnings, "validation was partial: entity store unavailable")
				return
			}
			if entity.ContainerID != p.ContainerID && report.BlastRadius == BlastLocal {
				report.BlastRadius = BlastScoped
			}
		}
	}
}

func (v *Validator) warnConcurrentProposals(ctx context.Context, p *Proposal, report *ValidatorReport) {
	var targets []string
	for _, op := range p.Ops {
		if op.Draft.TargetRef != "" {
			targets = append(targets, op.Draft.TargetRef)
		}
	}
	if v.proposals == nil {
		return
	}
	conflicting, err := v.proposals.openProposalsTouching(ctx, p.TenantID, targets, p.ID)
	if err != nil {
		v.logger.Warn("conflict scan failed",
			logging.String(logging.FieldComponent, "governance"),
			logging.String(logging.FieldProposalID, p.ID),
			logging.Error(err))
		return
	}
	for _, id := range conflicting {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("proposal %s also touches one of these entities", id))
	}
}

func (v *Validator) countImpact(op *Operation, impact *ImpactSummary) {
	switch op.Type {
	case OpCreateEntity:
		impact.EntitiesCreated++
	case OpUpdateEntity:
		impact.EntitiesUpdated++
	case OpDeleteEntity:
		impact.EntitiesDeleted++
	case OpCreateRelationship:
		impact.RelationshipsCreated++
	}
}

func bestMatch(content string, existing []*substrate.Entity) (*substrate.Entity, float64) {
	var (
		best      *substrate.Entity
		bestScore float64
	)
	for _, entity := range existing {
		score := textutil.NormalizedRatio(content, entity.Content)
		if score > bestScore {
			best = entity
			bestScore = score
		}
	}
	return best, bestScore
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
