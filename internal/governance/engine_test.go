package governance_test

import (
	"context"
	"errors"
	"testing"

	"loom/internal/governance"
	"loom/internal/services"
	"loom/internal/substrate"
	"loom/internal/testsupport"
)

func submitCreate(t *testing.T, engine *governance.Engine, contents ...string) *governance.Proposal {
	t.Helper()
	var ops []governance.OperationDraft
	for _, content := range contents {
		ops = append(ops, governance.OperationDraft{Type: governance.OpCreateEntity, Content: content})
	}
	proposal, err := engine.Submit(context.Background(), governance.SubmitRequest{
		Kind:        governance.KindExtraction,
		Origin:      governance.OriginAgent,
		TenantID:    "tenant-a",
		ContainerID: "container-1",
		Provenance:  []string{"work-1"},
		Ops:         ops,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return proposal
}

func TestSubmitProposesValidBatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	engine, _ := testsupport.NewGovernance(t, cfg)

	proposal := submitCreate(t, engine, "Revenue grew 10%")
	if proposal.Status != governance.StatusProposed {
		t.Fatalf("status = %s, want proposed", proposal.Status)
	}
	if proposal.Report == nil {
		t.Fatal("missing validator report")
	}
	if proposal.Report.Confidence <= 0 || proposal.Report.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", proposal.Report.Confidence)
	}
	if proposal.Report.BlastRadius != governance.BlastLocal {
		t.Fatalf("blast radius = %s", proposal.Report.BlastRadius)
	}
	if proposal.Report.Impact.EntitiesCreated != 1 {
		t.Fatalf("impact = %+v", proposal.Report.Impact)
	}
}

func TestSubmitRejectsEmptyContent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	engine, _ := testsupport.NewGovernance(t, cfg)

	proposal := submitCreate(t, engine, "")
	if proposal.Status != governance.StatusRejected {
		t.Fatalf("status = %s, want rejected", proposal.Status)
	}
	if len(proposal.Report.HardViolations) == 0 {
		t.Fatal("expected a hard violation for empty content")
	}
}

func TestSubmitStructuralValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	engine, _ := testsupport.NewGovernance(t, cfg)
	ctx := context.Background()

	forward := 1
	cases := []struct {
		name string
		req  governance.SubmitRequest
	}{
		{"no ops", governance.SubmitRequest{
			Kind: governance.KindEdit, Origin: governance.OriginHuman,
			TenantID: "tenant-a", ContainerID: "container-1",
		}},
		{"unknown kind", governance.SubmitRequest{
			Kind: "patch", Origin: governance.OriginHuman,
			TenantID: "tenant-a", ContainerID: "container-1",
			Ops: []governance.OperationDraft{{Type: governance.OpCreateEntity, Content: "x"}},
		}},
		{"forward dependency", governance.SubmitRequest{
			Kind: governance.KindExtraction, Origin: governance.OriginAgent,
			TenantID: "tenant-a", ContainerID: "container-1",
			Ops: []governance.OperationDraft{
				{Type: governance.OpUpdateEntity, TargetOp: &forward, Content: "x"},
				{Type: governance.OpCreateEntity, Content: "y"},
			},
		}},
		{"update without target", governance.SubmitRequest{
			Kind: governance.KindEdit, Origin: governance.OriginHuman,
			TenantID: "tenant-a", ContainerID: "container-1",
			Ops: []governance.OperationDraft{{Type: governance.OpUpdateEntity, Content: "x"}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := engine.Submit(ctx, tc.req); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestReviewApproveExecutesAtomically(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	engine, entities := testsupport.NewGovernance(t, cfg)
	ctx := context.Background()

	zero := 0
	proposal, err := engine.Submit(ctx, governance.SubmitRequest{
		Kind: governance.KindExtraction, Origin: governance.OriginAgent,
		TenantID: "tenant-a", ContainerID: "container-1",
		Ops: []governance.OperationDraft{
			{Type: governance.OpCreateEntity, Content: "Q3 revenue"},
			{Type: governance.OpCreateEntity, Content: "Q3 report"},
			{Type: governance.OpCreateRelationship, TargetOp: &zero, RelatedRef: "", RelatedOp: intPtr(1), Kind: "derived_from"},
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	result, err := engine.Review(ctx, governance.ReviewRequest{
		ProposalID: proposal.ID, TenantID: "tenant-a", Decision: governance.DecisionApprove,
	})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if result.Status != governance.StatusApproved || !result.Executed {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.Log) != 3 {
		t.Fatalf("log has %d entries, want 3", len(result.Log))
	}
	for _, entry := range result.Log {
		if entry.Outcome != governance.OutcomeSuccess {
			t.Fatalf("entry %d outcome = %s", entry.Position, entry.Outcome)
		}
	}

	entity, err := entities.Get(ctx, "tenant-a", result.Log[0].EntityID)
	if err != nil {
		t.Fatalf("Get created entity: %v", err)
	}
	if entity.Content != "Q3 revenue" || entity.State != substrate.EntityAccepted {
		t.Fatalf("unexpected entity: %+v", entity)
	}
	rels, err := entities.RelationshipsForEntity(ctx, "tenant-a", entity.ID)
	if err != nil {
		t.Fatalf("RelationshipsForEntity: %v", err)
	}
	if len(rels) != 1 || rels[0].Kind != "derived_from" {
		t.Fatalf("unexpected relationships: %+v", rels)
	}
}

func TestReviewFailureRollsBackEverything(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	engine, entities := testsupport.NewGovernance(t, cfg)
	ctx := context.Background()

	proposal, err := engine.Submit(ctx, governance.SubmitRequest{
		Kind: governance.KindExtraction, Origin: governance.OriginAgent,
		TenantID: "tenant-a", ContainerID: "container-1",
		Ops: []governance.OperationDraft{
			{Type: governance.OpCreateEntity, Content: "entity A"},
			{Type: governance.OpUpdateEntity, TargetRef: "no-such-entity", Content: "entity B"},
			{Type: governance.OpCreateEntity, Content: "entity C"},
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	result, err := engine.Review(ctx, governance.ReviewRequest{
		ProposalID: proposal.ID, TenantID: "tenant-a", Decision: governance.DecisionApprove,
	})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if result.Status != governance.StatusRejected || result.Executed {
		t.Fatalf("unexpected result: %+v", result)
	}
	wantOutcomes := []governance.Outcome{governance.OutcomeSuccess, governance.OutcomeFailure, governance.OutcomeSkipped}
	if len(result.Log) != len(wantOutcomes) {
		t.Fatalf("log has %d entries, want %d", len(result.Log), len(wantOutcomes))
	}
	for i, want := range wantOutcomes {
		if result.Log[i].Outcome != want {
			t.Fatalf("log[%d] = %s, want %s", i, result.Log[i].Outcome, want)
		}
	}

	// Zero entities from the batch are visible after rollback.
	active, err := entities.ActiveInScope(ctx, "tenant-a", "container-1")
	if err != nil {
		t.Fatalf("ActiveInScope: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("rollback leaked %d entities", len(active))
	}

	// The execution log survives on the stored proposal for diagnosis.
	stored, err := engine.Describe(ctx, "tenant-a", proposal.ID)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if stored.Status != governance.StatusRejected {
		t.Fatalf("stored status = %s", stored.Status)
	}
	if stored.Ops[1].Outcome != governance.OutcomeFailure || stored.Ops[1].Detail == "" {
		t.Fatalf("failing op not recorded: %+v", stored.Ops[1])
	}
}

func TestReviewPerOpRejectionExcludesDependents(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	engine, entities := testsupport.NewGovernance(t, cfg)
	ctx := context.Background()

	zero := 0
	proposal, err := engine.Submit(ctx, governance.SubmitRequest{
		Kind: governance.KindExtraction, Origin: governance.OriginAgent,
		TenantID: "tenant-a", ContainerID: "container-1",
		Ops: []governance.OperationDraft{
			{Type: governance.OpCreateEntity, Content: "rejected base"},
			{Type: governance.OpUpdateEntity, TargetOp: &zero, Content: "depends on rejected"},
			{Type: governance.OpCreateEntity, Content: "independent"},
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	result, err := engine.Review(ctx, governance.ReviewRequest{
		ProposalID: proposal.ID, TenantID: "tenant-a", Decision: governance.DecisionApprove,
		PerOpDecisions: map[int]governance.Decision{0: governance.DecisionReject},
	})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if result.Status != governance.StatusApproved {
		t.Fatalf("status = %s", result.Status)
	}
	wantOutcomes := []governance.Outcome{governance.OutcomeRejected, governance.OutcomeRejected, governance.OutcomeSuccess}
	for i, want := range wantOutcomes {
		if result.Log[i].Outcome != want {
			t.Fatalf("log[%d] = %s, want %s", i, result.Log[i].Outcome, want)
		}
	}

	active, err := entities.ActiveInScope(ctx, "tenant-a", "container-1")
	if err != nil {
		t.Fatalf("ActiveInScope: %v", err)
	}
	if len(active) != 1 || active[0].Content != "independent" {
		t.Fatalf("unexpected entities after partial acceptance: %+v", active)
	}
}

func TestReviewedProposalIsImmutable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	engine, _ := testsupport.NewGovernance(t, cfg)
	ctx := context.Background()

	proposal := submitCreate(t, engine, "one-shot")
	if _, err := engine.Review(ctx, governance.ReviewRequest{
		ProposalID: proposal.ID, TenantID: "tenant-a", Decision: governance.DecisionApprove,
	}); err != nil {
		t.Fatalf("Review: %v", err)
	}
	_, err := engine.Review(ctx, governance.ReviewRequest{
		ProposalID: proposal.ID, TenantID: "tenant-a", Decision: governance.DecisionReject,
	})
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestReviewTenantIsolation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	engine, _ := testsupport.NewGovernance(t, cfg)

	proposal := submitCreate(t, engine, "private")
	_, err := engine.Review(context.Background(), governance.ReviewRequest{
		ProposalID: proposal.ID, TenantID: "tenant-b", Decision: governance.DecisionApprove,
	})
	if !errors.Is(err, services.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
}

func intPtr(v int) *int { return &v }
