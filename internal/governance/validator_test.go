package governance_test

import (
	"context"
	"strings"
	"testing"

	"loom/internal/governance"
	"loom/internal/substrate"
	"loom/internal/testsupport"
)

func seedEntity(t *testing.T, entities *substrate.Store, content string) *substrate.Entity {
	t.Helper()
	return testsupport.CreateEntity(t, entities, content)
}

func TestValidatorSuggestsMergeAboveThreshold(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	engine, entities := testsupport.NewGovernance(t, cfg)

	existing := seedEntity(t, entities, "Revenue grew 10%")
	proposal := submitCreate(t, engine, "Revenue grew 12%")

	if len(proposal.Report.SuggestedMerges) != 1 {
		t.Fatalf("suggested merges = %+v", proposal.Report.SuggestedMerges)
	}
	merge := proposal.Report.SuggestedMerges[0]
	if merge.ExistingEntityID != existing.ID {
		t.Fatalf("merge references %s, want %s", merge.ExistingEntityID, existing.ID)
	}
	if merge.Score < cfg.Governance.MergeThreshold {
		t.Fatalf("merge score %v below threshold %v", merge.Score, cfg.Governance.MergeThreshold)
	}
	if merge.Disposition != governance.MergeModified {
		t.Fatalf("disposition = %s, want modified", merge.Disposition)
	}
	// Merge candidates surface for review; the proposal itself stays proposed.
	if proposal.Status != governance.StatusProposed {
		t.Fatalf("status = %s", proposal.Status)
	}
}

func TestValidatorUnchangedDisposition(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	engine, entities := testsupport.NewGovernance(t, cfg)

	seedEntity(t, entities, "Revenue grew 10%")
	proposal := submitCreate(t, engine, "REVENUE  GREW 10%")

	if len(proposal.Report.SuggestedMerges) != 1 {
		t.Fatalf("suggested merges = %+v", proposal.Report.SuggestedMerges)
	}
	if got := proposal.Report.SuggestedMerges[0].Disposition; got != governance.MergeUnchanged {
		t.Fatalf("disposition = %s, want unchanged", got)
	}
}

func TestAutoMergeShortCircuitsVerbatimDuplicates(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAutoMerge())
	engine, entities := testsupport.NewGovernance(t, cfg)

	seedEntity(t, entities, "Revenue grew 10%")
	duplicate := submitCreate(t, engine, "revenue grew 10%")
	if duplicate.Status != governance.StatusMerged {
		t.Fatalf("status = %s, want merged", duplicate.Status)
	}

	// Materially different content still goes to review.
	modified := submitCreate(t, engine, "Revenue grew 12%")
	if modified.Status != governance.StatusProposed {
		t.Fatalf("status = %s, want proposed", modified.Status)
	}
}

func TestValidatorBelowThresholdIsNew(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	engine, entities := testsupport.NewGovernance(t, cfg)

	seedEntity(t, entities, "Revenue grew 10%")
	proposal := submitCreate(t, engine, "Completely unrelated operational notes")

	if len(proposal.Report.SuggestedMerges) != 0 {
		t.Fatalf("unexpected merges: %+v", proposal.Report.SuggestedMerges)
	}
}

func TestValidatorThresholdBoundary(t *testing.T) {
	// The same content pair flips between new and merge candidate as the
	// threshold moves around its score.
	for _, threshold := range []float64{0.3, 0.95} {
		cfg := testsupport.NewConfig(t, testsupport.WithMergeThreshold(threshold))
		engine, entities := testsupport.NewGovernance(t, cfg)

		seedEntity(t, entities, "Revenue grew 10% in the third quarter")
		proposal := submitCreate(t, engine, "Revenue grew 11% in the final quarter")

		merged := len(proposal.Report.SuggestedMerges) > 0
		if threshold == 0.3 && !merged {
			t.Fatalf("threshold %v: expected merge candidate", threshold)
		}
		if threshold == 0.95 && merged {
			t.Fatalf("threshold %v: unexpected merge %+v", threshold, proposal.Report.SuggestedMerges)
		}
	}
}

func TestValidatorOriginTrust(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	engine, _ := testsupport.NewGovernance(t, cfg)
	ctx := context.Background()

	submit := func(origin governance.Origin) *governance.Proposal {
		proposal, err := engine.Submit(ctx, governance.SubmitRequest{
			Kind: governance.KindExtraction, Origin: origin,
			TenantID: "tenant-a", ContainerID: "container-1",
			Ops: []governance.OperationDraft{{Type: governance.OpCreateEntity, Content: "fresh content"}},
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		return proposal
	}

	agent := submit(governance.OriginAgent)
	human := submit(governance.OriginHuman)
	if human.Report.Confidence <= agent.Report.Confidence {
		t.Fatalf("human confidence %v not above agent %v",
			human.Report.Confidence, agent.Report.Confidence)
	}
}

func TestValidatorDegradesWhenStoreUnavailable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	engine, entities := testsupport.NewGovernance(t, cfg)

	// Closing the entity store makes the scope scan fail; submission must
	// still produce a reviewable proposal with a degraded report.
	entities.Close()
	proposal := submitCreate(t, engine, "submitted while degraded")

	if proposal.Status != governance.StatusProposed {
		t.Fatalf("status = %s, want proposed", proposal.Status)
	}
	if !proposal.Report.Partial {
		t.Fatal("report not marked partial")
	}
	if proposal.Report.Confidence > 0.2 {
		t.Fatalf("degraded confidence %v not capped", proposal.Report.Confidence)
	}
	if len(proposal.Report.Warnings) == 0 {
		t.Fatal("expected a partial-validation warning")
	}
}

func TestValidatorBlastRadius(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	engine, entities := testsupport.NewGovernance(t, cfg)
	ctx := context.Background()

	crossContainer, err := entities.CreateEntity(ctx, entities.DB(), substrate.NewEntity{
		TenantID: "tenant-a", ContainerID: "container-2", Content: "elsewhere",
	})
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	crossTenant, err := entities.CreateEntity(ctx, entities.DB(), substrate.NewEntity{
		TenantID: "tenant-b", ContainerID: "container-9", Content: "foreign",
	})
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	scoped, err := engine.Submit(ctx, governance.SubmitRequest{
		Kind: governance.KindEdit, Origin: governance.OriginHuman,
		TenantID: "tenant-a", ContainerID: "container-1",
		Ops: []governance.OperationDraft{
			{Type: governance.OpUpdateEntity, TargetRef: crossContainer.ID, Content: "revised"},
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if scoped.Report.BlastRadius != governance.BlastScoped {
		t.Fatalf("blast radius = %s, want scoped", scoped.Report.BlastRadius)
	}
	if scoped.Status != governance.StatusProposed {
		t.Fatalf("scoped proposal status = %s", scoped.Status)
	}

	global, err := engine.Submit(ctx, governance.SubmitRequest{
		Kind: governance.KindEdit, Origin: governance.OriginHuman,
		TenantID: "tenant-a", ContainerID: "container-1",
		Ops: []governance.OperationDraft{
			{Type: governance.OpUpdateEntity, TargetRef: crossTenant.ID, Content: "revised"},
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if global.Report.BlastRadius != governance.BlastGlobal {
		t.Fatalf("blast radius = %s, want global", global.Report.BlastRadius)
	}
	if global.Status != governance.StatusRejected {
		t.Fatalf("cross-tenant proposal status = %s, want rejected", global.Status)
	}
}

func TestValidatorWarnsConcurrentProposals(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	engine, entities := testsupport.NewGovernance(t, cfg)
	ctx := context.Background()

	target := seedEntity(t, entities, "contested")
	submitEdit := func() *governance.Proposal {
		proposal, err := engine.Submit(ctx, governance.SubmitRequest{
			Kind: governance.KindEdit, Origin: governance.OriginHuman,
			TenantID: "tenant-a", ContainerID: "container-1",
			Ops: []governance.OperationDraft{
				{Type: governance.OpUpdateEntity, TargetRef: target.ID, Content: "revision"},
			},
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		return proposal
	}

	first := submitEdit()
	second := submitEdit()
	if first.Status != governance.StatusProposed {
		t.Fatalf("first proposal status = %s", first.Status)
	}
	found := false
	for _, warning := range second.Report.Warnings {
		if strings.Contains(warning, first.ID) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a warning naming proposal %s, got %v", first.ID, second.Report.Warnings)
	}
}
