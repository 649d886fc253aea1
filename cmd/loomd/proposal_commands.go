package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/governance"
	"loom/internal/ipc"
)

func newProposalCommand(ctx *commandContext) *cobra.Command {
	proposalCmd := &cobra.Command{
		Use:   "proposal",
		Short: "Submit and review change proposals",
	}

	proposalCmd.AddCommand(newProposalSubmitCommand(ctx))
	proposalCmd.AddCommand(newProposalShowCommand(ctx))
	proposalCmd.AddCommand(newProposalReviewCommand(ctx, "approve", "Approve a proposal and execute its operations", governance.DecisionApprove))
	proposalCmd.AddCommand(newProposalReviewCommand(ctx, "reject", "Reject a proposal", governance.DecisionReject))

	return proposalCmd
}

func newProposalSubmitCommand(ctx *commandContext) *cobra.Command {
	var kind string
	var origin string
	var tenantID string
	var containerID string
	var provenance []string
	var confidence float64
	var opsFile string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a proposal for validation",
		Long:  "Submit a proposal for validation. Operations are a JSON array read from --ops-file, or from stdin when the flag is omitted or set to \"-\".",
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := readOperations(cmd, opsFile)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ProposalSubmit(ipc.ProposalSubmitRequest{
					Kind:           kind,
					Origin:         origin,
					TenantID:       tenantID,
					ContainerID:    containerID,
					Provenance:     provenance,
					Ops:            ops,
					ConfidenceHint: confidence,
				})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Proposal)
				}
				renderProposal(cmd, resp.Proposal)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(governance.KindExtraction), "Proposal kind")
	cmd.Flags().StringVar(&origin, "origin", string(governance.OriginHuman), "Proposal origin")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant scope")
	cmd.Flags().StringVar(&containerID, "container", "", "Container the proposal targets")
	cmd.Flags().StringSliceVar(&provenance, "provenance", nil, "Source reference (repeatable)")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "Confidence hint from the proposer")
	cmd.Flags().StringVar(&opsFile, "ops-file", "", "Path to a JSON file with the operations array")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of formatted output")
	return cmd
}

func readOperations(cmd *cobra.Command, opsFile string) ([]governance.OperationDraft, error) {
	var raw []byte
	var err error
	if path := strings.TrimSpace(opsFile); path != "" && path != "-" {
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read operations file: %w", err)
		}
	} else {
		raw, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read operations: %w", err)
		}
	}
	var ops []governance.OperationDraft
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, fmt.Errorf("parse operations: %w", err)
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("at least one operation is required")
	}
	return ops, nil
}

func newProposalShowCommand(ctx *commandContext) *cobra.Command {
	var tenantID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <proposalID>",
		Short: "Show a proposal with its validator verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ProposalDescribe(ipc.ProposalDescribeRequest{TenantID: tenantID, ID: args[0]})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Proposal)
				}
				renderProposal(cmd, resp.Proposal)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant scope")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of formatted output")
	return cmd
}

func newProposalReviewCommand(ctx *commandContext, use, short string, decision governance.Decision) *cobra.Command {
	var tenantID string
	var opDecisions []string

	cmd := &cobra.Command{
		Use:   use + " <proposalID>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			perOp, err := parseOpDecisions(opDecisions)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ProposalReview(ipc.ProposalReviewRequest{
					ProposalID:     args[0],
					TenantID:       tenantID,
					Decision:       string(decision),
					PerOpDecisions: perOp,
				})
				if err != nil {
					return err
				}
				renderExecutionResult(cmd, resp.Result)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant scope")
	cmd.Flags().StringSliceVar(&opDecisions, "op", nil, "Per-operation override as position=approve|reject (repeatable)")
	return cmd
}

// parseOpDecisions parses "position=decision" pairs from repeated --op flags.
func parseOpDecisions(pairs []string) (map[int]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	decisions := make(map[int]string, len(pairs))
	for _, pair := range pairs {
		pos, decision, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --op value %q (expected position=approve|reject)", pair)
		}
		index, err := strconv.Atoi(strings.TrimSpace(pos))
		if err != nil {
			return nil, fmt.Errorf("invalid operation position %q", pos)
		}
		decision = strings.ToLower(strings.TrimSpace(decision))
		if decision != "approve" && decision != "reject" {
			return nil, fmt.Errorf("invalid decision %q (expected approve or reject)", decision)
		}
		decisions[index] = decision
	}
	return decisions, nil
}

func renderProposal(cmd *cobra.Command, proposal ipc.ProposalView) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	for _, line := range renderSectionHeader("Proposal "+proposal.ID, colorize) {
		fmt.Fprintln(stdout, line)
	}
	fmt.Fprintln(stdout, renderStatusLine("Kind", statusInfo, proposal.Kind, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Origin", statusInfo, proposal.Origin, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Status", proposalStatusKind(proposal.Status), proposal.Status, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Confidence", statusInfo, fmt.Sprintf("%.2f", proposal.Confidence), colorize))
	if proposal.BlastRadius != "" {
		fmt.Fprintln(stdout, renderStatusLine("Blast radius", statusInfo, proposal.BlastRadius, colorize))
	}
	for _, warning := range proposal.Warnings {
		fmt.Fprintln(stdout, renderStatusLine("Warning", statusWarn, warning, colorize))
	}
	for _, merge := range proposal.SuggestedMerges {
		fmt.Fprintln(stdout, renderStatusLine("Merge", statusWarn,
			fmt.Sprintf("op %d matches entity %s (score %.2f, %s)", merge.OpIndex, merge.ExistingEntityID, merge.Score, merge.Disposition), colorize))
	}

	if len(proposal.Operations) == 0 {
		return
	}
	fmt.Fprintln(stdout)
	rows := make([][]string, 0, len(proposal.Operations))
	for _, op := range proposal.Operations {
		outcome := op.Outcome
		if outcome == "" {
			outcome = "-"
		}
		entity := op.ResultEntityID
		if entity == "" {
			entity = "-"
		}
		rows = append(rows, []string{
			strconv.Itoa(op.Position),
			op.Type,
			outcome,
			entity,
		})
	}
	table := renderTable(
		[]string{"Op", "Type", "Outcome", "Entity"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
	)
	fmt.Fprint(stdout, table)
}

func proposalStatusKind(status string) statusKind {
	switch status {
	case string(governance.StatusApproved):
		return statusOK
	case string(governance.StatusRejected):
		return statusError
	case string(governance.StatusUnderReview), string(governance.StatusMerged):
		return statusWarn
	default:
		return statusInfo
	}
}

func renderExecutionResult(cmd *cobra.Command, result ipc.ExecutionView) {
	stdout := cmd.OutOrStdout()
	if result.Executed {
		fmt.Fprintf(stdout, "Proposal %s executed (status %s)\n", result.ProposalID, result.Status)
	} else {
		fmt.Fprintf(stdout, "Proposal %s is now %s\n", result.ProposalID, result.Status)
	}
	for _, entry := range result.Log {
		line := fmt.Sprintf("  op %d %s: %s", entry.Position, entry.Type, entry.Outcome)
		if entry.EntityID != "" {
			line += " -> " + entry.EntityID
		}
		if entry.Detail != "" {
			line += " (" + entry.Detail + ")"
		}
		fmt.Fprintln(stdout, line)
	}
}
