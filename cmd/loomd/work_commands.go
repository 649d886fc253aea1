package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/ipc"
)

func newWorkCommand(ctx *commandContext) *cobra.Command {
	workCmd := &cobra.Command{
		Use:   "work",
		Short: "Submit and inspect work items",
	}

	workCmd.AddCommand(newWorkSubmitCommand(ctx))
	workCmd.AddCommand(newWorkShowCommand(ctx))

	return workCmd
}

func newWorkSubmitCommand(ctx *commandContext) *cobra.Command {
	var workType string
	var tenantID string
	var containerID string
	var priority int

	cmd := &cobra.Command{
		Use:   "submit [payload]",
		Short: "Enqueue a new work item",
		Long:  "Enqueue a new work item. The payload is a JSON document passed as an argument, or on stdin when the argument is omitted or is \"-\".",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd, args)
			if err != nil {
				return err
			}
			if strings.TrimSpace(workType) == "" {
				return fmt.Errorf("--type is required")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkSubmit(ipc.WorkSubmitRequest{
					Type:        workType,
					Payload:     payload,
					TenantID:    tenantID,
					ContainerID: containerID,
					Priority:    priority,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s work item %d (status %s)\n",
					resp.Work.WorkType, resp.Work.WorkID, resp.Work.Status)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&workType, "type", "t", "", "Work type (required)")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant scope")
	cmd.Flags().StringVar(&containerID, "container", "", "Container the work belongs to")
	cmd.Flags().IntVar(&priority, "priority", 0, "Scheduling priority (higher runs first)")
	return cmd
}

func readPayload(cmd *cobra.Command, args []string) (json.RawMessage, error) {
	var raw []byte
	if len(args) == 1 && args[0] != "-" {
		raw = []byte(args[0])
	} else {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		raw = data
	}
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func newWorkShowCommand(ctx *commandContext) *cobra.Command {
	var tenantID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <itemID>",
		Short: "Show the derived status of a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkDescribe(ipc.WorkDescribeRequest{TenantID: tenantID, ID: id})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Work)
				}
				renderWorkStatus(cmd, resp.Work)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant scope")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of formatted output")
	return cmd
}

func renderWorkStatus(cmd *cobra.Command, work ipc.WorkStatus) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	for _, line := range renderSectionHeader(fmt.Sprintf("Work Item %d", work.WorkID), colorize) {
		fmt.Fprintln(stdout, line)
	}
	fmt.Fprintln(stdout, renderStatusLine("Type", statusInfo, work.WorkType, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Status", workStatusKind(work.Status), work.Status, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Progress", statusInfo, fmt.Sprintf("%.0f%%", work.PercentComplete), colorize))
	if work.StageCount > 0 {
		fmt.Fprintln(stdout, renderStatusLine("Stage", statusInfo, fmt.Sprintf("%d of %d", work.StageIndex+1, work.StageCount), colorize))
	}
	if work.EstimatedRemaining > 0 {
		fmt.Fprintln(stdout, renderStatusLine("Remaining", statusInfo, fmt.Sprintf("~%.0fs", work.EstimatedRemaining), colorize))
	}
	if work.EntitiesCreated > 0 || work.Relationships > 0 {
		fmt.Fprintln(stdout, renderStatusLine("Impact", statusInfo,
			fmt.Sprintf("%d entities, %d relationships", work.EntitiesCreated, work.Relationships), colorize))
	}
	if work.ParentWorkID != nil {
		fmt.Fprintln(stdout, renderStatusLine("Parent", statusInfo, strconv.FormatInt(*work.ParentWorkID, 10), colorize))
	}
	if len(work.ChildWorkIDs) > 0 {
		children := make([]string, 0, len(work.ChildWorkIDs))
		for _, id := range work.ChildWorkIDs {
			children = append(children, strconv.FormatInt(id, 10))
		}
		fmt.Fprintln(stdout, renderStatusLine("Children", statusInfo, strings.Join(children, ", "), colorize))
	}
	fmt.Fprintln(stdout, renderStatusLine("Attempts", statusInfo, strconv.Itoa(work.Attempts), colorize))
	if work.CancelRequested {
		fmt.Fprintln(stdout, renderStatusLine("Cancel", statusWarn, "Cancellation requested", colorize))
	}
	if work.Error != nil {
		fmt.Fprintln(stdout, renderStatusLine("Error", statusError,
			fmt.Sprintf("[%s] %s", work.Error.Classification, work.Error.Message), colorize))
		if work.Error.RecoveryHint != "" {
			fmt.Fprintln(stdout, renderStatusLine("Hint", statusInfo, work.Error.RecoveryHint, colorize))
		}
	}
}

func workStatusKind(status string) statusKind {
	switch status {
	case "completed":
		return statusOK
	case "failed":
		return statusError
	case "cascading":
		return statusWarn
	default:
		return statusInfo
	}
}
