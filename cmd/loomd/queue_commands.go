package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"loom/internal/ipc"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the work queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))
	queueCmd.AddCommand(newQueueDBHealthCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var tenantID string
	var containerID string
	var listStatuses []string
	var listTypes []string
	var limit int
	var offset int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items with their derived status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkList(ipc.WorkListRequest{
					TenantID:    tenantID,
					ContainerID: containerID,
					Statuses:    listStatuses,
					Types:       listTypes,
					Limit:       limit,
					Offset:      offset,
				})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Items)
				}
				if len(resp.Items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				table := renderTable(
					[]string{"ID", "Type", "Status", "Progress", "Stage", "Attempts"},
					buildWorkListRows(resp.Items),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignRight},
				)
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant scope")
	cmd.Flags().StringVar(&containerID, "container", "", "Filter by container")
	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().StringSliceVarP(&listTypes, "type", "t", nil, "Filter by work type (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum items to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of items to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func buildWorkListRows(items []ipc.WorkStatus) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		stage := fmt.Sprintf("%d/%d", item.StageIndex+1, item.StageCount)
		if item.StageCount == 0 {
			stage = "-"
		}
		rows = append(rows, []string{
			strconv.FormatInt(item.WorkID, 10),
			item.WorkType,
			item.Status,
			fmt.Sprintf("%.0f%%", item.PercentComplete),
			stage,
			strconv.Itoa(item.Attempts),
		})
	}
	return rows
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show queue health summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueHealth()
				if err != nil {
					return err
				}
				health := resp.Health
				fmt.Fprintf(cmd.OutOrStdout(), "Total: %d\nPending: %d\nProcessing: %d\nFailed: %d\nCompleted: %d\nActive cascades: %d\nAvg processing time: %.1fs\n",
					health.Total,
					health.Pending,
					health.Processing,
					health.Failed,
					health.Completed,
					health.ActiveCascades,
					health.AvgProcessingTime,
				)
				return nil
			})
		},
	}
}

func newQueueDBHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "db-health",
		Short: "Show queue database diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.DatabaseHealth()
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				for _, line := range renderSectionHeader("Database Health", colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderStatusLine("Path", statusInfo, resp.DBPath, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Exists", boolKind(resp.DatabaseExists), fmt.Sprintf("%t", resp.DatabaseExists), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Readable", boolKind(resp.DatabaseReadable), fmt.Sprintf("%t", resp.DatabaseReadable), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Schema", boolKind(resp.TableExists), fmt.Sprintf("%t", resp.TableExists), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Integrity", boolKind(resp.IntegrityCheck), fmt.Sprintf("%t", resp.IntegrityCheck), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Items", statusInfo, strconv.Itoa(resp.TotalItems), colorize))
				if resp.Error != "" {
					fmt.Fprintln(stdout, renderStatusLine("Error", statusError, resp.Error, colorize))
				}
				return nil
			})
		},
	}
}

func boolKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "retry <itemID...>",
		Short: "Retry failed work items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseWorkIDs(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				out := cmd.OutOrStdout()
				for _, id := range ids {
					resp, err := client.WorkRetry(ipc.WorkRetryRequest{TenantID: tenantID, ID: id})
					if err != nil {
						fmt.Fprintf(out, "Item %d: %v\n", id, err)
						continue
					}
					if resp.Retried {
						fmt.Fprintf(out, "Item %d reset for retry\n", id)
					} else {
						fmt.Fprintf(out, "Item %d is not in failed state\n", id)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant scope")
	return cmd
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "cancel <itemID...>",
		Short: "Request cooperative cancellation of work items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseWorkIDs(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				out := cmd.OutOrStdout()
				for _, id := range ids {
					resp, err := client.WorkCancel(ipc.WorkCancelRequest{TenantID: tenantID, ID: id})
					if err != nil {
						fmt.Fprintf(out, "Item %d: %v\n", id, err)
						continue
					}
					if resp.Requested {
						fmt.Fprintf(out, "Item %d flagged for cancellation\n", id)
					} else {
						fmt.Fprintf(out, "Item %d cannot be cancelled\n", id)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant scope")
	return cmd
}

func parseWorkIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid item id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
