package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/phrazzld/maintenance-orchestrator/internal/domain"
	"github.com/phrazzld/maintenance-orchestrator/internal/workflow"
	"github.com/spf13/cobra"
)

func newWorkflowsCmd(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "Inspect workflow executions",
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")

	render := func(cmd *cobra.Command, workflows []*domain.WorkflowExecution) error {
		if asJSON {
			if workflows == nil {
				workflows = []*domain.WorkflowExecution{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(workflows)
		}
		return writeWorkflowTable(cmd.OutOrStdout(), workflows)
	}

	var activeType string
	active := &cobra.Command{
		Use:   "active",
		Short: "List workflows that have not reached a terminal state, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStateMachine(cmd, func(m *workflow.StateMachine) error {
				workflows, err := m.GetActive(cmd.Context(), activeType)
				if err != nil {
					return err
				}
				return render(cmd, workflows)
			})
		},
	}
	active.Flags().StringVar(&activeType, "type", "", "only workflows of this type")

	var (
		entityID    string
		historyType string
		limit       int
	)
	history := &cobra.Command{
		Use:   "history",
		Short: "List the workflows of one user or entity, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStateMachine(cmd, func(m *workflow.StateMachine) error {
				workflows, err := m.GetHistory(cmd.Context(), entityID, historyType, limit)
				if err != nil {
					return err
				}
				return render(cmd, workflows)
			})
		},
	}
	history.Flags().StringVar(&entityID, "entity", "", "user or entity ID")
	history.Flags().StringVar(&historyType, "type", "", "only workflows of this type")
	history.Flags().IntVar(&limit, "limit", workflow.DefaultHistoryLimit, "maximum number of workflows")
	_ = history.MarkFlagRequired("entity")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print one workflow and its transition audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid workflow id %q", args[0])
			}
			return c.withStateMachine(cmd, func(m *workflow.StateMachine) error {
				wf, err := m.GetWorkflow(cmd.Context(), id)
				if err != nil {
					return err
				}
				trail, err := m.GetTransitions(cmd.Context(), id)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					*domain.WorkflowExecution
					Transitions []*domain.WorkflowTransition `json:"transitions"`
				}{wf, trail})
			})
		},
	}

	cmd.AddCommand(active, history, show)
	return cmd
}

// withStateMachine opens only the workflow store; inspection needs no
// providers, cache or queue.
func (c *cli) withStateMachine(cmd *cobra.Command, fn func(*workflow.StateMachine) error) error {
	cfg, log, err := c.load()
	if err != nil {
		return err
	}
	db, err := openDatabase(cmd.Context(), cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.db.Close() }()

	m, err := workflow.NewStateMachine(db.workflows, log)
	if err != nil {
		return err
	}
	return fn(m)
}

func writeWorkflowTable(out io.Writer, workflows []*domain.WorkflowExecution) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tENTITY\tSTATE\tPREVIOUS\tUPDATED")
	for _, wf := range workflows {
		previous := string(wf.PreviousState)
		if previous == "" {
			previous = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			wf.ID, wf.WorkflowType, wf.EntityID, wf.CurrentState, previous,
			wf.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}
