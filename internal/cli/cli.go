package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/postpilot/approvalflow/internal/log"
	internal_storage "github.com/postpilot/approvalflow/internal/storage"
	"github.com/postpilot/approvalflow/pkg/models"
	"github.com/postpilot/approvalflow/pkg/service"
)

// noopDispatcher satisfies service.Dispatcher for one-shot CLI invocations,
// where there is no long-lived process to drain an async queue.
type noopDispatcher struct{}

func (noopDispatcher) QueueApprovalNotifications(models.Assignment, models.TransitionEvent) {}

func SetupCLI(rootCmd *cobra.Command) {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows for an owner",
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(cmd)
			defer store.Close()
			ownerID, _ := cmd.Flags().GetString("owner")
			svc := service.NewWorkflowService(store, log.GetLogger())
			workflows, err := svc.ListWorkflows(ownerID)
			if err != nil {
				fail("failed to list workflows", err)
			}
			if len(workflows) == 0 {
				fmt.Fprintf(os.Stdout, "No workflows found.\n")
				return
			}
			for _, wf := range workflows {
				fmt.Fprintf(os.Stdout, "- ID: %s, Name: %s, Scope: %s, Active: %v, Steps: %d\n",
					wf.ID, wf.Name, wf.Scope, wf.Active, len(wf.Steps))
			}
		},
	}
	listCmd.Flags().String("owner", "", "Owner actor ID")

	ensureCmd := &cobra.Command{
		Use:   "ensure [content-id]",
		Short: "Ensure an approval assignment exists for a content item",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(cmd)
			defer store.Close()
			ownerID, _ := cmd.Flags().GetString("owner")
			svc := service.NewAssignmentService(store, log.GetLogger())
			assignment, err := svc.EnsureAssignment(context.Background(), args[0], ownerID)
			if err != nil {
				fail("failed to ensure assignment", err)
			}
			if assignment == nil {
				fmt.Fprintf(os.Stdout, "Content %s is not subject to approval\n", args[0])
				return
			}
			printJSON(assignment)
		},
	}
	ensureCmd.Flags().String("owner", "", "Owner actor ID")

	advanceCmd := &cobra.Command{
		Use:   "advance [content-id]",
		Short: "Apply an approval action to a content item's assignment",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(cmd)
			defer store.Close()
			actorID, _ := cmd.Flags().GetString("actor")
			action, _ := cmd.Flags().GetString("action")
			var input service.ActionInput
			if comment, _ := cmd.Flags().GetString("comment"); comment != "" {
				input.Comment = &comment
			}
			if reason, _ := cmd.Flags().GetString("reason"); reason != "" {
				input.Reason = &reason
			}
			engine := service.NewTransitionEngine(store, noopDispatcher{}, log.GetLogger())
			assignment, err := engine.AdvanceStep(context.Background(), args[0], actorID,
				models.ApprovalAction(action), input)
			if err != nil {
				fail("failed to advance workflow step", err)
			}
			printJSON(assignment)
		},
	}
	advanceCmd.Flags().String("actor", "", "Acting user ID")
	advanceCmd.Flags().String("action", "approve", "Action: approve, reject or request_changes")
	advanceCmd.Flags().String("comment", "", "Optional comment")
	advanceCmd.Flags().String("reason", "", "Optional reason")

	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending approvals for an actor",
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(cmd)
			defer store.Close()
			actorID, _ := cmd.Flags().GetString("actor")
			svc := service.NewDashboardService(store, log.GetLogger())
			assignments, err := svc.GetPendingApprovals(actorID)
			if err != nil {
				fail("failed to list pending approvals", err)
			}
			printJSON(assignments)
		},
	}
	pendingCmd.Flags().String("actor", "", "Acting user ID")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show approval stats for an owner",
		Run: func(cmd *cobra.Command, args []string) {
			store := initStore(cmd)
			defer store.Close()
			ownerID, _ := cmd.Flags().GetString("owner")
			svc := service.NewDashboardService(store, log.GetLogger())
			stats, err := svc.GetApprovalStats(ownerID)
			if err != nil {
				fail("failed to load approval stats", err)
			}
			printJSON(stats)
		},
	}
	statsCmd.Flags().String("owner", "", "Owner actor ID")

	rootCmd.AddCommand(listCmd, ensureCmd, advanceCmd, pendingCmd, statsCmd)
}

func initStore(cmd *cobra.Command) *internal_storage.PostgresStore {
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil {
		log.GetLogger().Errorf("Error retrieving db flag: %v", err)
		os.Exit(1)
	}
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	return store
}

func fail(msg string, err error) {
	log.GetLogger().Errorf("%s: %v", msg, err)
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	os.Exit(1)
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fail("failed to render output", err)
	}
	fmt.Fprintln(os.Stdout, string(out))
}
