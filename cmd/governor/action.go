package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"jobmail-hq/governor/pkg/actions"
	"jobmail-hq/governor/pkg/cli"
	"jobmail-hq/governor/pkg/client"
)

var actionFlags struct {
	status     string
	limit      int
	offset     int
	resources  string
	query      string
	bundle     string
	reason     string
	allPending bool
}

var actionCmd = &cobra.Command{
	Use:   "action",
	Short: "Work the proposed action approval tray",
	Long: `Propose actions for resources and approve or reject them on a running
governor. Approving executes the action; a failed execution is reported with
its error kind and the number of attempts.

Examples:
  governor action propose --resources inbox.json
  governor action list --status pending
  governor action approve 6f1c2a...
  governor action approve --all-pending
  governor action reject 6f1c2a... --reason "sender is a recruiter"`,
}

var actionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List proposed actions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status := actions.Status(actionFlags.status)
		if status != "" && !status.Valid() {
			return cli.NewConfigError("status", fmt.Sprintf("unknown status %q", status))
		}
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		list, err := c.ListActions(commandContext(cmd), status, actionFlags.limit, actionFlags.offset)
		if err != nil {
			return err
		}
		return render(cmd, actionTable(list.Actions))
	},
}

var actionShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one proposed action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		a, err := c.GetAction(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		if outputFormat == string(cli.FormatJSON) {
			return render(cmd, a)
		}
		return render(cmd, actionDetail{a})
	},
}

var actionProposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Evaluate resources and create pending actions",
	Long: `Evaluate resources against the live bundles and create a pending action
for every match. Resources come from a JSON file (--resources) holding a list
of {"id": ..., "context": {...}} objects, or from a query resolved by the
server's resource source (--query).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := client.ProposeRequest{Query: actionFlags.query, Bundle: actionFlags.bundle}
		switch {
		case actionFlags.resources != "" && actionFlags.query != "":
			return cli.NewConfigError("resources", "--resources and --query are mutually exclusive")
		case actionFlags.resources != "":
			resources, err := readResources(actionFlags.resources)
			if err != nil {
				return err
			}
			req.Resources = resources
		case actionFlags.query == "":
			return cli.NewConfigError("resources", "one of --resources or --query is required")
		}

		c, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := c.Propose(commandContext(cmd), req)
		if err != nil {
			return err
		}
		if outputFormat == string(cli.FormatJSON) {
			return render(cmd, res)
		}
		if err := render(cmd, proposeTable{res}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "\n%d evaluated, %d proposed\n", res.Evaluated, len(res.Proposed))
		return nil
	},
}

func readResources(path string) ([]actions.Resource, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-named file
	if err != nil {
		return nil, err
	}
	var resources []actions.Resource
	if err := json.Unmarshal(data, &resources); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return resources, nil
}

var actionApproveCmd = &cobra.Command{
	Use:   "approve [ID...]",
	Short: "Approve and execute pending actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && !actionFlags.allPending {
			return cli.NewConfigError("id", "give action IDs or --all-pending")
		}
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)

		ids := args
		if actionFlags.allPending {
			if len(args) > 0 {
				return cli.NewConfigError("id", "--all-pending takes no IDs")
			}
			list, err := c.ListActions(ctx, actions.StatusPending, actionFlags.limit, 0)
			if err != nil {
				return err
			}
			for _, a := range list.Actions {
				ids = append(ids, a.ID)
			}
		}

		var (
			results executionTable
			errs    []error
		)
		var progress *cli.Progress
		if len(ids) > 1 {
			progress = cli.NewProgress(cmd.ErrOrStderr(), "Approving", len(ids))
		}
		for _, id := range ids {
			res, err := c.Approve(ctx, id)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
			} else {
				results = append(results, res)
			}
			progress.Step(err)
		}
		progress.Finish()

		if len(results) > 0 {
			if err := render(cmd, results); err != nil {
				return err
			}
		}
		return errors.Join(errs...)
	},
}

var actionRejectCmd = &cobra.Command{
	Use:   "reject ID",
	Short: "Reject a pending action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		a, err := c.Reject(commandContext(cmd), args[0], actionFlags.reason)
		if err != nil {
			return err
		}
		return render(cmd, actionTable{a})
	},
}

func init() {
	rootCmd.AddCommand(actionCmd)

	actionListCmd.Flags().StringVar(&actionFlags.status, "status", "", "filter by status: pending, approved, rejected, executed, failed")
	actionListCmd.Flags().IntVar(&actionFlags.limit, "limit", actions.DefaultListLimit, "page size")
	actionListCmd.Flags().IntVar(&actionFlags.offset, "offset", 0, "page offset")

	actionProposeCmd.Flags().StringVar(&actionFlags.resources, "resources", "", "JSON file with a list of resources")
	actionProposeCmd.Flags().StringVar(&actionFlags.query, "query", "", "query for the server's resource source")
	actionProposeCmd.Flags().StringVar(&actionFlags.bundle, "bundle", "", "evaluate with this active or canary bundle version instead of canary routing")

	actionApproveCmd.Flags().BoolVar(&actionFlags.allPending, "all-pending", false, "approve every pending action (oldest first, up to --limit)")
	actionApproveCmd.Flags().IntVar(&actionFlags.limit, "limit", actions.DefaultListLimit, "maximum actions approved with --all-pending")

	actionRejectCmd.Flags().StringVar(&actionFlags.reason, "reason", "", "why the action is rejected")

	actionCmd.AddCommand(actionListCmd, actionShowCmd, actionProposeCmd, actionApproveCmd, actionRejectCmd)
}
