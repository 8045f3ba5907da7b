package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"jobmail-hq/governor/pkg/cli"
	"jobmail-hq/governor/pkg/evidence"
)

var auditFlags struct {
	actor    string
	actionID string
	bundle   string
	event    string
	outcome  string
	since    string
	until    string
	order    string
	limit    int
	offset   int
	reason   string
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit trail",
	Long: `Query the append-only audit trail of a running governor.

Every bundle transition, import, rollback, proposal, approval, rejection and
execution is recorded with its actor and outcome. Times are RFC3339.

Examples:
  # Everything alice did today
  governor audit --actor alice --since 2025-01-02T00:00:00Z

  # Automatic rollbacks
  governor audit --event rolled_back --actor system:rollout

  # The history of one action, oldest first
  governor audit --action-id 6f1c2a... --order asc

  # Export as CSV
  governor audit --since 2025-01-01T00:00:00Z -o csv > audit.csv

  # Record that an approval was a mistake
  governor audit correct 0b7e41... --reason "approved the wrong message"`,
	Args: cobra.NoArgs,
	RunE: runAudit,
}

var auditCorrectCmd = &cobra.Command{
	Use:   "correct RECORD_ID",
	Short: "Append a correction superseding an audit record",
	Long: `Append a correction record that supersedes RECORD_ID. The original
record is never changed; the correction carries the reason and the event and
outcome it supersedes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditFlags.reason == "" {
			return cli.NewConfigError("reason", "--reason is required")
		}
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		rec, err := c.Correct(commandContext(cmd), args[0], auditFlags.reason)
		if err != nil {
			return err
		}
		return render(cmd, auditTable{rec})
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditCorrectCmd)
	auditCorrectCmd.Flags().StringVar(&auditFlags.reason, "reason", "", "why the record is corrected (required)")

	f := auditCmd.Flags()
	f.StringVar(&auditFlags.actor, "actor", "", "filter by actor")
	f.StringVar(&auditFlags.actionID, "action-id", "", "filter by proposed action")
	f.StringVar(&auditFlags.bundle, "bundle", "", "filter by bundle version")
	f.StringVar(&auditFlags.event, "event", "", "filter by event")
	f.StringVar(&auditFlags.outcome, "outcome", "", "filter by outcome: success, failure")
	f.StringVar(&auditFlags.since, "since", "", "records at or after this time")
	f.StringVar(&auditFlags.until, "until", "", "records before this time")
	f.StringVar(&auditFlags.order, "order", "", "sort order: asc, desc (default desc)")
	f.IntVar(&auditFlags.limit, "limit", 0, "page size (default: the server's evidence.default_limit)")
	f.IntVar(&auditFlags.offset, "offset", 0, "page offset")
}

func parseAuditTime(flag, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, cli.NewConfigError(flag, fmt.Sprintf("want RFC3339, got %q", value))
	}
	return &t, nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	q := &evidence.Query{
		Actor:         auditFlags.actor,
		ActionID:      auditFlags.actionID,
		BundleVersion: auditFlags.bundle,
		Event:         evidence.Event(auditFlags.event),
		Outcome:       evidence.Outcome(auditFlags.outcome),
		SortOrder:     auditFlags.order,
		Limit:         auditFlags.limit,
		Offset:        auditFlags.offset,
	}
	if q.StartTime, err = parseAuditTime("since", auditFlags.since); err != nil {
		return err
	}
	if q.EndTime, err = parseAuditTime("until", auditFlags.until); err != nil {
		return err
	}

	c, err := newAPIClient()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	// CSV comes from the server so the columns match evidence exports.
	if format == cli.FormatCSV {
		return c.AuditCSV(ctx, q, cmd.OutOrStdout())
	}

	page, err := c.Audit(ctx, q)
	if err != nil {
		return err
	}
	if format == cli.FormatJSON {
		return render(cmd, page)
	}
	if err := render(cmd, auditTable(page.Records)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "\n%d of %d records (offset %d)\n", len(page.Records), page.Total, page.Offset)
	return nil
}
