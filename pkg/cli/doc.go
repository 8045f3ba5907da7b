/*
Package cli provides the output, exit code and signal helpers shared by the
governor command.

Output Formatting:

Command results render as text tables, JSON or CSV:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, result); err != nil {
		return err
	}

Values implementing Table render as aligned columns in text mode and as
rows in CSV mode. JSON output always encodes the value itself.

Exit Codes:

ExitCode maps an error to the process exit status so scripts can tell a
version conflict from a rejected import or an unreachable server.

Progress Reporting:

Batch operations such as approving every pending action report progress:

	progress := cli.NewProgress(os.Stderr, "Approving", len(ids))
	for _, id := range ids {
		progress.Step(approve(id))
	}
	progress.Finish()

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler()
	defer stop()
*/
package cli
