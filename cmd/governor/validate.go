package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"jobmail-hq/governor/pkg/policy"
)

var validateCmd = &cobra.Command{
	Use:   "validate FILE...",
	Short: "Validate bundle documents",
	Long: `Check bundle documents (YAML or JSON) the way the server checks a new
draft: version syntax, unique policy IDs, condition syntax and nesting depth,
known action types and scorers, and confidence thresholds in [0, 1].

Nothing is sent to a server.

Examples:
  governor validate bundles/next.yaml
  governor validate bundles/*.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := localConfig()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	out := cmd.OutOrStdout()

	failed := 0
	for _, path := range args {
		// Each document gets its own sandbox so versions do not collide.
		sb, err := newSandbox(ctx, cfg, localLogger())
		if err != nil {
			return err
		}
		doc, err := readDocument(path)
		if err == nil {
			_, err = sb.load(ctx, doc)
		}
		if err != nil {
			failed++
			fmt.Fprintf(out, "✗ %s\n", path)
			var valErr *policy.ValidationError
			if errors.As(err, &valErr) && len(valErr.Errors) > 0 {
				for _, msg := range valErr.Errors {
					fmt.Fprintf(out, "    %s\n", msg)
				}
			} else {
				fmt.Fprintf(out, "    %v\n", err)
			}
			continue
		}
		fmt.Fprintf(out, "✓ %s: bundle %s, %d policies\n", path, doc.Version, len(doc.Policies))
	}

	if failed > 0 {
		return policy.NewValidationError("validate", fmt.Sprintf("%d of %d documents invalid", failed, len(args)), nil)
	}
	return nil
}
