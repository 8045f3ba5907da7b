package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"jobmail-hq/governor/pkg/actions"
	"jobmail-hq/governor/pkg/cli"
)

var testFlags struct {
	testsFile string
}

var testCmd = &cobra.Command{
	Use:   "test FILE",
	Short: "Run bundle test cases locally",
	Long: `Evaluate a bundle document against test cases without a server.

Each case is dry-run through the policy engine with the same ordering and
confidence rules the server uses; nothing is proposed or executed.

Test Case Format (YAML):
  tests:
    - name: "expired promotion is archived"
      context:
        category: promotions
        expires_at: 2025-01-01T00:00:00Z
      expect:
        policy: archive-expired-promos   # optional
        action: archive                  # optional
        min_confidence: 0.8              # optional
    - name: "newsletters are left alone"
      context: {category: newsletters}
      expect: {matched: false}

A plain list of contexts is also accepted; results are shown without
pass/fail.

Examples:
  governor test bundles/next.yaml --tests bundles/next_test.yaml
  governor test bundles/next.yaml --tests samples.yaml -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runTests,
}

func init() {
	rootCmd.AddCommand(testCmd)

	testCmd.Flags().StringVarP(&testFlags.testsFile, "tests", "t", "", "test case file (required)")
	if err := testCmd.MarkFlagRequired("tests"); err != nil {
		panic(fmt.Sprintf("failed to mark tests flag as required: %v", err))
	}
}

// caseResult is one evaluated test case.
type caseResult struct {
	Name    string             `json:"name"`
	Result  actions.TestResult `json:"result"`
	Checked bool               `json:"checked"`
	Failure string             `json:"failure,omitempty"`
}

type caseTable []caseResult

func (t caseTable) Header() []string {
	return []string{"CASE", "RESULT", "POLICY", "ACTION", "CONFIDENCE", "DETAILS"}
}

func (t caseTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, c := range t {
		result := "-"
		switch {
		case c.Checked && c.Failure == "":
			result = "PASS"
		case c.Checked:
			result = "FAIL"
		}
		details := c.Failure
		if details == "" {
			details = c.Result.Rationale
		}
		rows = append(rows, []string{
			c.Name,
			result,
			orDash(c.Result.PolicyID),
			orDash(c.Result.ActionType),
			confidence(c.Result.Confidence),
			orDash(details),
		})
	}
	return rows
}

func runTests(cmd *cobra.Command, args []string) error {
	cfg, err := localConfig()
	if err != nil {
		return err
	}
	doc, err := readDocument(args[0])
	if err != nil {
		return err
	}
	suite, err := readSuite(testFlags.testsFile)
	if err != nil {
		return cli.NewCommandError("test", err)
	}

	ctx := commandContext(cmd)
	sb, err := newSandbox(ctx, cfg, localLogger())
	if err != nil {
		return err
	}
	b, err := sb.load(ctx, doc)
	if err != nil {
		return err
	}
	results, err := sb.svc.Test(ctx, b.Version, suite.contexts())
	if err != nil {
		return cli.NewCommandError("test", err)
	}

	table := make(caseTable, len(results))
	failed, checked := 0, 0
	for i, r := range results {
		tc := suite.Tests[i]
		table[i] = caseResult{Name: tc.Name, Result: r}
		if tc.Expect == nil {
			continue
		}
		checked++
		table[i].Checked = true
		if table[i].Failure = tc.Expect.check(r); table[i].Failure != "" {
			failed++
		}
	}

	if err := render(cmd, table); err != nil {
		return err
	}
	if checked > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "\n%d passed, %d failed\n", checked-failed, failed)
	}
	if failed > 0 {
		return cli.NewCommandError("test", fmt.Errorf("%d of %d cases failed", failed, checked))
	}
	return nil
}
