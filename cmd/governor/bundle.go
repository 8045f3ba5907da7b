package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"jobmail-hq/governor/pkg/cli"
	"jobmail-hq/governor/pkg/client"
	"jobmail-hq/governor/pkg/policy"
	"jobmail-hq/governor/pkg/signing"
)

var bundleFlags struct {
	source       string
	expected     string
	reason       string
	encoding     string
	exportOut    string
	seedOut      string
	asNewVersion bool
	contexts     string
	keyID        string
	force        bool
}

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Manage policy bundles",
	Long: `Create, inspect and roll out policy bundles on a running governor.

A bundle moves draft -> canary_10 -> canary_50 -> active. Promotion requires
the soak time and quality gates to pass. Stage changes take the active
version the operator expects; the server answers with a conflict when
another operator changed it first.

Examples:
  governor bundle list
  governor bundle create bundles/next.yaml
  governor bundle canary 1.4.0 --expected 1.3.2
  governor bundle rollback 1.4.0 --reason "deny rate spike"
  governor bundle export 1.3.2 --encoding cbor -f prod-1.3.2.cbor
  governor bundle import prod-1.3.2.cbor --as-new-version`,
}

var bundleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bundles; the active one is marked with *",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		list, err := c.ListBundles(commandContext(cmd))
		if err != nil {
			return err
		}
		return render(cmd, bundleTable{Current: list.Current, Bundles: list.Bundles})
	},
}

var bundleShowCmd = &cobra.Command{
	Use:   "show VERSION",
	Short: "Show the policies of a bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		b, err := c.GetBundle(commandContext(cmd), args[0])
		if err != nil {
			return err
		}
		if outputFormat == string(cli.FormatJSON) {
			return render(cmd, b)
		}
		return render(cmd, policyTable{b})
	},
}

var bundleCreateCmd = &cobra.Command{
	Use:   "create FILE",
	Short: "Create a draft from a bundle document (YAML or JSON)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := readDocument(args[0])
		if err != nil {
			return err
		}
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		b, err := c.CreateDraft(commandContext(cmd), doc, bundleFlags.source)
		if err != nil {
			return err
		}
		return render(cmd, bundleTable{Bundles: []*policy.Bundle{b}})
	},
}

// stageCmd builds the canary, promote and activate commands.
func stageCmd(stage, short string) *cobra.Command {
	return &cobra.Command{
		Use:   stage + " VERSION",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			expected, err := expectedVersion(cmd, c)
			if err != nil {
				return err
			}
			b, err := c.Stage(ctx, args[0], stage, expected)
			if err != nil {
				return err
			}
			return render(cmd, bundleTable{Bundles: []*policy.Bundle{b}})
		},
	}
}

// expectedVersion returns --expected, or the server's active version when
// the flag was not given.
func expectedVersion(cmd *cobra.Command, c *client.Client) (string, error) {
	if cmd.Flags().Changed("expected") {
		return bundleFlags.expected, nil
	}
	list, err := c.ListBundles(commandContext(cmd))
	if err != nil {
		return "", err
	}
	return list.Current, nil
}

var bundleRollbackCmd = &cobra.Command{
	Use:   "rollback VERSION",
	Short: "Roll a live bundle back to the last known-good bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bundleFlags.reason == "" {
			return cli.NewConfigError("reason", "--reason is required")
		}
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		expected, err := expectedVersion(cmd, c)
		if err != nil {
			return err
		}
		res, err := c.Rollback(commandContext(cmd), args[0], expected, bundleFlags.reason)
		if err != nil {
			return err
		}
		bundles := []*policy.Bundle{res.RolledBack}
		current := ""
		if res.Restored != nil {
			bundles = append(bundles, res.Restored)
			current = res.Restored.Version
		}
		if outputFormat == string(cli.FormatJSON) {
			return render(cmd, res)
		}
		return render(cmd, bundleTable{Current: current, Bundles: bundles})
	},
}

var bundleExportCmd = &cobra.Command{
	Use:   "export VERSION",
	Short: "Download a signed export of a bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		enc, err := signing.ParseEncoding(bundleFlags.encoding)
		if err != nil {
			return cli.NewConfigError("encoding", err.Error())
		}
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		data, err := c.Export(commandContext(cmd), args[0], enc)
		if err != nil {
			return err
		}
		if bundleFlags.exportOut == "" || bundleFlags.exportOut == "-" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(bundleFlags.exportOut, data, 0o600); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Exported %s to %s (%d bytes)\n", args[0], bundleFlags.exportOut, len(data))
		return nil
	},
}

var bundleImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import a signed export as a draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		b, err := c.Import(commandContext(cmd), data, bundleFlags.asNewVersion)
		if err != nil {
			return err
		}
		return render(cmd, bundleTable{Bundles: []*policy.Bundle{b}})
	},
}

var bundleSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Create a draft from the head of the configured git branch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := c.SyncGit(commandContext(cmd))
		if err != nil {
			return err
		}
		if outputFormat == string(cli.FormatJSON) {
			return render(cmd, res)
		}
		out := cmd.OutOrStdout()
		if res.Skipped {
			fmt.Fprintf(out, "Commit %s already has a draft\n", res.Commit.SHA)
			return nil
		}
		fmt.Fprintf(out, "Commit %s by %s: %s\n", res.Commit.SHA, res.Commit.Author, res.Commit.Message)
		return render(cmd, bundleTable{Bundles: []*policy.Bundle{res.Bundle}})
	},
}

var bundleTestCmd = &cobra.Command{
	Use:   "test VERSION",
	Short: "Dry-run a stored bundle against sample resources",
	Long: `Evaluate a stored bundle against the resource contexts in --contexts.
Nothing is proposed or executed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		contexts, err := readContexts(bundleFlags.contexts)
		if err != nil {
			return err
		}
		c, err := newAPIClient()
		if err != nil {
			return err
		}
		results, err := c.Test(commandContext(cmd), args[0], contexts)
		if err != nil {
			return err
		}
		return render(cmd, testTable(results))
	},
}

var bundleKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an export signing key",
	Long: `Generate an ed25519 signing seed for signing.seed_path and print the
public key to add to the signing.trusted_keys of other environments.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if bundleFlags.seedOut == "" {
			return cli.NewConfigError("out", "--out is required")
		}
		if _, err := os.Stat(bundleFlags.seedOut); err == nil && !bundleFlags.force {
			return cli.NewConfigError("out", bundleFlags.seedOut+" exists (use --force to overwrite)")
		}
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return err
		}
		if err := signing.WriteSeed(bundleFlags.seedOut, priv.Seed()); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✓ Seed written to %s\n\n", bundleFlags.seedOut)
		fmt.Fprintln(out, "signing:")
		fmt.Fprintf(out, "  key_id: %s\n", bundleFlags.keyID)
		fmt.Fprintf(out, "  seed_path: %s\n\n", bundleFlags.seedOut)
		fmt.Fprintln(out, "Trust it elsewhere with:")
		fmt.Fprintln(out, "signing:")
		fmt.Fprintln(out, "  trusted_keys:")
		fmt.Fprintf(out, "    %s: %s\n", bundleFlags.keyID, hex.EncodeToString(pub))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(bundleCmd)

	bundleCreateCmd.Flags().StringVar(&bundleFlags.source, "source", "cli", "provenance recorded on the draft")

	stages := []*cobra.Command{
		stageCmd("canary", "Start a canary at 10% of resources"),
		stageCmd("promote", "Promote a canary to the next stage (10% -> 50% -> active)"),
		stageCmd("activate", "Make a bundle active immediately"),
	}
	for _, c := range stages {
		c.Flags().StringVar(&bundleFlags.expected, "expected", "", "active version you expect (default: the server's current active version)")
	}

	bundleRollbackCmd.Flags().StringVar(&bundleFlags.reason, "reason", "", "why the bundle is rolled back (required)")
	bundleRollbackCmd.Flags().StringVar(&bundleFlags.expected, "expected", "", "active version you expect (default: the server's current active version)")

	bundleExportCmd.Flags().StringVar(&bundleFlags.encoding, "encoding", "json", "export encoding: json, cbor")
	bundleExportCmd.Flags().StringVarP(&bundleFlags.exportOut, "out", "f", "", "output file (default: stdout)")

	bundleImportCmd.Flags().BoolVar(&bundleFlags.asNewVersion, "as-new-version", false, "re-version a colliding bundle to the next patch version")

	bundleTestCmd.Flags().StringVar(&bundleFlags.contexts, "contexts", "", "YAML or JSON list of resource contexts (required)")
	_ = bundleTestCmd.MarkFlagRequired("contexts")

	bundleKeygenCmd.Flags().StringVarP(&bundleFlags.seedOut, "out", "f", "signing.seed", "seed file to write")
	bundleKeygenCmd.Flags().StringVar(&bundleFlags.keyID, "key-id", "default", "key ID to configure")
	bundleKeygenCmd.Flags().BoolVar(&bundleFlags.force, "force", false, "overwrite an existing seed file")

	bundleCmd.AddCommand(bundleListCmd, bundleShowCmd, bundleCreateCmd, bundleRollbackCmd,
		bundleExportCmd, bundleImportCmd, bundleSyncCmd, bundleTestCmd, bundleKeygenCmd)
	bundleCmd.AddCommand(stages...)
}
