package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"jobmail-hq/governor/pkg/cli"
	"jobmail-hq/governor/pkg/security/auth"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage operator API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Generate an operator API key",
	Long: `Generate a random operator API key for --actor and print the
server.auth.keys entry that accepts it. Only the digest goes into the
configuration; hand the key to the operator, it is not shown again.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if actorName == "" {
			return cli.NewConfigError("actor", "--actor is required")
		}
		key, err := auth.GenerateKey()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✓ Key for %s: %s\n\n", actorName, key)
		fmt.Fprintln(out, "server:")
		fmt.Fprintln(out, "  auth:")
		fmt.Fprintln(out, "    enabled: true")
		fmt.Fprintln(out, "    keys:")
		fmt.Fprintf(out, "      - actor: %s\n", actorName)
		fmt.Fprintf(out, "        hash: %s\n", auth.HashKey(key))
		return nil
	},
}

var apikeyHashCmd = &cobra.Command{
	Use:   "hash KEY",
	Short: "Print the configuration digest of an existing key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), auth.HashKey(args[0]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
	apikeyCmd.AddCommand(apikeyCreateCmd, apikeyHashCmd)
}
