package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"jobmail-hq/governor/pkg/cli"
	"jobmail-hq/governor/pkg/client"
	"jobmail-hq/governor/pkg/config"
)

const (
	// actorEnv names the operator when --actor is not given.
	actorEnv = "GOVERNOR_ACTOR"
	// apiKeyEnv holds the operator API key when --api-key is not given.
	apiKeyEnv = "GOVERNOR_API_KEY"
)

var (
	// Global flags
	cfgFile      string
	verbose      bool
	serverURL    string
	actorName    string
	outputFormat string
	apiKey       string
	caCert       string
	clientCert   string
	clientKey    string
)

var rootCmd = &cobra.Command{
	Use:   "governor",
	Short: "Governor - staged policy rollout for mailbox automation",
	Long: `Governor evaluates versioned policy bundles against mailbox resources and
turns matches into proposed actions that operators approve or reject.

It provides:
  - A condition DSL with confidence scoring
  - Bundle rollout through canary_10, canary_50 and active with quality gates
  - Automatic rollback when error, deny, cost or zero-match rates breach
  - Idempotent action execution with timeout and one transient retry
  - Signed bundle export and import between environments
  - An append-only audit trail of every decision

Commands other than run, validate, test and version talk to a running server
over its HTTP API (--server). Mutations are attributed to --actor, or to the
owner of --api-key when the server requires keys.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "governor API address (default: server.listen_address from config)")
	rootCmd.PersistentFlags().StringVar(&actorName, "actor", "", "operator name recorded for mutations (default: $"+actorEnv+" or the OS user)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, json, csv")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "operator API key (default: $"+apiKeyEnv+")")
	rootCmd.PersistentFlags().StringVar(&caCert, "ca-cert", "", "CA certificate that signed the server certificate")
	rootCmd.PersistentFlags().StringVar(&clientCert, "client-cert", "", "client certificate for servers that require one")
	rootCmd.PersistentFlags().StringVar(&clientKey, "client-key", "", "key of --client-cert")
}

// configPath returns --config, or "" (defaults plus environment) when the
// flag was left at its default and that file does not exist.
func configPath() string {
	if rootCmd.PersistentFlags().Changed("config") {
		return cfgFile
	}
	if _, err := os.Stat(cfgFile); errors.Is(err, fs.ErrNotExist) {
		return ""
	}
	return cfgFile
}

// resolveActor returns the operator name for mutations. With an API key
// the server knows the actor, so the OS user is not guessed.
func resolveActor(key string) string {
	if actorName != "" {
		return actorName
	}
	if a := os.Getenv(actorEnv); a != "" {
		return a
	}
	if key != "" {
		return ""
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

func resolveAPIKey() string {
	if apiKey != "" {
		return apiKey
	}
	return os.Getenv(apiKeyEnv)
}

// resolveServer returns the API address: the flag, or the listen address of
// the config file when it can be loaded.
func resolveServer() string {
	if serverURL != "" {
		return serverURL
	}
	if cfg, err := config.LoadConfigWithEnvOverrides(configPath()); err == nil {
		if cfg.Server.TLS.Enabled {
			return "https://" + cfg.Server.ListenAddress
		}
		return cfg.Server.ListenAddress
	}
	return config.DefaultListenAddress
}

// clientTLS builds the client TLS configuration from --ca-cert and
// --client-cert; nil when neither is given.
func clientTLS() (*tls.Config, error) {
	if caCert == "" && clientCert == "" {
		return nil, nil
	}
	tc := &tls.Config{MinVersion: tls.VersionTLS12}
	if caCert != "" {
		pem, err := os.ReadFile(caCert)
		if err != nil {
			return nil, cli.NewConfigError("ca-cert", err.Error())
		}
		tc.RootCAs = x509.NewCertPool()
		if !tc.RootCAs.AppendCertsFromPEM(pem) {
			return nil, cli.NewConfigError("ca-cert", "no certificates in "+caCert)
		}
	}
	if clientCert != "" {
		if clientKey == "" {
			return nil, cli.NewConfigError("client-key", "--client-key is required with --client-cert")
		}
		pair, err := tls.LoadX509KeyPair(clientCert, clientKey)
		if err != nil {
			return nil, cli.NewConfigError("client-cert", err.Error())
		}
		tc.Certificates = []tls.Certificate{pair}
	}
	return tc, nil
}

// newAPIClient creates a client for the configured server.
func newAPIClient() (*client.Client, error) {
	tc, err := clientTLS()
	if err != nil {
		return nil, err
	}
	key := resolveAPIKey()
	c, err := client.New(client.Config{
		BaseURL: resolveServer(),
		Actor:   resolveActor(key),
		APIKey:  key,
		TLS:     tc,
	})
	if err != nil {
		return nil, cli.NewConfigError("server", err.Error())
	}
	return c, nil
}

// render writes data in the --output format.
func render(cmd *cobra.Command, data any) error {
	format, err := cli.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), data)
}

// commandContext returns the command's context, or Background when cobra
// was invoked without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
