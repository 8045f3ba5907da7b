package main

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"jobmail-hq/governor/pkg/cli"
	"jobmail-hq/governor/pkg/config"
	"jobmail-hq/governor/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the governor server",
	Long: `Start the governor with the specified configuration.

The server opens the database, loads every bundle, starts the rollout monitor,
the idempotency pruner and, when configured, the signed-bundle inbox and git
polling, then serves the operator API until SIGINT or SIGTERM.

Examples:
  # Start with default config
  governor run

  # Start with custom config
  governor run --config /etc/governor/config.yaml

  # Override listen address
  governor run --listen 0.0.0.0:8080

  # Validate config without starting server
  governor run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := localConfig()
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError(cfgFile, err.Error())
	}

	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer a.close()

	printBanner(cmd, a)

	if err := a.start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	if err := a.server.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Server stopped")
	return nil
}

func printBanner(cmd *cobra.Command, a *app) {
	out := cmd.OutOrStdout()
	cfg := a.cfg

	fmt.Fprintf(out, "Governor %s\n\n", Version)
	if cfg.Storage.Backend == "memory" {
		fmt.Fprintln(out, "✓ Storage: in memory (nothing is persisted)")
	} else {
		fmt.Fprintf(out, "✓ Storage: %s (%s)\n", cfg.Storage.SQLite.Path, a.db.Driver())
	}

	active := a.registry.Current()
	if active == "" {
		active = "none (readiness fails until a bundle is activated)"
	}
	fmt.Fprintf(out, "✓ Bundles loaded (%d, active %s)\n", len(a.registry.List()), active)
	fmt.Fprintf(out, "✓ Executors: %s\n", strings.Join(a.executors, ", "))
	if len(cfg.Executor.RateLimits) > 0 {
		limited := slices.Sorted(maps.Keys(cfg.Executor.RateLimits))
		fmt.Fprintf(out, "✓ Rate limits: %s\n", strings.Join(limited, ", "))
	}

	if config.BoolValue(cfg.Rollout.MonitorEnabled, true) {
		fmt.Fprintf(out, "✓ Rollout monitor: %s\n", cfg.Rollout.MonitorSchedule)
	}
	if a.signer != nil {
		fmt.Fprintf(out, "✓ Signing key: %s\n", a.signer.KeyID())
	}
	if a.inbox != nil {
		fmt.Fprintf(out, "✓ Inbox: %s\n", cfg.Inbox.Directory)
	}
	if a.git != nil {
		fmt.Fprintf(out, "✓ Git source: %s@%s:%s\n", cfg.Git.Repository, cfg.Git.Branch, cfg.Git.Path)
	}

	if cfg.Server.Auth.Enabled {
		how := fmt.Sprintf("%d operator keys", len(cfg.Server.Auth.Keys))
		if cfg.Server.TLS.ClientCAFile != "" {
			how += " or client certificates"
		}
		fmt.Fprintf(out, "✓ Authentication: %s\n", how)
	}

	scheme := "http"
	if a.certs != nil {
		scheme = "https"
	}
	base := scheme + "://" + cfg.Server.ListenAddress
	fmt.Fprintln(out)
	fmt.Fprintf(out, "✓ Operator API: %s/v1\n", base)
	fmt.Fprintf(out, "✓ Health endpoint: %s/healthz\n", base)
	fmt.Fprintf(out, "✓ Metrics endpoint: %s/metrics\n", base)
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")
}
