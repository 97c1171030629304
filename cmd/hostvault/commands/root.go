package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hostvault/hostvault/pkg/telemetry"
)

var (
	// Global flags
	vaultDir     string
	verbose      bool
	jsonOutput   bool
	traceEnabled bool
	metricsAddr  string

	// Telemetry for the current invocation, installed by the root
	// command's PersistentPreRunE. Both are no-op until then.
	cliTracer  *telemetry.Tracer
	cliMetrics *telemetry.Metrics
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hostvault",
		Short: "HostVault - Machine configuration backup and restore",
		Long: `HostVault backs up and restores host configuration from layered templates.

A template declares a shared baseline, machine-specific overlays selected
by host facts, inheritance rules, and conditional sections. Resolution
merges the layers for the current machine into a flat configuration that
the backup and restore executors act on.

Features:
  - Three-tier template resolution with provenance tracking
  - Machine selection by hostname, user, OS, domain, and environment
  - Conditional sections gated by facts and Starlark predicates
  - Encrypted file vaulting
  - Run history with recorded findings`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupTelemetry(version)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if cliTracer == nil {
				return
			}
			// The command context may already be cancelled; flush on a
			// fresh one so pending spans still make it out.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = cliTracer.Shutdown(ctx)
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&vaultDir, "vault", "", "vault directory (default $HOSTVAULT_DIR or ~/.hostvault)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&traceEnabled, "trace", false, "emit resolution spans to stdout")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-listen", "", "serve Prometheus metrics on this address (e.g. :9090)")

	// Add subcommands
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newFactsCommand())
	rootCmd.AddCommand(newBackupCommand())
	rootCmd.AddCommand(newRestoreCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
