package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hostvault/hostvault/pkg/machine"
	"github.com/hostvault/hostvault/pkg/resolve"
	"github.com/hostvault/hostvault/pkg/stores"
	"github.com/hostvault/hostvault/pkg/telemetry"
	"github.com/hostvault/hostvault/pkg/template"
)

// resolveVaultDir returns the vault directory honoring the --vault flag,
// the HOSTVAULT_DIR environment variable, and the home default, in that
// order.
func resolveVaultDir() (string, error) {
	if vaultDir != "" {
		return vaultDir, nil
	}
	if dir := os.Getenv("HOSTVAULT_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".hostvault"), nil
}

// cmdLogger builds the logger commands share, honoring --verbose and --json.
func cmdLogger() (zerolog.Logger, error) {
	cfg := telemetry.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "rfc3339",
	}
	if verbose {
		cfg.Level = "debug"
	}
	if jsonOutput {
		// Keep stdout clean for the JSON payload
		cfg.Format = "json"
	}
	logger, err := telemetry.NewLogger(cfg)
	if err != nil {
		return zerolog.Logger{}, err
	}
	return logger.Zerolog(), nil
}

// setupTelemetry installs the tracer provider and metrics registry for
// this invocation, honoring --trace and --metrics-listen. Both come back
// as safe no-op instances when their flags are off.
func setupTelemetry(version string) error {
	cfg := telemetry.DefaultConfig()
	if version != "" {
		cfg.ServiceVersion = version
	}
	cfg.Tracing.Enabled = traceEnabled
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	tracer, err := telemetry.NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	metrics, err := telemetry.NewMetrics(cfg.Metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	if err := metrics.StartMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	cliTracer = tracer
	cliMetrics = metrics
	return nil
}

// newResolver builds a resolver with any Starlark predicate scripts found
// under <vault>/predicates registered alongside the builtins.
func newResolver(logger zerolog.Logger, vault string) (*resolve.Resolver, error) {
	registry := resolve.NewPredicateRegistry()

	scriptsDir := filepath.Join(vault, "predicates")
	entries, err := os.ReadDir(scriptsDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read predicates directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".star") {
			continue
		}
		src, err := os.ReadFile(filepath.Join(scriptsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read predicate script %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(entry.Name(), ".star")
		if err := registry.RegisterScript(name, string(src)); err != nil {
			return nil, fmt.Errorf("failed to register predicate %s: %w", name, err)
		}
		logger.Debug().Str("predicate", name).Msg("Registered predicate script")
	}

	return resolve.NewResolver(
		resolve.WithLogger(logger),
		resolve.WithPredicates(registry),
	), nil
}

// openStore opens (and migrates) the run history database in the vault.
func openStore(ctx context.Context, vault string) (*stores.SQLiteStore, error) {
	if err := os.MkdirAll(vault, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{
		Path: filepath.Join(vault, "hostvault.db"),
	})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// recordRun persists one resolution run and its findings. Recording
// failures are logged, never fatal: history must not break the operation.
func recordRun(ctx context.Context, store stores.Store, logger zerolog.Logger,
	tpl *template.Template, mc *machine.Context, op stores.Operation,
	cfg *resolve.ResolvedConfig, runErr error, startedAt time.Time) {

	if cliMetrics != nil {
		status := "completed"
		if runErr != nil {
			status = "failed"
		}
		entryCount := 0
		if cfg != nil {
			entryCount = cfg.EntryCount()
		}
		cliMetrics.RecordResolutionCompleted(tpl.Metadata.Name, status, time.Since(startedAt), entryCount)
		if cfg != nil {
			for _, w := range cfg.Warnings {
				cliMetrics.RecordWarning(string(w.Class))
			}
		}
	}

	run := &stores.Run{
		ID:              uuid.New().String(),
		TemplateName:    tpl.Metadata.Name,
		TemplateVersion: tpl.Metadata.Version,
		TemplatePath:    tpl.SourceFile,
		MachineName:     mc.MachineName,
		Operation:       op,
		Status:          stores.RunStatusRunning,
		StartedAt:       startedAt,
	}
	if cfg != nil {
		run.EntryCount = cfg.EntryCount()
		run.WarningCount = len(cfg.Warnings)
		if snapshot, err := json.Marshal(cfg); err == nil {
			s := string(snapshot)
			run.Resolved = &s
		}
	}

	if err := store.CreateRun(ctx, run); err != nil {
		logger.Warn().Err(err).Msg("Failed to record run")
		return
	}

	if cfg != nil {
		for _, w := range cfg.Warnings {
			finding := &stores.Finding{
				RunID:   run.ID,
				Class:   stores.FindingClass(w.Class),
				Message: w.Message,
			}
			if w.Section != "" {
				section := w.Section
				finding.Section = &section
			}
			if w.Entry != "" {
				entry := w.Entry
				finding.Entry = &entry
			}
			if err := store.AppendFinding(ctx, finding); err != nil {
				logger.Warn().Err(err).Msg("Failed to record finding")
			}
		}
	}

	status := stores.RunStatusCompleted
	var errText *string
	if runErr != nil {
		status = stores.RunStatusFailed
		s := runErr.Error()
		errText = &s
	}
	if err := store.UpdateRunStatus(ctx, run.ID, status, errText); err != nil {
		logger.Warn().Err(err).Msg("Failed to finalize run status")
	}
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResolved renders a resolved configuration for humans.
func printResolved(cfg *resolve.ResolvedConfig) {
	fmt.Printf("Template: %s", cfg.Metadata.Name)
	if cfg.Metadata.Version != "" {
		fmt.Printf(" (version %s)", cfg.Metadata.Version)
	}
	fmt.Println()

	for _, section := range cfg.SectionNames() {
		entries := cfg.Section(section)
		fmt.Printf("\n%s (%d entries)\n", section, len(entries))
		for _, entry := range entries {
			provenance := string(entry.Source)
			if entry.ConditionalSection != "" {
				provenance += ":" + entry.ConditionalSection
			}
			fmt.Printf("  - %-30s [%s]\n", entry.Key(), provenance)
		}
	}

	printWarnings(cfg.Warnings)
}

// printWarnings renders resolution warnings for humans.
func printWarnings(warnings []resolve.Warning) {
	if len(warnings) == 0 {
		return
	}
	fmt.Printf("\nWarnings (%d):\n", len(warnings))
	for _, w := range warnings {
		fmt.Printf("  %s\n", w.String())
	}
}
