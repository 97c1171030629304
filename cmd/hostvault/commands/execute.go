package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hostvault/hostvault/pkg/executors"
	"github.com/hostvault/hostvault/pkg/machine"
	"github.com/hostvault/hostvault/pkg/secrets"
	"github.com/hostvault/hostvault/pkg/stores"
	"github.com/hostvault/hostvault/pkg/template"
)

// runExecutors resolves a template and dispatches the result to the
// backup/restore executors. Shared by the backup and restore commands.
func runExecutors(cmd *cobra.Command, templatePath string, op executors.Operation, dryRun bool, passphraseEnv string) error {
	ctx := cmd.Context()

	logger, err := cmdLogger()
	if err != nil {
		return err
	}
	vault, err := resolveVaultDir()
	if err != nil {
		return err
	}

	loader := template.NewLoader(logger)
	tpl, err := loader.Load(ctx, templatePath)
	if err != nil {
		return err
	}

	collector := machine.NewCollector(logger)
	mc, _ := collector.Collect()

	resolver, err := newResolver(logger, vault)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, vault)
	if err != nil {
		return err
	}
	defer store.Close()

	if cliMetrics != nil {
		cliMetrics.RecordResolutionStarted(tpl.Metadata.Name)
	}
	start := time.Now()
	cfg, err := resolver.Resolve(ctx, tpl, mc, nil)
	recordRun(ctx, store, logger, tpl, mc, stores.Operation(op), cfg, err, start)
	if err != nil {
		return err
	}

	var protector *secrets.Protector
	if passphrase := os.Getenv(passphraseEnv); passphrase != "" {
		protector, err = secrets.NewProtector(passphrase)
		if err != nil {
			return err
		}
	}

	filesDir := filepath.Join(vault, "files")
	if !dryRun {
		if err := os.MkdirAll(filesDir, 0755); err != nil {
			return fmt.Errorf("failed to create vault files directory: %w", err)
		}
	}

	dispatcher := executors.NewDispatcher(map[string]executors.Executor{
		"files":        executors.NewFileExecutor(filesDir, protector, logger),
		"registry":     executors.NewRegistryExecutor(filepath.Join(vault, "registry.json"), logger),
		"applications": executors.NewApplicationExecutor(logger),
	}, logger)

	results, err := dispatcher.Dispatch(ctx, cfg, op, dryRun)
	if err != nil {
		return err
	}
	if cliMetrics != nil {
		for _, r := range results {
			cliMetrics.RecordExecutorOperation(r.Executor, r.Action, r.Status)
		}
	}

	if jsonOutput {
		return printJSON(map[string]any{
			"operation": op,
			"dry_run":   dryRun,
			"template":  tpl.Metadata,
			"results":   results,
			"warnings":  cfg.Warnings,
		})
	}

	printResults(op, dryRun, results)
	printWarnings(cfg.Warnings)

	for _, r := range results {
		if r.Status == executors.StatusFailed {
			return fmt.Errorf("%s finished with failures", op)
		}
	}
	return nil
}

func printResults(op executors.Operation, dryRun bool, results []executors.Result) {
	verb := string(op)
	if dryRun {
		verb = verb + " (dry run)"
	}
	fmt.Printf("%s: %d operations\n", verb, len(results))

	counts := map[string]int{}
	for _, r := range results {
		counts[r.Status]++
		detail := r.Detail
		if detail != "" {
			detail = "  " + detail
		}
		fmt.Printf("  [%-7s] %s/%s%s\n", r.Status, r.Section, r.Entry, detail)
	}
	fmt.Printf("applied=%d planned=%d skipped=%d failed=%d\n",
		counts[executors.StatusApplied], counts[executors.StatusPlanned],
		counts[executors.StatusSkipped], counts[executors.StatusFailed])
}
