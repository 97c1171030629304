package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hostvault/hostvault/pkg/machine"
	"github.com/hostvault/hostvault/pkg/resolve"
	"github.com/hostvault/hostvault/pkg/stores"
	"github.com/hostvault/hostvault/pkg/template"
)

func newPlanCommand() *cobra.Command {
	var (
		outFile string
		watch   bool
	)

	cmd := &cobra.Command{
		Use:   "plan <template>",
		Short: "Resolve a template for this machine",
		Long: `Resolve a template against the current machine facts without touching
the system.

The plan:
  - Collects facts from the running host
  - Merges the shared baseline with matching machine-specific overlays
  - Applies inheritance rules and conditional sections
  - Validates the result at the template's validation level`,
		Example: `  # Resolve a template and print the result
  hostvault plan dotfiles.yaml

  # Save the resolved configuration to a file
  hostvault plan dotfiles.yaml --out resolved.json

  # Keep re-resolving as the template changes on disk
  hostvault plan dotfiles.yaml --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			templatePath := args[0]

			logger, err := cmdLogger()
			if err != nil {
				return err
			}
			vault, err := resolveVaultDir()
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

			loader := template.NewLoader(logger)
			runPlan := func(tpl *template.Template) error {
				if cliMetrics != nil {
					cliMetrics.RecordResolutionStarted(tpl.Metadata.Name)
				}
				start := time.Now()
				cfg, err := resolver.Resolve(ctx, tpl, mc, nil)
				recordRun(ctx, store, logger, tpl, mc, stores.OperationPlan, cfg, err, start)
				if err != nil {
					return err
				}

				if outFile != "" {
					if err := writeResolved(outFile, cfg); err != nil {
						return err
					}
					logger.Info().Str("path", outFile).Msg("Resolved configuration written")
				}
				if jsonOutput {
					return printJSON(cfg)
				}
				printResolved(cfg)
				return nil
			}

			tpl, err := loader.Load(ctx, templatePath)
			if err != nil {
				return err
			}
			if err := runPlan(tpl); err != nil {
				return err
			}

			if !watch {
				return nil
			}

			watcher := template.NewWatcher(loader, logger)
			if err := watcher.Watch(ctx, templatePath, func(tpl *template.Template) error {
				return runPlan(tpl)
			}); err != nil {
				return err
			}
			defer watcher.Stop()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the resolved configuration to a JSON file")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-resolve whenever the template file changes")

	return cmd
}

// writeResolved writes a resolved configuration as indented JSON.
func writeResolved(path string, cfg *resolve.ResolvedConfig) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to write resolved configuration: %w", err)
	}
	return nil
}
