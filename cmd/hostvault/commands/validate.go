package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hostvault/hostvault/pkg/machine"
	"github.com/hostvault/hostvault/pkg/template"
)

func newValidateCommand() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate <template>",
		Short: "Validate a template",
		Long: `Parse a template, resolve it against the current machine facts, and
report every finding without writing anything.

Validation runs at the level the template declares. The --strict flag
overrides that level, turning unnamed entries and duplicate names into
errors.`,
		Example: `  # Validate at the template's declared level
  hostvault validate dotfiles.yaml

  # Force strict validation
  hostvault validate dotfiles.yaml --strict`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			tpl, err := loader.Load(ctx, args[0])
			if err != nil {
				return fmt.Errorf("template is invalid: %w", err)
			}
			if strict {
				tpl.Configuration.ValidationLevel = template.ValidationStrict
			}

			collector := machine.NewCollector(logger)
			mc, _ := collector.Collect()

			resolver, err := newResolver(logger, vault)
			if err != nil {
				return err
			}

			cfg, err := resolver.Resolve(ctx, tpl, mc, nil)
			if err != nil {
				return fmt.Errorf("template failed validation: %w", err)
			}

			if jsonOutput {
				return printJSON(map[string]any{
					"template": tpl.Metadata,
					"level":    tpl.Configuration.Level(),
					"entries":  cfg.EntryCount(),
					"warnings": cfg.Warnings,
				})
			}

			fmt.Printf("Template %s is valid (%d entries, %d warnings, level %s)\n",
				tpl.Metadata.Name, cfg.EntryCount(), len(cfg.Warnings), tpl.Configuration.Level())
			printWarnings(cfg.Warnings)
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "validate at the strict level regardless of the template setting")

	return cmd
}
