package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hostvault/hostvault/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		machineName string
		runID       string
		limit       int
		prune       int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past resolution runs",
		Long: `List past plan, backup, and restore runs recorded in the vault,
optionally filtered by machine. With --run, show the findings recorded
for a single run instead.`,
		Example: `  # Show recent runs
  hostvault history

  # Runs for one machine
  hostvault history --machine workstation-01

  # Findings of one run
  hostvault history --run 4f7c...

  # Keep only the 50 most recent runs
  hostvault history --prune 50`,
		Args: cobra.NoArgs,
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
			store, err := openStore(ctx, vault)
			if err != nil {
				return err
			}
			defer store.Close()

			if prune > 0 {
				removed, err := store.PruneRuns(ctx, prune)
				if err != nil {
					return err
				}
				logger.Info().Int64("removed", removed).Int("kept", prune).Msg("Pruned run history")
			}

			if runID != "" {
				return showFindings(cmd, store, runID)
			}

			var runs []*stores.Run
			if machineName != "" {
				runs, err = store.ListRunsByMachine(ctx, machineName, limit, 0)
			} else {
				runs, err = store.ListRuns(ctx, limit, 0)
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(runs)
			}

			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}
			for _, run := range runs {
				fmt.Printf("%s  %-7s %-9s %-20s %-20s entries=%d warnings=%d  %s\n",
					run.ID, run.Operation, run.Status, run.TemplateName, run.MachineName,
					run.EntryCount, run.WarningCount, run.StartedAt.Format(time.RFC3339))
				if run.Error != nil {
					fmt.Printf("    error: %s\n", *run.Error)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&machineName, "machine", "", "only show runs for this machine")
	cmd.Flags().StringVar(&runID, "run", "", "show the findings of one run")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show")
	cmd.Flags().IntVar(&prune, "prune", 0, "delete all but the N most recent runs first")

	return cmd
}

func showFindings(cmd *cobra.Command, store stores.Store, runID string) error {
	ctx := cmd.Context()

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	findings, err := store.ListFindings(ctx, runID, 500, 0)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(map[string]any{"run": run, "findings": findings})
	}

	fmt.Printf("Run %s: %s %s on %s (%s)\n",
		run.ID, run.Operation, run.TemplateName, run.MachineName, run.Status)
	if len(findings) == 0 {
		fmt.Println("No findings recorded.")
		return nil
	}
	for _, f := range findings {
		location := ""
		if f.Section != nil {
			location = " section=" + *f.Section
		}
		if f.Entry != nil {
			location += " entry=" + *f.Entry
		}
		fmt.Printf("  [%s]%s %s\n", f.Class, location, f.Message)
	}
	return nil
}
