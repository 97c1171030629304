package commands

import (
	"github.com/spf13/cobra"

	"github.com/hostvault/hostvault/pkg/executors"
)

func newBackupCommand() *cobra.Command {
	var (
		dryRun        bool
		passphraseEnv string
	)

	cmd := &cobra.Command{
		Use:   "backup <template>",
		Short: "Back up host configuration into the vault",
		Long: `Resolve a template for this machine and copy the configuration it
names into the vault. File entries marked encrypt are sealed with the
passphrase taken from the environment.`,
		Example: `  # Back up everything the template resolves to
  hostvault backup dotfiles.yaml

  # Show what would be backed up without copying anything
  hostvault backup dotfiles.yaml --dry-run

  # Seal encrypted entries with a passphrase from a custom variable
  HV_KEY=... hostvault backup dotfiles.yaml --passphrase-env HV_KEY`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecutors(cmd, args[0], executors.OperationBackup, dryRun, passphraseEnv)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan the backup without writing to the vault")
	cmd.Flags().StringVar(&passphraseEnv, "passphrase-env", "HOSTVAULT_PASSPHRASE", "environment variable holding the encryption passphrase")

	return cmd
}
