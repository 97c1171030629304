package commands

import (
	"github.com/spf13/cobra"

	"github.com/hostvault/hostvault/pkg/executors"
)

func newRestoreCommand() *cobra.Command {
	var (
		dryRun        bool
		passphraseEnv string
	)

	cmd := &cobra.Command{
		Use:   "restore <template>",
		Short: "Restore host configuration from the vault",
		Long: `Resolve a template for this machine and copy the vaulted configuration
back onto the host. Entries with a dynamic state path are restored
there instead of their backup location. Encrypted entries are opened
with the passphrase taken from the environment.`,
		Example: `  # Restore everything the template resolves to
  hostvault restore dotfiles.yaml

  # Show what would be restored without touching the host
  hostvault restore dotfiles.yaml --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecutors(cmd, args[0], executors.OperationRestore, dryRun, passphraseEnv)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan the restore without writing to the host")
	cmd.Flags().StringVar(&passphraseEnv, "passphrase-env", "HOSTVAULT_PASSPHRASE", "environment variable holding the encryption passphrase")

	return cmd
}
