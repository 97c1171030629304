package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/hostvault/hostvault/pkg/machine"
)

func newFactsCommand() *cobra.Command {
	var showEnv bool

	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Show the machine facts used for template resolution",
		Long: `Collect and display the facts of the current host. These are the
values machine selectors and conditions evaluate against.`,
		Example: `  # Show host facts
  hostvault facts

  # Include the captured environment variables
  hostvault facts --env

  # Machine-readable output
  hostvault facts --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := cmdLogger()
			if err != nil {
				return err
			}

			collector := machine.NewCollector(logger)
			mc, _ := collector.Collect()

			if jsonOutput {
				return printJSON(mc)
			}

			fmt.Printf("Machine:       %s\n", mc.MachineName)
			fmt.Printf("User:          %s\n", mc.UserName)
			fmt.Printf("Home:          %s\n", mc.UserProfile)
			fmt.Printf("OS:            %s\n", mc.OSVersion)
			fmt.Printf("Architecture:  %s\n", mc.Architecture)
			if mc.Domain != "" {
				fmt.Printf("Domain:        %s\n", mc.Domain)
			}
			if mc.Hardware.CPUModel != "" {
				fmt.Printf("CPU:           %s (%d cores)\n", mc.Hardware.CPUModel, mc.Hardware.CPUCores)
			}
			if mc.Hardware.MemoryMB > 0 {
				fmt.Printf("Memory:        %d MB\n", mc.Hardware.MemoryMB)
			}
			for _, d := range mc.Hardware.Displays {
				fmt.Printf("Display:       %dx%d\n", d.Width, d.Height)
			}
			if mc.Software.KernelVersion != "" {
				fmt.Printf("Kernel:        %s\n", mc.Software.KernelVersion)
			}

			if showEnv {
				names := make([]string, 0, len(mc.EnvironmentVariables))
				for name := range mc.EnvironmentVariables {
					names = append(names, name)
				}
				sort.Strings(names)
				fmt.Printf("\nEnvironment (%d variables):\n", len(names))
				for _, name := range names {
					fmt.Printf("  %s=%s\n", name, mc.EnvironmentVariables[name])
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&showEnv, "env", false, "include captured environment variables")

	return cmd
}
