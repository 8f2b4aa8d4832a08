package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultship/greenlight/internal/vault"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the .greenlight directory and vault compartments",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Vault ready at %s\n", rt.store.Root())
	for _, c := range vault.Compartments {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s/\n", c)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Config: %s\n", rt.cfg.ProjectConfigPath())
	return nil
}
