package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/keyvault/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printJSON(cfg)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:     "init <path>",
	Short:   "Write a default configuration file",
	Example: `  keyvault config init ~/.config/keyvault/keyvault.yaml`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SaveExample(args[0]); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		printSuccess("Wrote %s", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configInitCmd)
}
