package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/djlord-it/cronstore/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration (no connections made)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "configuration valid")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print effective configuration as JSON (secrets masked)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return invalidConfig(err)
		}
		data, err := cfg.MaskedJSON()
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cronstore version %s (commit: %s)\n", version, commit)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd, configCmd, versionCmd)
}
