package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/djlord-it/cronstore/internal/config"
	"github.com/djlord-it/cronstore/internal/docstore/postgres"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate up|down",
	Short:     "Apply or roll back the postgres document store schema",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.StoreBackend != config.BackendPostgres {
			return invalidConfig(errors.New("migrate requires STORE_BACKEND=postgres"))
		}

		store, err := openPostgres(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		switch args[0] {
		case "up":
			err = postgres.Migrate(store.DB())
		case "down":
			err = postgres.MigrateDown(store.DB())
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: done\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
