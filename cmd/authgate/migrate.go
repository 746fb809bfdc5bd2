package main

import (
	"fmt"

	"github.com/jmerrifield20/authgate/internal/config"
	"github.com/jmerrifield20/authgate/internal/database"
	"github.com/spf13/cobra"
)

var migrateDownSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded Postgres schema migrations",
	Long: `migrate applies every pending migration embedded in the binary to the
database at database.url. Use --down N to roll back the last N migrations.

SQLite stores apply their schema on open and need no migration step.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadStorage(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if cfg.Database.Driver != config.DriverPostgres {
			return fmt.Errorf("migrate only applies to the postgres driver, configured driver is %q", cfg.Database.Driver)
		}
		if migrateDownSteps > 0 {
			return database.RollbackMigrations(cfg.Database.URL, migrateDownSteps, logger)
		}
		return database.RunMigrations(cfg.Database.URL, logger)
	},
}

func init() {
	migrateCmd.Flags().IntVar(&migrateDownSteps, "down", 0, "Roll back this many migrations instead of applying")
}
