package main

import (
	"context"
	"fmt"
	"time"

	"github.com/metergate/metergate/adapters/postgres"
	"github.com/metergate/metergate/adapters/sqlite"
	"github.com/metergate/metergate/config"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply pending database migrations.

The serve command migrates automatically on startup; this command exists
for deployments that run migrations as a separate step.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch cfg.Database.Driver {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		db, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

	default:
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	fmt.Printf("%s Migrations applied (%s)\n", checkMark, cfg.Database.Driver)
	return nil
}
