package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	Long: `Apply the migrations in DB_MIGRATION_FOLDER_PATH (db/pg by default).
DB_MIGRATION_VERSION pins a target version and DB_MIGRATION_FORCE clears a
dirty schema before migrating.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, true)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.close(ctx)
		}()

		if err := a.startup.Start(cmd.Context()); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
		a.logger.Info("Migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
