package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"LendingLedger/internal/config"
	"LendingLedger/internal/observability"
	"LendingLedger/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply, roll back or list SQL migrations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(ctx context.Context, cmd *cobra.Command, m *persistence.Migrator) error {
				n, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "roll back the last migration",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(ctx context.Context, cmd *cobra.Command, m *persistence.Migrator) error {
				if err := m.Down(ctx); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "rolled back last migration")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "list applied migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(ctx context.Context, cmd *cobra.Command, m *persistence.Migrator) error {
				applied, err := m.Applied(ctx)
				if err != nil {
					return err
				}
				for _, a := range applied {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", a.Version, a.Filename, a.AppliedAt.Format(time.RFC3339))
				}
				return nil
			}),
		},
	)
	return cmd
}

func withMigrator(fn func(context.Context, *cobra.Command, *persistence.Migrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		store, err := config.LoadStore()
		if err != nil {
			return err
		}
		db, err := sql.Open("postgres", store.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()
		return fn(ctx, cmd, persistence.NewMigrator(db, store.MigrationsDir, observability.NewLogger("persistence")))
	}
}
