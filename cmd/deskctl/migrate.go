package main

import (
	"fmt"
	"io"
	"os"

	"github.com/aimerfeng/DomainDesk/internal/database"
	"github.com/aimerfeng/DomainDesk/migrations"
	"github.com/spf13/cobra"
)

type migrateOptions struct {
	databaseURL string
	dir         string
	steps       int
}

func newMigrateCmd() *cobra.Command {
	opts := &migrateOptions{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
		Long: `Runs the schema migrations against DATABASE_URL (or --database).

Migrations are embedded in the binary; --dir reads them from disk instead.`,
	}
	cmd.PersistentFlags().StringVar(&opts.databaseURL, "database", "", "database URL (defaults to DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.dir, "dir", "", "migrations directory (defaults to the embedded set)")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(opts, func(mg *database.Migrator) error {
				if err := mg.Up(); err != nil {
					return err
				}
				return printVersion(cmd.OutOrStdout(), mg)
			})
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(opts, func(mg *database.Migrator) error {
				if err := mg.Down(opts.steps); err != nil {
					return err
				}
				return printVersion(cmd.OutOrStdout(), mg)
			})
		},
	}
	down.Flags().IntVar(&opts.steps, "steps", 1, "number of migrations to roll back (0 = all)")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(opts, func(mg *database.Migrator) error {
				return printVersion(cmd.OutOrStdout(), mg)
			})
		},
	}

	cmd.AddCommand(up, down, version)
	return cmd
}

func withMigrator(opts *migrateOptions, fn func(*database.Migrator) error) error {
	url := opts.databaseURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		return fmt.Errorf("migrate: DATABASE_URL or --database is required")
	}

	mg, err := database.NewMigrator(url, migrations.FS, opts.dir)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer mg.Close()
	return fn(mg)
}

func printVersion(out io.Writer, mg *database.Migrator) error {
	version, dirty, err := mg.Version()
	if err != nil {
		return err
	}
	if version == 0 && !dirty {
		fmt.Fprintln(out, "no migrations applied")
		return nil
	}
	fmt.Fprintf(out, "schema version %d (dirty: %t)\n", version, dirty)
	return nil
}
