// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/cinderhost/cinder/internal/store"
)

// migrator is the part of store.Migrator the migrate subcommands use.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Pending() ([]uint, error)
	Close() error
}

// newMigrator is replaced in tests.
var newMigrator = func(dsn string) (migrator, error) {
	return store.NewMigrator(dsn)
}

// NewMigrateCmd creates the migrate subcommand and its children.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL datastore schema",
		Long: `Apply or roll back the migrations of the postgres datastore. The
database URL comes from --database-url, the config file or DATABASE_URL.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
				if err := m.Up(); err != nil {
					return err //nolint:wrapcheck // oops error from store
				}
				cmd.Println("Migrations completed successfully")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
				if err := m.Down(); err != nil {
					return err //nolint:wrapcheck // oops error from store
				}
				cmd.Println("All migrations rolled back")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "steps N",
			Short: "Apply N migrations, or roll back -N",
			Args:  cobra.ExactArgs(1),
			RunE: withMigrator(func(cmd *cobra.Command, m migrator, args []string) error {
				n, err := strconv.Atoi(strings.TrimSpace(args[0]))
				if err != nil || n == 0 {
					return oops.In("migrate").Code("INVALID_STEPS").With("steps", args[0]).
						Errorf("steps must be a non-zero integer")
				}
				if err := m.Steps(n); err != nil {
					return err //nolint:wrapcheck // oops error from store
				}
				cmd.Printf("Moved %d steps\n", n)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err //nolint:wrapcheck // oops error from store
				}
				if v == 0 {
					cmd.Println("No migrations applied")
					return nil
				}
				line := fmt.Sprintf("Version %d (%s)", v, migrationLabel(v))
				if dirty {
					line += " dirty"
				}
				cmd.Println(line)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Set the schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: withMigrator(func(cmd *cobra.Command, m migrator, args []string) error {
				v, err := parseForceVersion(args[0])
				if err != nil {
					return err
				}
				if err := m.Force(v); err != nil {
					return err //nolint:wrapcheck // oops error from store
				}
				cmd.Printf("Forced version %d\n", v)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "pending",
			Short: "List migrations not yet applied",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, m migrator, _ []string) error {
				pending, err := m.Pending()
				if err != nil {
					return err //nolint:wrapcheck // oops error from store
				}
				if len(pending) == 0 {
					cmd.Println("Schema is up to date")
					return nil
				}
				for _, v := range pending {
					cmd.Println(migrationLabel(v))
				}
				return nil
			}),
		},
	)
	return cmd
}

// withMigrator opens a migrator for the configured database around fn.
func withMigrator(fn func(*cobra.Command, migrator, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		dsn, err := getDatabaseURL(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		m, err := newMigrator(dsn)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := m.Close(); closeErr != nil {
				cmd.PrintErrln("warning: closing migrator:", closeErr)
			}
		}()
		return fn(cmd, m, args)
	}
}

// migrationLabel names an embedded migration, falling back to its number.
func migrationLabel(v uint) string {
	if name, err := store.MigrationName(v); err == nil && name != "" {
		return name
	}
	return fmt.Sprintf("%06d", v)
}

// getDatabaseURL prefers the configured URL over DATABASE_URL.
func getDatabaseURL(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url, nil
	}
	return "", oops.In("migrate").Code("CONFIG_INVALID").
		Hint("set --database-url or DATABASE_URL").
		Errorf("database URL is required")
}

// parseForceVersion reads the leading integer of s.
func parseForceVersion(s string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &v); err != nil {
		return 0, oops.In("migrate").Code("INVALID_VERSION").With("version", s).
			Errorf("version must be an integer")
	}
	return v, nil
}
