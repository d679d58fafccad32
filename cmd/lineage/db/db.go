package cmd

import (
	"fmt"

	"github.com/cozy-creator/lineage-server/internal/config"
	"github.com/cozy-creator/lineage-server/internal/db"
	"github.com/cozy-creator/lineage-server/internal/db/migrations"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun/migrate"
)

var Cmd = &cobra.Command{
	Use:   "db",
	Short: "Utility for database management",
}

func init() {
	Cmd.PersistentFlags().String("db-driver", "", "Database driver: 'sqlite', 'libsql' or 'pg'")
	Cmd.PersistentFlags().String("db-dsn", "", "Database DSN (Connection URL or Path)")

	setupMigrationCmd(Cmd)
}

// withMigrator connects using the loaded config and hands a migrator to fn.
func withMigrator(cmd *cobra.Command, fn func(migrator *migrate.Migrator) error) error {
	cfg := config.MustGetConfig()
	if driver, _ := cmd.Flags().GetString("db-driver"); driver != "" {
		cfg.DB.Driver = driver
	}
	if dsn, _ := cmd.Flags().GetString("db-dsn"); dsn != "" {
		cfg.DB.DSN = dsn
	}

	driver, err := db.NewConnection(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer driver.Close()

	return fn(migrate.NewMigrator(driver.GetDB(), migrations.Migrations))
}

func setupMigrationCmd(dbCmd *cobra.Command) {
	migrationCmd := &cobra.Command{
		Use:   "migration",
		Short: "Utility for handling database migrations",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "create migration tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(migrator *migrate.Migrator) error {
				return migrator.Init(cmd.Context())
			})
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "migrate database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(migrator *migrate.Migrator) error {
				if err := migrator.Lock(cmd.Context()); err != nil {
					return err
				}
				defer migrator.Unlock(cmd.Context()) //nolint:errcheck

				group, err := migrator.Migrate(cmd.Context())
				if err != nil {
					return err
				}
				if group.IsZero() {
					fmt.Printf("there are no new migrations to run (database is up to date)\n")
					return nil
				}
				fmt.Printf("migrated to %s\n", group)
				return nil
			})
		},
	}

	rollbackCmd := &cobra.Command{
		Use:   "rollback",
		Short: "rollback the last migration group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(migrator *migrate.Migrator) error {
				if err := migrator.Lock(cmd.Context()); err != nil {
					return err
				}
				defer migrator.Unlock(cmd.Context()) //nolint:errcheck

				group, err := migrator.Rollback(cmd.Context())
				if err != nil {
					return err
				}
				if group.IsZero() {
					fmt.Printf("there are no groups to roll back\n")
					return nil
				}
				fmt.Printf("rolled back %s\n", group)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the status of the migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(migrator *migrate.Migrator) error {
				status, err := migrator.MigrationsWithStatus(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("migrations: %s\n", status)
				fmt.Printf("unapplied migrations: %s\n", status.Unapplied())
				fmt.Printf("last migration group: %s\n", status.LastGroup())
				return nil
			})
		},
	}

	migrationCmd.AddCommand(
		initCmd,
		migrateCmd,
		rollbackCmd,
		statusCmd,
	)

	dbCmd.AddCommand(migrationCmd)
}
