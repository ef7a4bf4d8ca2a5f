package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/angelmondragon/peptidecrm-backend/pkg/config"
	"github.com/angelmondragon/peptidecrm-backend/pkg/db"
	"github.com/angelmondragon/peptidecrm-backend/pkg/logger"
	"github.com/angelmondragon/peptidecrm-backend/pkg/migrate"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dir string

	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the sales order schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dir, "dir", migrate.DefaultDir, "goose migrations directory; the default is embedded in the binary")

	root.AddCommand(
		&cobra.Command{
			Use:   "create <name>",
			Short: "Write an empty timestamped migration",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := migrate.CreateSQLMigration(dir, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "created migration:", path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check filenames, annotations and portability",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := migrate.ValidateDir(dir); err != nil {
					return fmt.Errorf("migration validation failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migration validation passed")
				return nil
			},
		},
		gooseCmd(&dir, "up", "Apply all pending migrations"),
		gooseCmd(&dir, "down", "Roll back the latest migration"),
		gooseCmd(&dir, "status", "Print applied and pending migrations"),
		&cobra.Command{
			Use:   "version <YYYYMMDDHHMMSS>",
			Short: "Migrate up or down to an exact version",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDB(cmd.Context(), "version", dir, func(ctx context.Context, conn *sql.DB, dialect string) error {
					return migrate.MigrateToVersion(ctx, conn, dialect, dir, args[0])
				})
			},
		},
	)
	return root
}

func gooseCmd(dir *string, command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   command,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd.Context(), command, *dir, func(ctx context.Context, conn *sql.DB, dialect string) error {
				if err := migrate.Run(ctx, conn, dialect, *dir, command); err != nil {
					return fmt.Errorf("goose %s failed: %w", command, err)
				}
				return nil
			})
		},
	}
}

// withDB loads config, opens the configured database and hands fn the raw
// connection and goose dialect.
func withDB(ctx context.Context, command, dir string, fn func(context.Context, *sql.DB, string) error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env":    cfg.App.Env,
		"cmd":    command,
		"dir":    dir,
		"driver": cfg.DB.Driver,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "database unavailable", err)
		return err
	}
	defer func() {
		err = multierr.Append(err, dbClient.Close())
	}()

	conn, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("extract sql.DB: %w", err)
	}

	logg.Info(ctx, "migrate ready")
	if err := fn(ctx, conn, migrate.Dialect(cfg.DB.Driver)); err != nil {
		logg.Error(ctx, "migration command failed", err)
		return err
	}
	logg.Info(ctx, "migration command completed")
	return nil
}
