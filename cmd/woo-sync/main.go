package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/angelmondragon/peptidecrm-backend/internal/catalog"
	"github.com/angelmondragon/peptidecrm-backend/internal/cogs"
	"github.com/angelmondragon/peptidecrm-backend/internal/contacts"
	"github.com/angelmondragon/peptidecrm-backend/internal/orders"
	"github.com/angelmondragon/peptidecrm-backend/internal/storefront"
	"github.com/angelmondragon/peptidecrm-backend/pkg/config"
	"github.com/angelmondragon/peptidecrm-backend/pkg/db"
	"github.com/angelmondragon/peptidecrm-backend/pkg/enums"
	"github.com/angelmondragon/peptidecrm-backend/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		status      string
		after       string
		dryRun      bool
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "woo-sync",
		Short: "Pull WooCommerce orders into sales orders",
		Long: `Pages the WooCommerce orders listing and applies every order the same
way the order webhook does. Without --after the run resumes from the newest
order already synced, or the last 30 days on an empty database.

Examples:
  woo-sync --status processing
  woo-sync --after 2026-03-01T00:00:00 --dry-run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, syncFlags{status: status, after: after, dryRun: dryRun, concurrency: concurrency})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only sync orders in this storefront status")
	cmd.Flags().StringVar(&after, "after", "", "only sync orders modified after this time (RFC3339 or 2006-01-02T15:04:05)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "fetch and count orders without writing")
	cmd.Flags().IntVar(&concurrency, "concurrency", defaultConcurrency, "orders synced in parallel")
	return cmd
}

type syncFlags struct {
	status      string
	after       string
	dryRun      bool
	concurrency int
}

func run(ctx context.Context, cmd *cobra.Command, flags syncFlags) (err error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "woo-sync",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	orgID, err := cfg.Storefront.OrgID()
	if err != nil {
		return err
	}

	client, err := storefront.NewClient(
		cfg.Storefront.BaseURL,
		cfg.Storefront.ConsumerKey,
		cfg.Storefront.ConsumerSecret,
		storefront.WithRateLimit(cfg.Storefront.RequestsPerSecond),
	)
	if err != nil {
		return fmt.Errorf("storefront client: %w", err)
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() {
		err = multierr.Append(err, dbClient.Close())
	}()

	rules, err := catalog.LoadRules(cfg.Reconcile.CatalogRulesPath)
	if err != nil {
		return err
	}

	conn := dbClient.DB()
	repo := orders.NewRepository(conn)
	contactService, err := contacts.NewService(contacts.NewRepository(conn), logg)
	if err != nil {
		return err
	}
	synchronizer, err := orders.NewSynchronizer(orders.SynchronizerParams{
		Repo:     repo,
		Contacts: contactService,
		Catalog:  catalog.NewLoader(catalog.NewRepository(conn), rules),
		Cogs:     cogs.NewCalculator(cogs.NewRepository(conn), cfg.Reconcile.FeeRate()),
		Logger:   logg,
	})
	if err != nil {
		return err
	}

	latest := ""
	if flags.after == "" {
		latest, err = repo.LatestExternalModified(ctx, orgID, enums.OrderSourceWooCommerce)
		if err != nil {
			return fmt.Errorf("read last synced order: %w", err)
		}
	}
	afterTime, err := resolveAfter(flags.after, latest, time.Now().UTC())
	if err != nil {
		return err
	}

	runner := &syncRunner{lister: client, syncer: synchronizer, logg: logg}
	summary, runErr := runner.Run(ctx, syncOptions{
		OrgID:       orgID,
		Status:      flags.status,
		After:       afterTime,
		DryRun:      flags.dryRun,
		Concurrency: flags.concurrency,
	})
	summary.Print(cmd.OutOrStdout(), flags.dryRun)
	if runErr != nil {
		return runErr
	}
	if failed := summary.Err(); failed != nil {
		return fmt.Errorf("%d orders failed: %w", summary.Failed, failed)
	}
	return nil
}
