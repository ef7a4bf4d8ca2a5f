package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angelmondragon/peptidecrm-backend/api/routes"
	"github.com/angelmondragon/peptidecrm-backend/internal/catalog"
	"github.com/angelmondragon/peptidecrm-backend/internal/checkout"
	"github.com/angelmondragon/peptidecrm-backend/internal/cogs"
	"github.com/angelmondragon/peptidecrm-backend/internal/contacts"
	"github.com/angelmondragon/peptidecrm-backend/internal/orders"
	"github.com/angelmondragon/peptidecrm-backend/internal/webhooks"
	"github.com/angelmondragon/peptidecrm-backend/pkg/config"
	"github.com/angelmondragon/peptidecrm-backend/pkg/db"
	"github.com/angelmondragon/peptidecrm-backend/pkg/logger"
	"github.com/angelmondragon/peptidecrm-backend/pkg/metrics"
	"github.com/angelmondragon/peptidecrm-backend/pkg/migrate"
	"github.com/angelmondragon/peptidecrm-backend/pkg/payments"
	"github.com/angelmondragon/peptidecrm-backend/pkg/redis"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reconcileMetrics := metrics.NewReconcileMetrics(registry)

	provider, err := payments.NewProvider(cfg.Payments)
	if err != nil {
		logg.Error(ctx, "failed to configure payment provider", err)
		os.Exit(1)
	}

	orgID, err := cfg.Storefront.OrgID()
	if err != nil {
		logg.Error(ctx, "invalid default organization", err)
		os.Exit(1)
	}

	rules, err := catalog.LoadRules(cfg.Reconcile.CatalogRulesPath)
	if err != nil {
		logg.Error(ctx, "failed to load catalog rules", err)
		os.Exit(1)
	}

	conn := dbClient.DB()
	catalogRepo := catalog.NewRepository(conn)
	calculator := cogs.NewCalculator(cogs.NewRepository(conn), cfg.Reconcile.FeeRate())

	contactService, err := contacts.NewService(contacts.NewRepository(conn), logg)
	if err != nil {
		logg.Error(ctx, "failed to create contact service", err)
		os.Exit(1)
	}

	synchronizer, err := orders.NewSynchronizer(orders.SynchronizerParams{
		Repo:     orders.NewRepository(conn),
		Contacts: contactService,
		Catalog:  catalog.NewLoader(catalogRepo, rules),
		Cogs:     calculator,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create order synchronizer", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		TX:       dbClient,
		Repo:     checkout.NewRepository(conn),
		Catalog:  catalogRepo,
		Costs:    calculator,
		Provider: provider,
		Metrics:  reconcileMetrics,
		Logger:   logg,
		SiteURL:  cfg.Payments.SiteURL,
	})
	if err != nil {
		logg.Error(ctx, "failed to create checkout service", err)
		os.Exit(1)
	}

	deliveryGuard, err := webhooks.NewDeliveryGuard(redisClient, cfg.Reconcile.WebhookDedupeTTL)
	if err != nil {
		logg.Error(ctx, "failed to create webhook delivery guard", err)
		os.Exit(1)
	}

	if cfg.Storefront.WebhookSecret == "" {
		logg.Warn(ctx, "storefront webhook secret not set; woocommerce deliveries are accepted unsigned")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	runCtx := logg.WithFields(ctx, map[string]any{
		"env":              cfg.App.Env,
		"addr":             addr,
		"instance":         id,
		"payment_provider": provider.Name(),
		"org_id":           orgID.String(),
	})
	logg.Info(runCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			orgID,
			provider,
			checkoutService,
			synchronizer,
			deliveryGuard,
			reconcileMetrics,
			registry,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(runCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(runCtx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(runCtx, "api server shutdown failed", err)
		}
	}
}
