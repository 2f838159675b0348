package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/NorikGo/tailormp-sub002/api/routes"
	"github.com/NorikGo/tailormp-sub002/internal/cart"
	"github.com/NorikGo/tailormp-sub002/internal/catalog"
	"github.com/NorikGo/tailormp-sub002/internal/checkout"
	"github.com/NorikGo/tailormp-sub002/internal/orders"
	payment "github.com/NorikGo/tailormp-sub002/internal/webhooks/payment"
	"github.com/NorikGo/tailormp-sub002/pkg/config"
	"github.com/NorikGo/tailormp-sub002/pkg/db"
	"github.com/NorikGo/tailormp-sub002/pkg/logger"
	"github.com/NorikGo/tailormp-sub002/pkg/metrics"
	"github.com/NorikGo/tailormp-sub002/pkg/migrate"
	"github.com/NorikGo/tailormp-sub002/pkg/outbox"
	"github.com/NorikGo/tailormp-sub002/pkg/redis"
	"github.com/NorikGo/tailormp-sub002/pkg/stripe"
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
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	orderMetrics := metrics.NewOrderMetrics(registry)
	checkoutMetrics := metrics.NewCheckoutMetrics(registry)
	webhookMetrics := metrics.NewWebhookMetrics(registry)
	httpMetrics := metrics.NewHTTPMetrics(registry)

	conn := dbClient.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	catalogRepo := catalog.NewRepository(conn)
	orderRepo := orders.NewRepository(conn)

	cartService, err := cart.NewService(cart.ServiceParams{
		Repository:        cart.NewRepository(conn),
		TransactionRunner: dbClient,
		Catalog:           catalogRepo,
		Outbox:            emitter,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cart service", err)
		os.Exit(1)
	}

	orderService, err := orders.NewService(orders.ServiceParams{
		Repository:        orderRepo,
		TransactionRunner: dbClient,
		Outbox:            emitter,
		Metrics:           orderMetrics,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	queryService, err := orders.NewQueryService(orderRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create order query service", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		TransactionRunner: dbClient,
		Orders:            orderRepo,
		Lifecycle:         orderService,
		Sessions:          queryService,
		Carts:             cartService,
		Catalog:           catalogRepo,
		Gateway:           stripeClient,
		Checkout:          cfg.Checkout,
		Stripe:            cfg.Stripe,
		Metrics:           checkoutMetrics,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	guard, err := payment.NewRedisGuard(redisClient, cfg.Webhook.IdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}
	processor, err := payment.NewProcessor(payment.ProcessorParams{
		Verifier: stripeClient,
		Orders:   orderRepo,
		Machine:  orderService,
		Carts:    cartService,
		Guard:    guard,
		Refunder: stripeClient,
		Metrics:  webhookMetrics,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook processor", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"stripe_env": stripeClient.Environment(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			DBPinger:    dbClient,
			RedisPinger: redisClient,
			Idempotency: redisClient,
			Gatherer:    registry,
			HTTPMetrics: httpMetrics,
			Carts:       cartService,
			Checkout:    checkoutService,
			Orders:      orderService,
			Query:       queryService,
			Webhooks:    processor,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
