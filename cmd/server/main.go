package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/dukerupert/vanir/internal"
	"github.com/dukerupert/vanir/internal/billing"
	"github.com/dukerupert/vanir/internal/dunning"
	"github.com/dukerupert/vanir/internal/fulfillment"
	"github.com/dukerupert/vanir/internal/handler/api"
	webhookhandler "github.com/dukerupert/vanir/internal/handler/webhook"
	"github.com/dukerupert/vanir/internal/notify"
	"github.com/dukerupert/vanir/internal/postgres"
	"github.com/dukerupert/vanir/internal/service"
	"github.com/dukerupert/vanir/internal/tax"
	"github.com/dukerupert/vanir/internal/telemetry"
	"github.com/dukerupert/vanir/internal/webhook"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	// Verify database connection
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection established")

	// Run migrations
	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool)

	// Initialize business metrics
	telemetry.InitBusinessMetrics("vanir")

	// Initialize Stripe billing provider
	logger.Info("Initializing Stripe billing provider...")
	stripeConfig := billing.StripeConfig{
		APIKey:        cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
	}
	billingProvider, err := billing.NewStripeProvider(stripeConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize Stripe provider: %w", err)
	}
	logger.Info("Stripe billing provider initialized", "test_mode", stripeConfig.IsTestMode())

	// Connect to NATS for notifications and fulfillment events
	logger.Info("Connecting to NATS...", "url", cfg.Nats.URL)
	conn, err := nats.Connect(cfg.Nats.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer conn.Drain()
	sink := notify.NewNatsSink(conn)
	access := fulfillment.NewNatsManager(conn)
	logger.Info("NATS connection established")

	// Initialize tax calculator
	taxCalculator := tax.NewCanadaCalculator()

	// Initialize services
	logger.Info("Initializing services...")
	orderService := service.NewOrderService(store, taxCalculator, billingProvider, sink, access, logger)
	subscriptionService := service.NewSubscriptionService(store, taxCalculator, billingProvider,
		dunning.DefaultPolicy(), sink, logger)

	// Initialize webhook dispatcher and handlers
	dispatcher := webhook.NewDispatcher(store, orderService, subscriptionService, logger)
	stripeHandler := webhookhandler.NewStripeHandler(billingProvider, dispatcher, cfg.Stripe.WebhookSecret, logger)
	subscriptionHandler := api.NewSubscriptionHandler(subscriptionService, logger)
	logger.Info("Services initialized")

	// Routes
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.POST("/webhooks/stripe", stripeHandler.HandleWebhook)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	subscriptionHandler.RegisterRoutes(e.Group("/api"))

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("Starting server", "address", addr)

	if err := e.Start(addr); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
