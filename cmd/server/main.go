package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/makaohq/makao/internal"
	"github.com/makaohq/makao/internal/domain"
	"github.com/makaohq/makao/internal/gateway"
	"github.com/makaohq/makao/internal/handler/api"
	"github.com/makaohq/makao/internal/jobs"
	"github.com/makaohq/makao/internal/middleware"
	"github.com/makaohq/makao/internal/notify"
	"github.com/makaohq/makao/internal/postgres"
	"github.com/makaohq/makao/internal/router"
	"github.com/makaohq/makao/internal/routes"
	"github.com/makaohq/makao/internal/service"
	"github.com/makaohq/makao/internal/telemetry"
	"github.com/makaohq/makao/internal/worker"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Register billing metrics
	telemetry.InitBusinessMetrics(cfg.MetricsNamespace)

	// Run migrations through database/sql (goose needs *sql.DB)
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed")

	// Application connection pool
	pool, err := postgres.NewPool(ctx, cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	// Stores
	invoiceStore := postgres.NewInvoiceStore(pool)
	paymentStore := postgres.NewPaymentStore(pool)
	jobStore := postgres.NewJobStore(pool)
	resolver := postgres.NewAccessResolver(pool)
	prefs := postgres.NewPreferenceStore(pool)

	// Event publisher: NATS when enabled, otherwise a silent sink.
	var (
		notifier  domain.NotificationDispatcher
		snapshots domain.SnapshotRecorder
		tokens    domain.TokenIssuer
	)
	if cfg.Nats.Enabled {
		publisher, err := notify.Connect(cfg.Nats.URL, cfg.Nats.SubjectPrefix, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer publisher.Close()
		notifier, snapshots, tokens = publisher, publisher, publisher
		logger.Info("NATS publisher connected", "url", cfg.Nats.URL)
	} else {
		sink := notify.Noop{}
		notifier, snapshots, tokens = sink, sink, sink
		logger.Info("Event publishing disabled, using noop sink")
	}

	// Payment gateway verifier
	var verifier domain.GatewayVerifier
	if cfg.Gateway.Mock {
		verifier = &gateway.MockVerifier{}
		logger.Info("Payment gateway in mock mode")
	} else {
		verifier = gateway.NewStripeVerifier(cfg.Gateway.SecretKey, logger)
		logger.Info("Payment gateway verifier initialized")
	}

	// Billing services
	alloc := service.NewSequenceAllocator(invoiceStore, paymentStore)
	invoiceService := service.NewInvoiceService(
		invoiceStore,
		paymentStore,
		alloc,
		resolver,
		prefs,
		notifier,
		snapshots,
		tokens,
		logger,
	)
	paymentIntake := service.NewPaymentIntake(paymentStore, alloc, resolver, verifier, logger)
	reconciler := service.NewReconciler(paymentStore, invoiceStore, invoiceService, resolver, logger)
	sweeper := service.NewOverdueSweeper(invoiceStore, prefs, notifier, logger)

	// Background worker and job scheduling
	if cfg.Worker.Enabled {
		jobWorker := worker.NewWorker(jobStore, reconciler, sweeper, worker.Config{
			PollInterval:   cfg.Worker.PollInterval,
			MaxConcurrency: cfg.Worker.MaxConcurrency,
			Queue:          jobs.BillingQueue,
		}, logger)
		go func() {
			if err := jobWorker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("worker stopped", "error", err)
			}
		}()
		go scheduleBillingJobs(ctx, jobStore, cfg.Worker, logger)
	}

	// HTTP surface
	metrics := middleware.NewMetrics(cfg.MetricsNamespace)

	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		metrics.Middleware,
	)

	// Probe and metrics endpoints sit outside the identity middleware.
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		metrics.Handler().ServeHTTP(w, req)
	})
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := pool.Ping(req.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	apiRouter := r.Group(
		middleware.WithActor,
		middleware.WithRequestLogger(logger),
	)
	routes.RegisterAPIRoutes(apiRouter, routes.APIDeps{
		Invoices: api.NewInvoiceHandler(invoiceService, logger),
		Payments: api.NewPaymentHandler(paymentIntake, reconciler, logger),
		Ops:      api.NewOpsHandler(sweeper, logger),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting billing server", "address", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}

// scheduleBillingJobs enqueues the recurring sweep and reconcile jobs on
// their configured intervals. The worker's claim query keeps concurrent
// schedulers from double-processing.
func scheduleBillingJobs(ctx context.Context, store jobs.Store, cfg internal.WorkerConfig, logger *slog.Logger) {
	sweepTicker := time.NewTicker(cfg.SweepInterval)
	defer sweepTicker.Stop()
	reconcileTicker := time.NewTicker(cfg.ReconcileInterval)
	defer reconcileTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-sweepTicker.C:
			payload := jobs.SweepOverduePayload{AsOf: time.Now()}
			if err := jobs.EnqueueSweepOverdue(ctx, store, payload, time.Now()); err != nil {
				logger.Error("failed to enqueue overdue sweep", "error", err)
			}

		case <-reconcileTicker.C:
			if err := jobs.EnqueueAutoReconcile(ctx, store, jobs.AutoReconcilePayload{}, time.Now()); err != nil {
				logger.Error("failed to enqueue auto-reconcile", "error", err)
			}
		}
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
