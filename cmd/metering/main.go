package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/agent-metering/config"
	"github.com/vnmchuo/agent-metering/internal/api"
	"github.com/vnmchuo/agent-metering/internal/billing"
	"github.com/vnmchuo/agent-metering/internal/identity"
	"github.com/vnmchuo/agent-metering/internal/ledger"
	"github.com/vnmchuo/agent-metering/internal/metering"
	"github.com/vnmchuo/agent-metering/internal/notify"
	"github.com/vnmchuo/agent-metering/internal/postgres"
	"github.com/vnmchuo/agent-metering/internal/pricing"
	"github.com/vnmchuo/agent-metering/internal/quota"
	"github.com/vnmchuo/agent-metering/internal/report"
	"github.com/vnmchuo/agent-metering/internal/seeder"
	"github.com/vnmchuo/agent-metering/internal/telemetry"
	"github.com/vnmchuo/agent-metering/internal/worker"
	"github.com/vnmchuo/agent-metering/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("agent-metering", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL and apply migrations
	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, cfg.PostgresDSN); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()
	log.Println("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Println("Redis connected")

	// 5. Init identity
	identityStore := identity.NewPostgresStore(pool)
	identityMiddleware := identity.NewMiddleware(identityStore, rdb)

	// 6. Init stores
	pricingStore := pricing.NewPostgresStore(pool)
	ledgerStore := ledger.NewPostgresStore(pool)
	quotaStore := quota.NewPostgresStore(pool)
	notifyStore := notify.NewPostgresStore(pool)

	// 7. Init notification dispatcher
	var sink notify.Sink
	if cfg.WebhookURL != "" {
		sink = notify.NewWebhook(cfg.WebhookURL)
	}
	dispatcher := notify.NewDispatcher(notifyStore, quotaStore, sink)

	// 8. Init metering service
	resolver := pricing.NewResolver(pricingStore, rdb)
	calculator := billing.NewCalculator(quotaStore)
	svc := metering.New(
		resolver,
		calculator,
		metering.NewPostgresStore(pool),
		dispatcher,
		cfg.DefaultQuotaLimit,
	)

	// 9. Init aggregator and rate limiter
	reports := report.NewAggregator(pricingStore, ledgerStore, quotaStore, notifyStore)
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitEPM)

	// 10. Init handler
	tracer := otel.GetTracerProvider().Tracer("agent-metering")
	handler := api.NewHandler(svc, reports, limiter, tracer, cfg.CurrencyCode)

	// 11. Seed test identity and installation if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestAPIKey(ctx, identityStore)
		seeder.SeedTestInstallation(ctx, pricingStore)
	}

	// 12. Start the periodic analyzer
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	analyzer := worker.NewAnalyzer(ledgerStore, dispatcher, cfg.AnalyzerInterval, cfg.CostAlertMinor)
	go analyzer.Run(workerCtx)

	// 13. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"agent-metering"}`))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(identityMiddleware)
		r.Post("/v1/usage", handler.HandleRecordUsage)
		r.Post("/v1/usage/estimate", handler.HandleEstimate)
		r.Get("/v1/usage/summary", handler.HandleSummary)
		r.Get("/v1/usage/analytics", handler.HandleAnalytics)
		r.Get("/v1/quotas", handler.HandleQuotas)
		r.Get("/v1/notifications", handler.HandleNotifications)
	})

	// 14. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Agent metering service starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")
	stopWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
