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

	"github.com/DukeRupert/proofsheet/internal"
	"github.com/DukeRupert/proofsheet/internal/auth"
	"github.com/DukeRupert/proofsheet/internal/billing"
	"github.com/DukeRupert/proofsheet/internal/cache"
	"github.com/DukeRupert/proofsheet/internal/handler"
	"github.com/DukeRupert/proofsheet/internal/metrics"
	"github.com/DukeRupert/proofsheet/internal/middleware"
	"github.com/DukeRupert/proofsheet/internal/service"
	"github.com/DukeRupert/proofsheet/internal/storage"
	"github.com/DukeRupert/proofsheet/internal/store"
	"github.com/DukeRupert/proofsheet/internal/worker"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
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

	checks := map[string]handler.Pinger{}

	// Initialize store
	var st store.Store
	switch cfg.Store {
	case internal.StorePostgres:
		db, err := sql.Open("pgx", cfg.DatabaseUrl)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}

		if err := internal.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info("Database ready")

		st = store.NewPostgresStore(db)
		checks["database"] = db
	default:
		logger.Warn("Using in-memory store; data is lost on restart")
		st = store.NewMemoryStore()
	}

	// Policy cache
	policyCache, redisClient, err := newPolicyCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	// File storage
	files, fileServer, err := newStorage(cfg, logger)
	if err != nil {
		return err
	}

	// Payment gateway
	var gateway billing.Gateway
	if cfg.StripeSecretKey != "" {
		gateway = billing.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set; checkouts will never be paid")
		gateway = billing.NoopGateway{BaseURL: cfg.BaseURL}
	}

	keys, err := auth.NewClientKeyDeriver(cfg.ClientKeySecret)
	if err != nil {
		return fmt.Errorf("client key initialization failed: %w", err)
	}

	// Initialize services
	tax := service.FlatTaxRate(cfg.TaxRateBPS)
	policyService := service.NewPolicyService(st, policyCache, logger)
	assetService := service.NewAssetService(st, files, logger)
	downloadService := service.NewDownloadService(st, policyService, files, tax, cfg.DownloadURLTTL, logger)
	checkoutService := service.NewCheckoutService(st, policyService, gateway, tax, cfg.CheckoutTTL, logger)

	// Initialize middleware
	isSecure := !cfg.IsDevelopment()
	adminMw := middleware.NewAdminAuthMiddleware(cfg.AdminAPIToken, logger)
	clientMw := middleware.NewGalleryClientMiddleware(keys, logger)
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute)
	rateLimitMw := middleware.NewRateLimitMiddleware(limiter, logger)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	metricsAuthMw := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword, logger)

	requireAdmin := adminMw.RequireAdmin
	requireClient := middleware.Stack(rateLimitMw.Limit, clientMw.RequireClient)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	handler.NewHealthHandler(checks, logger).RegisterRoutes(mux)
	handler.NewPolicyHandler(policyService, logger).RegisterRoutes(mux, requireAdmin)
	handler.NewAssetHandler(assetService, logger).RegisterRoutes(mux, requireAdmin)
	handler.NewDownloadHandler(downloadService, logger).RegisterRoutes(mux, requireClient)
	handler.NewCheckoutHandler(checkoutService, cfg.BaseURL, logger).RegisterRoutes(mux, requireClient)
	handler.NewWebhookHandler(gateway, checkoutService, logger).RegisterRoutes(mux)

	if fileServer != nil {
		mux.Handle("GET /files/", rateLimitMw.Limit(http.StripPrefix("/files", fileServer)))
	}

	mux.Handle("GET /metrics", metricsAuthMw.Handler(promhttp.Handler()))

	root := middleware.Stack(
		loggingMw.Handler,
		securityMw.Handler,
		metrics.Middleware,
	)(mux)

	// ==========================================================================
	// Background work
	// ==========================================================================

	bg, err := newWorker(cfg, checkoutService, limiter, logger)
	if err != nil {
		return err
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	bg.Start(workerCtx)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env, "store", cfg.Store, "storage", cfg.StorageProvider)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		logger.Error("Server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	stopWorker()
	bg.Stop()

	logger.Info("Graceful shutdown complete")
	return nil
}

// newPolicyCache connects to Redis when REDIS_URL is set. Without it,
// policies are always read from the store.
func newPolicyCache(ctx context.Context, cfg *internal.Config, logger *slog.Logger) (cache.PolicyCache, *redis.Client, error) {
	if cfg.RedisURL == "" {
		return cache.NopCache{}, nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis ping failed: %w", err)
	}
	logger.Info("Policy cache ready", "ttl", cfg.PolicyCacheTTL)

	return cache.NewRedisCache(client, cfg.PolicyCacheTTL), client, nil
}

// newStorage builds the configured file backend. Local storage also returns
// the handler that serves its signed links.
func newStorage(cfg *internal.Config, logger *slog.Logger) (storage.Storage, http.Handler, error) {
	switch cfg.StorageProvider {
	case "r2":
		r2, err := storage.NewR2Storage(storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			Region:          cfg.R2Region,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("r2 storage initialization failed: %w", err)
		}
		return r2, nil, nil
	default:
		local, err := storage.NewLocalStorage(storage.LocalConfig{
			BasePath:   cfg.LocalStoragePath,
			BaseURL:    cfg.LocalStorageURL,
			SigningKey: []byte(cfg.FileSigningKey),
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("local storage initialization failed: %w", err)
		}
		return local, local, nil
	}
}

func newWorker(cfg *internal.Config, checkouts service.CheckoutService, limiter *middleware.RateLimiter, logger *slog.Logger) (*worker.Worker, error) {
	wcfg := worker.DefaultConfig()
	wcfg.Interval = cfg.SweeperInterval
	if wcfg.TaskTimeout > wcfg.Interval {
		wcfg.TaskTimeout = wcfg.Interval
	}

	w, err := worker.New(wcfg, logger)
	if err != nil {
		return nil, fmt.Errorf("worker initialization failed: %w", err)
	}

	if cfg.SweeperEnabled {
		w.Register(worker.ExpireCheckoutsTask(checkouts, logger))
	}
	w.Register(worker.NewTask("rate_limit_cleanup", func(ctx context.Context) error {
		if n := limiter.Cleanup(); n > 0 {
			logger.Debug("rate limiter entries evicted", "count", n)
		}
		return nil
	}))

	return w, nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
