package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-dms/meridian-dms/internal/app"
	"github.com/meridian-dms/meridian-dms/internal/billing"
	"github.com/meridian-dms/meridian-dms/internal/catalog"
	"github.com/meridian-dms/meridian-dms/internal/customers"
	"github.com/meridian-dms/meridian-dms/internal/orders"
	"github.com/meridian-dms/meridian-dms/internal/platform/cache"
	"github.com/meridian-dms/meridian-dms/internal/platform/db"
	"github.com/meridian-dms/meridian-dms/internal/shared"
	"github.com/meridian-dms/meridian-dms/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis connect, catalog cache disabled", slog.Any("error", err))
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)

	customerRepo := customers.NewRepository(dbpool)
	catalogRepo := catalog.NewRepository(dbpool)
	catalogService := catalog.NewService(logger, catalogRepo, redisClient)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	billingRepo := billing.NewRepository(dbpool)
	billingService := billing.NewService(logger, billingRepo, auditLogger)
	billingHandler := billing.NewHandler(logger, billingService)

	ordersRepo := orders.NewRepository(dbpool)
	ordersService := orders.NewService(logger, ordersRepo, customerRepo, catalogRepo, billingService, auditLogger)
	ordersHandler := orders.NewHandler(logger, ordersService)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	jobHandler := jobs.NewHandler(jobsClient, inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Pool:           dbpool,
		OrdersHandler:  ordersHandler,
		BillingHandler: billingHandler,
		CatalogHandler: catalogHandler,
		JobHandler:     jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server run", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
