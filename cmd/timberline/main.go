package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/timberline-erp/timberline/internal/app"
	"github.com/timberline-erp/timberline/internal/delivery"
	"github.com/timberline-erp/timberline/internal/interstore"
	"github.com/timberline-erp/timberline/internal/ledger"
	"github.com/timberline-erp/timberline/internal/observability"
	"github.com/timberline-erp/timberline/internal/payments"
	"github.com/timberline-erp/timberline/internal/platform/cache"
	"github.com/timberline-erp/timberline/internal/platform/db"
	"github.com/timberline-erp/timberline/internal/sales"
	"github.com/timberline-erp/timberline/internal/shared"
	"github.com/timberline-erp/timberline/internal/summary"
	"github.com/timberline-erp/timberline/jobs"
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
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	locker := shared.NewEntityLocker(redisClient, cfg.LockTTL)
	status := shared.NewServiceStatus()

	ledgerRepo := ledger.NewRepository(dbpool)
	stockService := ledger.NewService(ledgerRepo, auditLogger, ledger.ServiceConfig{
		AllowUncheckedBooking: cfg.AllowUncheckedBooking,
	})

	deliveryRepo := delivery.NewRepository(dbpool)
	deliveryService := delivery.NewService(deliveryRepo, stockService, locker, auditLogger, logger)

	salesRepo := sales.NewRepository(dbpool)
	salesService := sales.NewService(salesRepo, stockService, locker, auditLogger, logger)

	interstoreRepo := interstore.NewRepository(dbpool)
	interstoreService := interstore.NewService(interstoreRepo, stockService, locker, auditLogger, logger)

	paymentsRepo := payments.NewRepository(dbpool)
	paymentsService := payments.NewService(paymentsRepo, idempotencyStore, auditLogger, logger)

	summaryRepo := summary.NewRepository(dbpool)
	summaryService := summary.NewService(summaryRepo, logger)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Status:            status,
		LedgerHandler:     ledger.NewHandler(logger, stockService),
		SalesHandler:      sales.NewHandler(logger, salesService),
		DeliveryHandler:   delivery.NewHandler(logger, deliveryService),
		InterstoreHandler: interstore.NewHandler(logger, interstoreService),
		PaymentsHandler:   payments.NewHandler(logger, paymentsService),
		SummaryHandler:    summary.NewHandler(logger, summaryService),
		JobHandler:        jobHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
