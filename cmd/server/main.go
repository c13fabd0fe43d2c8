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
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/jobtrack/internal/app"
	"github.com/odyssey-erp/jobtrack/internal/documents"
	"github.com/odyssey-erp/jobtrack/internal/observability"
	"github.com/odyssey-erp/jobtrack/internal/payment"
	"github.com/odyssey-erp/jobtrack/internal/platform/cache"
	"github.com/odyssey-erp/jobtrack/internal/platform/db"
	"github.com/odyssey-erp/jobtrack/internal/production"
	"github.com/odyssey-erp/jobtrack/internal/shared"
	"github.com/odyssey-erp/jobtrack/internal/stock"
	"github.com/odyssey-erp/jobtrack/internal/workflow"
	"github.com/odyssey-erp/jobtrack/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
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

	blobs, err := documents.NewMinioStore(ctx, documents.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		logger.Error("connect object store", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	locker := shared.NewRedisLocker(redisClient, cfg.JobLockTTL)

	stockLedger := stock.NewLedger(stock.NewRepository(dbpool), idempotencyStore, metrics, logger)
	tracker := production.NewTracker(production.NewRepository(dbpool), logger)
	documentService := documents.NewService(documents.NewRepository(dbpool), blobs, cfg.DocumentURLTTL, logger)
	reconciler := payment.NewReconciler(cfg.PaymentPolicy())

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queue, err := jobs.NewClient(redisOpts, logger)
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	engine := workflow.NewEngine(workflow.Deps{
		Repo:       workflow.NewRepository(dbpool),
		Ledger:     stockLedger,
		Tracker:    tracker,
		Documents:  documentService,
		Audit:      auditLogger,
		Queue:      queue,
		Locker:     locker,
		Reconciler: reconciler,
		Observer:   metrics,
		Logger:     logger,
	})

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		WorkflowHandler:   workflow.NewHandler(logger, engine),
		StockHandler:      stock.NewHandler(logger, stockLedger),
		PaymentHandler:    payment.NewHandler(logger, reconciler),
		ProductionHandler: production.NewHandler(logger, tracker),
		DocumentsHandler:  documents.NewHandler(logger, documentService),
		JobHandler:        jobs.NewHandler(inspector, logger),
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
