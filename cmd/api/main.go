package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/kursadbilgin/rollout-engine/internal/activity"
	"github.com/kursadbilgin/rollout-engine/internal/analyzer"
	"github.com/kursadbilgin/rollout-engine/internal/config"
	"github.com/kursadbilgin/rollout-engine/internal/events"
	"github.com/kursadbilgin/rollout-engine/internal/handler"
	"github.com/kursadbilgin/rollout-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/rollout-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/rollout-engine/internal/infra/redis"
	"github.com/kursadbilgin/rollout-engine/internal/installer"
	"github.com/kursadbilgin/rollout-engine/internal/inventory"
	"github.com/kursadbilgin/rollout-engine/internal/observability"
	"github.com/kursadbilgin/rollout-engine/internal/repository"
	"github.com/kursadbilgin/rollout-engine/internal/service"
	"github.com/kursadbilgin/rollout-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := events.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	publisher := events.NewRabbitMQPublisher(rabbit)
	defer publisher.Close()

	installerClient, err := installer.NewHTTPClient(cfg.InstallerBaseURL)
	if err != nil {
		logger.Fatal("installer client initialization failed", zap.Error(err))
	}
	inventorySource, err := inventory.NewHTTPSource(cfg.InventoryBaseURL)
	if err != nil {
		logger.Fatal("inventory client initialization failed", zap.Error(err))
	}

	batchRepo := repository.NewGormBatchRepo(db)
	itemRepo := repository.NewGormItemRepo(db)
	activityRepo := repository.NewGormActivityRepo(db)

	recorder, err := activity.NewRecorder(activityRepo, logger)
	if err != nil {
		logger.Fatal("activity recorder initialization failed", zap.Error(err))
	}

	packageAnalyzer, err := analyzer.NewAnalyzer(inventorySource, logger)
	if err != nil {
		logger.Fatal("analyzer initialization failed", zap.Error(err))
	}

	pollerLock, err := infraredis.NewRedisPollerLock(rdb, 0)
	if err != nil {
		logger.Fatal("poller lock initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	reconciler, err := service.NewReconciler(
		batchRepo, itemRepo, recorder, installerClient,
		inventorySource, pollerLock, publisher, metrics, logger,
		service.ReconcilerOptions{
			MaxRuntime:       cfg.PollMaxRuntime(),
			WarmupInterval:   cfg.PollWarmupInterval(),
			SteadyInterval:   cfg.PollSteadyInterval(),
			HandleMaxLookups: cfg.PollHandleAttempts,
		},
	)
	if err != nil {
		logger.Fatal("reconciler initialization failed", zap.Error(err))
	}

	orchestrator, err := service.NewOrchestrator(
		batchRepo, itemRepo, recorder, packageAnalyzer,
		installerClient, inventorySource, pollerLock, reconciler,
		metrics, logger,
	)
	if err != nil {
		logger.Fatal("orchestrator initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(transport.CorrelationMiddleware())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterBatchRoutes(app, orchestrator); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("rollout-engine api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited", zap.Error(err))
	}
}
