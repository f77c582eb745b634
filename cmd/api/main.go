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
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/phishsim/campaign-engine/internal/broadcast"
	"github.com/phishsim/campaign-engine/internal/config"
	"github.com/phishsim/campaign-engine/internal/gateway"
	"github.com/phishsim/campaign-engine/internal/handler"
	"github.com/phishsim/campaign-engine/internal/infra/postgresql"
	"github.com/phishsim/campaign-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/phishsim/campaign-engine/internal/infra/redis"
	"github.com/phishsim/campaign-engine/internal/observability"
	"github.com/phishsim/campaign-engine/internal/queue"
	"github.com/phishsim/campaign-engine/internal/repository"
	"github.com/phishsim/campaign-engine/internal/service"
	"github.com/phishsim/campaign-engine/internal/tracking"
	"github.com/phishsim/campaign-engine/internal/transport"
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

	if err := run(cfg, logger); err != nil {
		logger.Fatal("campaign-engine exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer rabbit.Close()

	attemptRepo := repository.NewGormAttemptRepo(db)
	campaignRepo := repository.NewGormCampaignRepo(db)
	recordRepo := repository.NewGormDispatchRecordRepo(db)

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	mailGateway, err := gateway.NewWebhookMailGateway(cfg.MailGatewayURL)
	if err != nil {
		return fmt.Errorf("mail gateway initialization failed: %w", err)
	}

	metrics := observability.NewMetrics()

	hub := broadcast.NewHub(time.Duration(cfg.BroadcastTimeoutMS)*time.Millisecond, cfg.ObserverBuffer, logger)
	hub.SetMetrics(metrics)
	defer hub.Close()

	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger)

	engine, err := service.NewLifecycleService(
		attemptRepo,
		campaignRepo,
		publisher,
		hub,
		tracking.NewGenerator(),
		logger,
	)
	if err != nil {
		return fmt.Errorf("lifecycle service initialization failed: %w", err)
	}
	engine.SetMetrics(metrics)

	worker, err := service.NewDispatchWorker(
		engine,
		attemptRepo,
		recordRepo,
		consumer,
		mailGateway,
		rateLimiter,
		cfg.TrackingBaseURL,
		cfg.WorkerConcurrency,
		logger,
	)
	if err != nil {
		return fmt.Errorf("dispatch worker initialization failed: %w", err)
	}
	worker.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:      "campaign-engine",
		ErrorHandler: transport.ErrorHandler(logger),
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb)

	if err := handler.RegisterAttemptRoutes(app, engine); err != nil {
		return fmt.Errorf("failed to register attempt routes: %w", err)
	}
	if err := handler.RegisterTrackRoutes(app, engine, cfg.LandingURL, logger); err != nil {
		return fmt.Errorf("failed to register tracking routes: %w", err)
	}
	if err := handler.RegisterEventsRoutes(app, hub, engine, logger); err != nil {
		return fmt.Errorf("failed to register event feed routes: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return worker.Start(ctx)
	})

	g.Go(func() error {
		logger.Info("campaign-engine api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		hub.Close()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
