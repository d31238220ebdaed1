package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/pw-escrow/backend/internal/artifact"
	"github.com/pw-escrow/backend/internal/config"
	"github.com/pw-escrow/backend/internal/db"
	"github.com/pw-escrow/backend/internal/events"
	apphttp "github.com/pw-escrow/backend/internal/http"
	"github.com/pw-escrow/backend/internal/http/handlers"
	"github.com/pw-escrow/backend/internal/repositories"
	"github.com/pw-escrow/backend/internal/services"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.MustLoad(log)
	cfg.Validate(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Store and events
	store := repositories.NewPostgresStore(pool)
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	notifier := services.NewEventNotifier(publisher, log)
	tokens := services.NewTokenService(store, cfg, services.SystemClock, log)
	escrows := services.NewEscrowService(store, tokens, artifact.NewUPIRenderer(cfg.PayeeName), notifier, publisher, cfg, services.SystemClock, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(store, cfg, log)
	userHandler := handlers.NewUserHandler(store, cfg, log)
	escrowHandler := handlers.NewEscrowHandler(escrows, tokens, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to start ws hub", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, userHandler, escrowHandler, wsHub)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%s", cfg.APIPort)
		log.Info("starting API server", zap.String("addr", addr))
		return app.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
