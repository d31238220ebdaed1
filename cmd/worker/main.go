package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/pw-escrow/backend/internal/artifact"
	"github.com/pw-escrow/backend/internal/config"
	"github.com/pw-escrow/backend/internal/db"
	"github.com/pw-escrow/backend/internal/events"
	"github.com/pw-escrow/backend/internal/repositories"
	"github.com/pw-escrow/backend/internal/services"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// The worker runs the expiry sweep. Several replicas may run at once: each
// expiry goes through AttemptTransition, so a duplicate sweep loses the CAS
// and is rejected.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.MustLoad(log)
	cfg.Validate(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RedisURL != "" {
		rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		publisher = events.NewRedisPublisher(rdb, log)
	}

	store := repositories.NewPostgresStore(pool)
	notifier := services.NewEventNotifier(publisher, log)
	tokens := services.NewTokenService(store, cfg, services.SystemClock, log)
	escrows := services.NewEscrowService(store, tokens, artifact.NewUPIRenderer(cfg.PayeeName), notifier, publisher, cfg, services.SystemClock, log)
	sweeper := services.NewExpirySweeper(store, tokens, escrows, cfg.ExpirySweepBatch, services.SystemClock, log)

	log.Info("worker started",
		zap.Duration("sweep_interval", cfg.ExpirySweepInterval),
		zap.Int("sweep_batch", cfg.ExpirySweepBatch),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sweeper.Run(gctx, cfg.ExpirySweepInterval)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("worker error", zap.Error(err))
	}
	log.Info("worker stopped")
}
