package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/pw-escrow/backend/internal/config"
	"github.com/pw-escrow/backend/internal/db"
	"github.com/pw-escrow/backend/internal/events"
	"github.com/pw-escrow/backend/internal/services"
	"go.uber.org/zap"
)

// bot-notify-bridge subscribes to events:bot and forwards each notification
// to the bot front-end's /internal/notify.
func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.MustLoad(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	bot := services.NewBotClient(cfg.BotInternalURL, cfg.InternalAPIKey, log)

	err = subscriber.Subscribe(ctx, events.ChannelBot, func(event events.Event) {
		if err := services.ForwardNotification(ctx, bot, event); err != nil {
			log.Warn("failed to forward notification", zap.String("type", event.Type), zap.Error(err))
		}
	})
	if err != nil {
		log.Fatal("failed to subscribe", zap.Error(err))
	}

	log.Info("bot-notify-bridge started")
	<-ctx.Done()
	log.Info("shutting down bot-notify-bridge")
}
