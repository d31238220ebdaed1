package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/pw-escrow/backend/internal/config"
	"github.com/pw-escrow/backend/internal/http/handlers"
	"github.com/pw-escrow/backend/internal/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SetupRouter mounts the public mini app API under /api/v1 and the bot
// front-end API under /internal/v1. rdb may be nil to disable rate limiting.
func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	userHandler *handlers.UserHandler,
	escrowHandler *handlers.EscrowHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Auth (public)
	api.Post("/auth/telegram", authHandler.TelegramAuth)

	// Mini app, authenticated by session JWT
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))
	if rdb != nil {
		protected.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMin, time.Minute, log))
	}
	protected.Get("/me", userHandler.GetMe)
	mountEscrowRoutes(protected, escrowHandler)

	// Bot front-end, authenticated by shared key
	internal := app.Group("/internal/v1", middleware.InternalAuthMiddleware(cfg, log))
	internal.Get("/me", userHandler.GetMe)
	mountEscrowRoutes(internal, escrowHandler)

	// WebSocket
	if wsHub != nil {
		app.Use("/ws", handlers.WSUpgradeMiddleware())
		app.Get("/ws", websocket.New(wsHub.HandleWS))
	}
}

func mountEscrowRoutes(r fiber.Router, h *handlers.EscrowHandler) {
	r.Post("/escrows", h.CreateEscrow)
	r.Get("/escrows/code/:code", h.GetEscrowByCode)
	r.Get("/escrows/:id", h.GetEscrow)
	r.Get("/escrows/:id/events", h.GetEvents)
	r.Put("/escrows/:id/terms", h.UpdateTerms)
	r.Post("/escrows/:id/tokens", h.IssueToken)
	r.Post("/escrows/:id/offers", h.IssueOffers)
	r.Post("/escrows/:id/transitions", h.Transition)
	r.Get("/escrows/:id/payment-qr", h.PaymentQR)
	r.Post("/callbacks", h.Callback)
}
