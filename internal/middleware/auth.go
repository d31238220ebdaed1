package middleware

import (
	"crypto/subtle"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/pw-escrow/backend/internal/auth"
	"github.com/pw-escrow/backend/internal/config"
	"go.uber.org/zap"
)

const (
	CtxPrincipalID = "principal_id"
	CtxUsername    = "username"

	HeaderInternalKey = "X-Internal-Key"
	HeaderPrincipalID = "X-Principal-ID"
)

// AuthMiddleware authenticates mini app requests by session JWT.
func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(CtxPrincipalID, claims.PrincipalID)
		c.Locals(CtxUsername, claims.Username)
		return c.Next()
	}
}

// InternalAuthMiddleware authenticates the bot front-end. The bot has already
// identified the Telegram user and passes the id in X-Principal-ID.
func InternalAuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(HeaderInternalKey)
		if cfg.InternalAPIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(cfg.InternalAPIKey)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid internal key"})
		}

		id, err := strconv.ParseInt(c.Get(HeaderPrincipalID), 10, 64)
		if err != nil || id <= 0 {
			log.Debug("bad principal header", zap.String("value", c.Get(HeaderPrincipalID)))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "X-Principal-ID must be a telegram user id"})
		}

		c.Locals(CtxPrincipalID, id)
		return c.Next()
	}
}

func GetPrincipalID(c *fiber.Ctx) int64 {
	id, _ := c.Locals(CtxPrincipalID).(int64)
	return id
}

// AdminMiddleware requires an admin principal.
func AdminMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.IsAdmin(GetPrincipalID(c)) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin access required"})
		}
		return c.Next()
	}
}
