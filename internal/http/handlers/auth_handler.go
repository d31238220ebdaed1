package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pw-escrow/backend/internal/auth"
	"github.com/pw-escrow/backend/internal/config"
	"github.com/pw-escrow/backend/internal/http/dto"
	"github.com/pw-escrow/backend/internal/models"
	"github.com/pw-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

type AuthHandler struct {
	users repositories.UserStore
	cfg   *config.Config
	log   *zap.Logger
}

func NewAuthHandler(users repositories.UserStore, cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{users: users, cfg: cfg, log: log}
}

// TelegramAuth exchanges mini app initData for a session JWT.
func (h *AuthHandler) TelegramAuth(c *fiber.Ctx) error {
	var req dto.AuthTelegramRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.InitData == "" {
		return badRequest(c, "init_data is required")
	}

	session, err := auth.ValidateTelegramWebAppData(req.InitData, h.cfg.WebAppSecret, h.cfg.InitDataMaxAge, time.Now())
	if err != nil {
		h.log.Debug("telegram auth validation failed", zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	tg := session.User
	user := &models.User{
		ID:        tg.ID,
		Username:  optional(tg.Username),
		FirstName: optional(tg.FirstName),
		LastName:  optional(tg.LastName),
	}
	if err := h.users.UpsertUser(c.UserContext(), user); err != nil {
		h.log.Error("failed to upsert user", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, tg.ID, tg.Username, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("failed to generate jwt", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	return c.JSON(dto.AuthResponse{
		Token: token,
		User:  user,
	})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
