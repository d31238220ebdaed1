package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/pw-escrow/backend/internal/config"
	"github.com/pw-escrow/backend/internal/http/dto"
	"github.com/pw-escrow/backend/internal/middleware"
	"github.com/pw-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

type UserHandler struct {
	users repositories.UserStore
	cfg   *config.Config
	log   *zap.Logger
}

func NewUserHandler(users repositories.UserStore, cfg *config.Config, log *zap.Logger) *UserHandler {
	return &UserHandler{users: users, cfg: cfg, log: log}
}

// GetMe returns the caller's principal id and cached Telegram profile. A bot
// user who never opened the mini app has no profile yet.
func (h *UserHandler) GetMe(c *fiber.Ctx) error {
	id := middleware.GetPrincipalID(c)
	resp := dto.MeResponse{ID: id, IsAdmin: h.cfg.IsAdmin(id)}

	user, err := h.users.GetUser(c.UserContext(), id)
	switch {
	case err == nil:
		resp.User = user
		resp.Username = user.DisplayName()
	case !errors.Is(err, repositories.ErrNotFound):
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: resp})
}
