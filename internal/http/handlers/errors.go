package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/pw-escrow/backend/internal/callback"
	"github.com/pw-escrow/backend/internal/http/dto"
	"github.com/pw-escrow/backend/internal/middleware"
	"github.com/pw-escrow/backend/internal/models"
	"github.com/pw-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

// StatusFor maps a service error to an HTTP status.
func StatusFor(err error) int {
	if reason, ok := models.ReasonOf(err); ok {
		switch reason {
		case models.ReasonRoleNotAuthorized:
			return fiber.StatusForbidden
		case models.ReasonTokenNotFound:
			return fiber.StatusNotFound
		case models.ReasonTokenExpired:
			return fiber.StatusGone
		case models.ReasonGuardFailed:
			return fiber.StatusUnprocessableEntity
		default:
			return fiber.StatusConflict
		}
	}
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, models.ErrInvalidEscrow), errors.Is(err, callback.ErrMalformed):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	status := StatusFor(err)
	reqID, _ := c.Locals(middleware.CtxRequestID).(string)
	resp := dto.ErrorResponse{Error: err.Error(), RequestID: reqID}
	if reason, ok := models.ReasonOf(err); ok {
		resp.Reason = string(reason)
	}
	if status == fiber.StatusInternalServerError {
		log.Error("request failed",
			zap.String("request_id", reqID),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		resp.Error = "internal error"
	}
	return c.Status(status).JSON(resp)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg})
}
