package handlers

import (
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/pw-escrow/backend/internal/callback"
	"github.com/pw-escrow/backend/internal/events"
	"github.com/pw-escrow/backend/internal/models"
	"github.com/pw-escrow/backend/internal/repositories"
	"github.com/stretchr/testify/assert"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.Reject(models.ReasonRoleNotAuthorized, ""), fiber.StatusForbidden},
		{models.Reject(models.ReasonTokenNotFound, ""), fiber.StatusNotFound},
		{models.Reject(models.ReasonTokenExpired, ""), fiber.StatusGone},
		{models.Reject(models.ReasonTokenAlreadyUsed, ""), fiber.StatusConflict},
		{models.Reject(models.ReasonTokenMismatch, ""), fiber.StatusConflict},
		{models.Reject(models.ReasonInvalidTransition, ""), fiber.StatusConflict},
		{models.Reject(models.ReasonEscrowTerminal, ""), fiber.StatusConflict},
		{models.Reject(models.ReasonConcurrentModification, ""), fiber.StatusConflict},
		{models.Reject(models.ReasonGuardFailed, ""), fiber.StatusUnprocessableEntity},
		{fmt.Errorf("escrow x: %w", repositories.ErrNotFound), fiber.StatusNotFound},
		{fmt.Errorf("%w: zero", models.ErrInvalidEscrow), fiber.StatusBadRequest},
		{callback.ErrMalformed, fiber.StatusBadRequest},
		{fmt.Errorf("connection refused"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestRecipients(t *testing.T) {
	local := events.Event{Payload: map[string]any{"buyer_id": int64(101), "seller_id": int64(202)}}
	assert.Equal(t, []int64{101, 202}, Recipients(local))

	// After a JSON round trip through Redis.
	remote := events.Event{Payload: map[string]any{"buyer_id": float64(101), "seller_id": float64(202)}}
	assert.Equal(t, []int64{101, 202}, Recipients(remote))

	assert.Empty(t, Recipients(events.Event{Type: "bot_notification"}))
}
