package dto

import (
	"time"

	"github.com/pw-escrow/backend/internal/models"
)

type AuthResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type MeResponse struct {
	ID       int64        `json:"id"`
	User     *models.User `json:"user,omitempty"`
	IsAdmin  bool         `json:"is_admin"`
	Username string       `json:"username,omitempty"`
}

// EscrowView is an escrow as seen by one principal.
type EscrowView struct {
	Escrow *models.Escrow `json:"escrow"`
	Total  string         `json:"total"`
	Roles  string         `json:"roles"`
}

// OfferResponse is an issued action token, ready to attach to a button.
type OfferResponse struct {
	Action       models.Action `json:"action"`
	Token        string        `json:"token"`
	CallbackData string        `json:"callback_data"`
	ExpiresAt    time.Time     `json:"expires_at"`
}
