package models

import (
	"time"

	"github.com/google/uuid"
)

// ActionToken is a single-use grant for one (escrow, action, principal).
type ActionToken struct {
	Token     uuid.UUID `json:"token"`
	EscrowID  uuid.UUID `json:"escrow_id"`
	Action    Action    `json:"action"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
}

// TokenClaim is the context a caller presents together with a token.
type TokenClaim struct {
	EscrowID    uuid.UUID
	Action      Action
	PrincipalID int64
}

// Check classifies the token against claim at instant now. A used token is
// always reported as TokenAlreadyUsed, whoever presents it.
func (t *ActionToken) Check(claim TokenClaim, now time.Time) error {
	if t.Used {
		return Reject(ReasonTokenAlreadyUsed, "token %s was already used", t.Token)
	}
	if !now.Before(t.ExpiresAt) {
		return Reject(ReasonTokenExpired, "token %s expired at %s", t.Token, t.ExpiresAt.UTC().Format(time.RFC3339))
	}
	switch {
	case t.EscrowID != claim.EscrowID:
		return Reject(ReasonTokenMismatch, "token is bound to another escrow")
	case t.Action != claim.Action:
		return Reject(ReasonTokenMismatch, "token is bound to action %s", t.Action)
	case t.UserID != claim.PrincipalID:
		return Reject(ReasonTokenMismatch, "token is bound to another principal")
	}
	return nil
}
