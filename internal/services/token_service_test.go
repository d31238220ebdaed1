package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pw-escrow/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueChecksCurrentState(t *testing.T) {
	h := newHarness(t)
	e := h.create(t)

	_, err := h.tokens.Issue(context.Background(), e.ID, models.ActionReleaseConfirmed, buyerID, 0)
	requireReason(t, err, models.ReasonInvalidTransition)

	_, err = h.tokens.Issue(context.Background(), e.ID, "RELEASE", buyerID, 0)
	requireReason(t, err, models.ReasonInvalidTransition)

	_, err = h.tokens.Issue(context.Background(), e.ID, models.ActionFormSubmitted, strangerID, 0)
	requireReason(t, err, models.ReasonRoleNotAuthorized)

	logs := h.audit(t, e)
	last := logs[len(logs)-1]
	assert.Equal(t, models.AuditTokenIssueRejected, last.Action)
	assert.Equal(t, string(models.ReasonRoleNotAuthorized), last.PayloadString("reason"))
}

func TestIssueTTL(t *testing.T) {
	h := newHarness(t)
	e := h.create(t)
	ctx := context.Background()

	_, err := h.tokens.Issue(ctx, e.ID, models.ActionFormSubmitted, buyerID, -time.Second)
	require.Error(t, err)
	assert.False(t, models.IsRejection(err))

	tok, err := h.tokens.Issue(ctx, e.ID, models.ActionFormSubmitted, buyerID, 0)
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().Add(h.cfg.ActionTokenTTL), tok.ExpiresAt)
	assert.False(t, tok.Used)

	tok, err = h.tokens.Issue(ctx, e.ID, models.ActionFormSubmitted, buyerID, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().Add(30*time.Second), tok.ExpiresAt)
}

func TestIssueUnknownEscrow(t *testing.T) {
	h := newHarness(t)
	_, err := h.tokens.Issue(context.Background(), uuid.New(), models.ActionFormSubmitted, buyerID, 0)
	require.Error(t, err)
	assert.False(t, models.IsRejection(err))
}

func TestIssueOffers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.advance(t, models.StateFunded)

	offers, err := h.tokens.IssueOffers(ctx, e.ID, buyerID)
	require.NoError(t, err)
	var actions []models.Action
	for _, o := range offers {
		actions = append(actions, o.Action)
		assert.Equal(t, h.clock.Now().Add(h.cfg.ActionTokenTTL), o.ExpiresAt)
	}
	assert.ElementsMatch(t, []models.Action{models.ActionDelivered, models.ActionDisputed, models.ActionCancelled}, actions)

	offers, err = h.tokens.IssueOffers(ctx, e.ID, sellerID)
	require.NoError(t, err)
	actions = nil
	for _, o := range offers {
		actions = append(actions, o.Action)
	}
	assert.ElementsMatch(t, []models.Action{models.ActionDisputed, models.ActionCancelled}, actions)

	offers, err = h.tokens.IssueOffers(ctx, e.ID, strangerID)
	require.NoError(t, err)
	assert.Empty(t, offers)
}

func TestValidateAndConsume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.create(t)

	tok, err := h.tokens.Issue(ctx, e.ID, models.ActionFormSubmitted, buyerID, 0)
	require.NoError(t, err)
	claim := models.TokenClaim{EscrowID: e.ID, Action: models.ActionFormSubmitted, PrincipalID: buyerID}

	require.NoError(t, h.tokens.Validate(ctx, tok.Token, claim))

	wrong := claim
	wrong.PrincipalID = sellerID
	_, err = h.tokens.ValidateAndConsume(ctx, tok.Token, wrong)
	requireReason(t, err, models.ReasonTokenMismatch)

	got, err := h.tokens.ValidateAndConsume(ctx, tok.Token, claim)
	require.NoError(t, err)
	assert.True(t, got.Used)

	_, err = h.tokens.ValidateAndConsume(ctx, tok.Token, claim)
	requireReason(t, err, models.ReasonTokenAlreadyUsed)

	err = h.tokens.Validate(ctx, tok.Token, claim)
	requireReason(t, err, models.ReasonTokenAlreadyUsed)

	var outcomes []string
	for _, l := range h.audit(t, e) {
		if l.Action == models.AuditTokenConsumed || l.Action == models.AuditTokenRejected {
			outcomes = append(outcomes, l.Action+":"+l.Outcome())
		}
	}
	assert.Equal(t, []string{
		"TOKEN_REJECTED:rejected",
		"TOKEN_CONSUMED:accepted",
		"TOKEN_REJECTED:rejected",
	}, outcomes)

	// The escrow itself never moved.
	assert.Equal(t, models.StateCreated, h.reload(t, e).State)
}

func TestValidateAndConsumeExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.create(t)

	tok, err := h.tokens.Issue(ctx, e.ID, models.ActionCancelled, sellerID, time.Minute)
	require.NoError(t, err)
	claim := models.TokenClaim{EscrowID: e.ID, Action: models.ActionCancelled, PrincipalID: sellerID}

	h.clock.Advance(time.Minute)
	_, err = h.tokens.ValidateAndConsume(ctx, tok.Token, claim)
	requireReason(t, err, models.ReasonTokenExpired)

	_, err = h.tokens.ValidateAndConsume(ctx, uuid.New(), claim)
	requireReason(t, err, models.ReasonTokenNotFound)
}
