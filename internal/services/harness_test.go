package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pw-escrow/backend/internal/artifact"
	"github.com/pw-escrow/backend/internal/config"
	"github.com/pw-escrow/backend/internal/events"
	"github.com/pw-escrow/backend/internal/models"
	"github.com/pw-escrow/backend/internal/rbac"
	"github.com/pw-escrow/backend/internal/repositories/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	buyerID    int64 = 101
	sellerID   int64 = 202
	strangerID int64 = 303
	adminID    int64 = 900
	logGroupID int64 = -1001
	systemID         = rbac.SystemPrincipalID
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, e events.Event) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type notification struct {
	to       int64
	escrowID uuid.UUID
	text     string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Notify(_ context.Context, to int64, escrowID uuid.UUID, text string) {
	n.mu.Lock()
	n.sent = append(n.sent, notification{to: to, escrowID: escrowID, text: text})
	n.mu.Unlock()
}

func (n *recordingNotifier) to(principal int64) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		if s.to == principal {
			out = append(out, s.text)
		}
	}
	return out
}

type harness struct {
	cfg       *config.Config
	store     *memory.Store
	clock     *fakeClock
	tokens    *TokenService
	escrows   *EscrowService
	publisher *recordingPublisher
	notifier  *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{
		FeePercent:            decimal.NewFromInt(6),
		UPIID:                 "pwescrow@upi",
		PayeeName:             "PW Escrow",
		LogGroupChatID:        logGroupID,
		ActionTokenTTL:        10 * time.Minute,
		DefaultDeliveryWindow: 24 * time.Hour,
		AdminTelegramIDs:      []int64{adminID},
	}
	h := &harness{
		cfg:       cfg,
		store:     memory.New(),
		clock:     &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		publisher: &recordingPublisher{},
		notifier:  &recordingNotifier{},
	}
	log := zap.NewNop()
	h.tokens = NewTokenService(h.store, cfg, h.clock.Now, log)
	h.escrows = NewEscrowService(h.store, h.tokens, artifact.NewUPIRenderer(cfg.PayeeName), h.notifier, h.publisher, cfg, h.clock.Now, log)
	return h
}

func (h *harness) create(t *testing.T) *models.Escrow {
	t.Helper()
	e, err := h.escrows.CreateEscrow(context.Background(), CreateEscrowInput{
		CreatorID: buyerID,
		BuyerID:   buyerID,
		SellerID:  sellerID,
		DealTitle: "Instagram Account Sale",
		Amount:    decimal.RequireFromString("10000"),
	})
	require.NoError(t, err)
	return e
}

// fire issues a token for principal and attempts action with it.
func (h *harness) fire(t *testing.T, e *models.Escrow, action models.Action, principal int64, payload map[string]any) (*TransitionResult, error) {
	t.Helper()
	tok, err := h.tokens.Issue(context.Background(), e.ID, action, principal, 0)
	require.NoError(t, err, "issue %s for %d", action, principal)
	return h.escrows.AttemptTransition(context.Background(), TransitionRequest{
		EscrowID:    e.ID,
		Action:      action,
		PrincipalID: principal,
		TokenID:     tok.Token,
		Payload:     payload,
	})
}

func (h *harness) mustFire(t *testing.T, e *models.Escrow, action models.Action, principal int64, payload map[string]any) *TransitionResult {
	t.Helper()
	res, err := h.fire(t, e, action, principal, payload)
	require.NoError(t, err, "%s by %d", action, principal)
	return res
}

type step struct {
	action    models.Action
	principal int64
	payload   map[string]any
}

var happyPath = []step{
	{models.ActionFormSubmitted, buyerID, nil},
	{models.ActionAgreementPreview, sellerID, nil},
	{models.ActionAgreed, buyerID, nil},
	{models.ActionAgreed, sellerID, nil},
	{models.ActionFunded, adminID, nil},
	{models.ActionDelivered, buyerID, map[string]any{"evidence": "login details sent"}},
	{models.ActionReleaseRequested, sellerID, nil},
	{models.ActionReleaseConfirmed, buyerID, nil},
	{models.ActionCompleted, adminID, nil},
}

// advance drives a fresh escrow along the happy path until it reaches state.
func (h *harness) advance(t *testing.T, state models.EscrowState) *models.Escrow {
	t.Helper()
	e := h.create(t)
	for _, s := range happyPath {
		if e.State == state {
			return e
		}
		e = h.mustFire(t, e, s.action, s.principal, s.payload).Escrow
	}
	require.Equal(t, state, e.State)
	return e
}

func (h *harness) audit(t *testing.T, e *models.Escrow) []models.AuditLogEntry {
	t.Helper()
	logs, err := h.store.ListAudit(context.Background(), e.ID)
	require.NoError(t, err)
	return logs
}

func (h *harness) reload(t *testing.T, e *models.Escrow) *models.Escrow {
	t.Helper()
	got, err := h.store.GetEscrow(context.Background(), e.ID)
	require.NoError(t, err)
	return got
}

func requireReason(t *testing.T, err error, want models.Reason) {
	t.Helper()
	require.Error(t, err)
	got, ok := models.ReasonOf(err)
	require.True(t, ok, "expected a rejection, got %v", err)
	assert.Equal(t, want, got, err.Error())
}
