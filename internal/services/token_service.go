package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pw-escrow/backend/internal/config"
	"github.com/pw-escrow/backend/internal/models"
	"github.com/pw-escrow/backend/internal/rbac"
	"github.com/pw-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

// Clock returns the current instant. Services take one so tests can move time.
type Clock func() time.Time

func SystemClock() time.Time { return time.Now().UTC() }

// TokenService is the action token registry.
type TokenService struct {
	store repositories.Store
	cfg   *config.Config
	now   Clock
	log   *zap.Logger
}

func NewTokenService(store repositories.Store, cfg *config.Config, now Clock, log *zap.Logger) *TokenService {
	if now == nil {
		now = SystemClock
	}
	return &TokenService{store: store, cfg: cfg, now: now, log: log}
}

// Offer is an action the principal may take right now, with its token.
type Offer struct {
	Action    models.Action `json:"action"`
	Token     uuid.UUID     `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Issue mints a single-use token authorizing principalID to fire action on
// the escrow. ttl <= 0 selects the configured default; the action must be
// fireable from the escrow's current state by one of the principal's roles.
func (s *TokenService) Issue(ctx context.Context, escrowID uuid.UUID, action models.Action, principalID int64, ttl time.Duration) (*models.ActionToken, error) {
	if ttl < 0 {
		return nil, fmt.Errorf("token ttl must not be negative, got %s", ttl)
	}
	if ttl == 0 {
		ttl = s.cfg.ActionTokenTTL
	}

	e, err := s.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return nil, fmt.Errorf("escrow %s: %w", escrowID, err)
	}

	if err := s.issuable(e, action, principalID); err != nil {
		s.auditIssueRejected(ctx, e, action, principalID, err)
		return nil, err
	}
	return s.mint(ctx, e, action, principalID, ttl)
}

// IssueOffers issues one token for every edge leaving the current state that
// the principal may fire. System-only edges are never offered to people.
func (s *TokenService) IssueOffers(ctx context.Context, escrowID uuid.UUID, principalID int64) ([]Offer, error) {
	e, err := s.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return nil, fmt.Errorf("escrow %s: %w", escrowID, err)
	}
	if e.State.IsTerminal() {
		return nil, nil
	}

	roles := deriveRoles(s.cfg, principalID, e)
	var offers []Offer
	for _, edge := range models.OfferableEdges(e.State) {
		if edge.Roles == rbac.Of(rbac.RoleSystem) || !roles.Intersects(edge.Roles) {
			continue
		}
		tok, err := s.mint(ctx, e, edge.Action, principalID, s.cfg.ActionTokenTTL)
		if err != nil {
			return nil, err
		}
		offers = append(offers, Offer{Action: edge.Action, Token: tok.Token, ExpiresAt: tok.ExpiresAt})
	}
	return offers, nil
}

func (s *TokenService) issuable(e *models.Escrow, action models.Action, principalID int64) error {
	if !action.Valid() {
		return models.Reject(models.ReasonInvalidTransition, "%q is not a transition", action)
	}
	if e.State.IsTerminal() {
		return models.Reject(models.ReasonEscrowTerminal, "escrow %s is %s", e.Code, e.State)
	}
	edge, ok := models.FindEdge(action, e.State)
	if !ok {
		return models.Reject(models.ReasonInvalidTransition, "%s cannot fire from %s", action, e.State)
	}
	if roles := deriveRoles(s.cfg, principalID, e); !roles.Intersects(edge.Roles) {
		return models.Reject(models.ReasonRoleNotAuthorized, "%s requires %s, principal holds %s", action, edge.Roles, roles)
	}
	return nil
}

func (s *TokenService) mint(ctx context.Context, e *models.Escrow, action models.Action, principalID int64, ttl time.Duration) (*models.ActionToken, error) {
	now := s.now()
	tok := &models.ActionToken{
		Token:     uuid.New(),
		EscrowID:  e.ID,
		Action:    action,
		UserID:    principalID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.store.CreateToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}

	appendAudit(ctx, s.store, s.log, &models.AuditLogEntry{
		EscrowID:  &e.ID,
		ChatID:    e.ChatID,
		ActorID:   principalID,
		Action:    models.AuditTokenIssued,
		Payload:   map[string]any{"token_action": string(action), "token": tok.Token.String(), "expires_at": tok.ExpiresAt.Format(time.RFC3339)},
		CreatedAt: now,
	})
	return tok, nil
}

// Validate checks the token against claim without consuming it.
func (s *TokenService) Validate(ctx context.Context, tokenID uuid.UUID, claim models.TokenClaim) error {
	tok, err := s.store.GetToken(ctx, tokenID)
	if errors.Is(err, repositories.ErrNotFound) {
		return models.Reject(models.ReasonTokenNotFound, "token %s does not exist", tokenID)
	}
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	return tok.Check(claim, s.now())
}

// ValidateAndConsume atomically checks and burns the token. Exactly one of
// any number of concurrent callers presenting the same token succeeds.
func (s *TokenService) ValidateAndConsume(ctx context.Context, tokenID uuid.UUID, claim models.TokenClaim) (*models.ActionToken, error) {
	now := s.now()
	tok, err := s.store.ConsumeToken(ctx, tokenID, claim, now)
	if err != nil && !models.IsRejection(err) {
		return nil, fmt.Errorf("consume token: %w", err)
	}

	entry := &models.AuditLogEntry{
		ActorID:   claim.PrincipalID,
		Action:    models.AuditTokenConsumed,
		Payload:   map[string]any{"token_action": string(claim.Action), "token": tokenID.String()},
		CreatedAt: now,
	}
	if e, lookupErr := s.store.GetEscrow(ctx, claim.EscrowID); lookupErr == nil {
		entry.EscrowID = &e.ID
		entry.ChatID = e.ChatID
	} else {
		entry.Payload["escrow_id"] = claim.EscrowID.String()
	}
	if err != nil {
		reason, _ := models.ReasonOf(err)
		entry.Action = models.AuditTokenRejected
		entry.Payload["outcome"] = models.OutcomeRejected
		entry.Payload["reason"] = string(reason)
		s.log.Info("token rejected",
			zap.String("token", tokenID.String()),
			zap.Int64("principal_id", claim.PrincipalID),
			zap.String("reason", string(reason)),
		)
	} else {
		entry.Payload["outcome"] = models.OutcomeAccepted
	}
	appendAudit(ctx, s.store, s.log, entry)

	if err != nil {
		return nil, err
	}
	return tok, nil
}

func (s *TokenService) auditIssueRejected(ctx context.Context, e *models.Escrow, action models.Action, principalID int64, cause error) {
	reason, _ := models.ReasonOf(cause)
	appendAudit(ctx, s.store, s.log, &models.AuditLogEntry{
		EscrowID: &e.ID,
		ChatID:   e.ChatID,
		ActorID:  principalID,
		Action:   models.AuditTokenIssueRejected,
		Payload: map[string]any{
			"token_action": string(action),
			"outcome":      models.OutcomeRejected,
			"reason":       string(reason),
			"detail":       cause.Error(),
		},
		CreatedAt: s.now(),
	})
}

func deriveRoles(cfg *config.Config, principalID int64, e *models.Escrow) rbac.Roles {
	return rbac.Derive(principalID, e.BuyerID, e.SellerID, cfg.IsAdmin(principalID))
}

// appendAudit writes entry, logging instead of failing: the caller's outcome
// has already been decided.
func appendAudit(ctx context.Context, store repositories.AuditStore, log *zap.Logger, entry *models.AuditLogEntry) {
	if err := store.AppendAudit(ctx, entry); err != nil {
		log.Error("failed to append audit entry",
			zap.String("action", entry.Action),
			zap.Int64("actor_id", entry.ActorID),
			zap.Error(err),
		)
	}
}
