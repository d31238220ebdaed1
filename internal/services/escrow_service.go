package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pw-escrow/backend/internal/config"
	"github.com/pw-escrow/backend/internal/events"
	"github.com/pw-escrow/backend/internal/models"
	"github.com/pw-escrow/backend/internal/rbac"
	"github.com/pw-escrow/backend/internal/repositories"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentRenderer turns an escrow reference and amount into a payment artifact.
type PaymentRenderer interface {
	RenderPaymentArtifact(escrowRef string, amount decimal.Decimal, payeeRef string) ([]byte, error)
}

// EscrowService owns the escrow state machine. AttemptTransition is the only
// way an escrow changes state.
type EscrowService struct {
	store     repositories.Store
	tokens    *TokenService
	renderer  PaymentRenderer
	notifier  Notifier
	publisher events.Publisher
	cfg       *config.Config
	now       Clock
	log       *zap.Logger
}

func NewEscrowService(
	store repositories.Store,
	tokens *TokenService,
	renderer PaymentRenderer,
	notifier Notifier,
	publisher events.Publisher,
	cfg *config.Config,
	now Clock,
	log *zap.Logger,
) *EscrowService {
	if now == nil {
		now = SystemClock
	}
	return &EscrowService{
		store:     store,
		tokens:    tokens,
		renderer:  renderer,
		notifier:  notifier,
		publisher: publisher,
		cfg:       cfg,
		now:       now,
		log:       log,
	}
}

var hundred = decimal.NewFromInt(100)

type CreateEscrowInput struct {
	CreatorID        int64
	ChatID           *int64
	BuyerID          int64
	SellerID         int64
	DealTitle        string
	Description      string
	Amount           decimal.Decimal
	FeeAmount        *decimal.Decimal // nil: amount × fee percent, rounded to paise
	DeliveryDeadline *time.Time       // nil: now + default delivery window
	RefundConditions string
	DisputeAgreement *bool
}

func (s *EscrowService) CreateEscrow(ctx context.Context, in CreateEscrowInput) (*models.Escrow, error) {
	now := s.now()

	if in.CreatorID != in.BuyerID && in.CreatorID != in.SellerID && !s.cfg.IsAdmin(in.CreatorID) {
		return nil, models.Reject(models.ReasonRoleNotAuthorized, "only a party or an admin may open an escrow")
	}
	if in.FeeAmount != nil && !s.cfg.IsAdmin(in.CreatorID) {
		return nil, models.Reject(models.ReasonRoleNotAuthorized, "only an admin may override the fee")
	}
	if !in.Amount.Equal(in.Amount.Round(2)) {
		return nil, fmt.Errorf("%w: amount has more than two decimal places", models.ErrInvalidEscrow)
	}

	fee := in.Amount.Mul(s.cfg.FeePercent).Div(hundred).Round(2)
	if in.FeeAmount != nil {
		fee = *in.FeeAmount
	}
	deadline := in.DeliveryDeadline
	if deadline == nil {
		d := now.Add(s.cfg.DefaultDeliveryWindow)
		deadline = &d
	} else if !deadline.After(now) {
		return nil, fmt.Errorf("%w: delivery deadline must be in the future", models.ErrInvalidEscrow)
	}

	e := &models.Escrow{
		ChatID:           in.ChatID,
		BuyerID:          in.BuyerID,
		SellerID:         in.SellerID,
		DealTitle:        strings.TrimSpace(in.DealTitle),
		Description:      strings.TrimSpace(in.Description),
		Amount:           in.Amount,
		FeeAmount:        fee,
		DeliveryDeadline: deadline,
		RefundConditions: in.RefundConditions,
		DisputeAgreement: in.DisputeAgreement,
		State:            models.StateCreated,
		CreatedAt:        now,
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateEscrow(ctx, e); err != nil {
		return nil, fmt.Errorf("create escrow: %w", err)
	}

	appendAudit(ctx, s.store, s.log, &models.AuditLogEntry{
		EscrowID: &e.ID,
		ChatID:   e.ChatID,
		ActorID:  in.CreatorID,
		Action:   models.AuditEscrowCreated,
		Payload: map[string]any{
			"escrow_code": e.Code,
			"buyer_id":    e.BuyerID,
			"seller_id":   e.SellerID,
			"amount":      e.Amount.StringFixed(2),
			"fee":         e.FeeAmount.StringFixed(2),
			"title":       e.DealTitle,
		},
		CreatedAt: now,
	})

	s.log.Info("escrow created",
		zap.String("escrow_id", e.ID.String()),
		zap.String("escrow_code", e.Code),
		zap.Int64("creator_id", in.CreatorID),
	)

	_ = s.publisher.Publish(ctx, events.ChannelEscrow, events.Event{
		Type:    events.EventEscrowCreated,
		Payload: escrowEventPayload(e),
	})
	msg := createdMessage(e)
	s.notifier.Notify(ctx, e.BuyerID, e.ID, msg)
	s.notifier.Notify(ctx, e.SellerID, e.ID, msg)
	s.notifyLogGroup(ctx, e, msg)

	return e, nil
}

type TransitionRequest struct {
	EscrowID    uuid.UUID
	Action      models.Action
	PrincipalID int64
	TokenID     uuid.UUID
	// Payload carries guard inputs: evidence, reason, resolution.
	Payload map[string]any
	ChatID  *int64
}

type TransitionResult struct {
	Escrow          *models.Escrow     `json:"escrow"`
	Action          models.Action      `json:"action"`
	From            models.EscrowState `json:"from"`
	To              models.EscrowState `json:"to"`
	ConsentRecorded bool               `json:"consent_recorded"`
}

// AttemptTransition fires req.Action on the escrow. Every attempt is audited.
// A rejection is returned as *models.RejectionError and never changes state;
// any other error is an infrastructure failure.
func (s *EscrowService) AttemptTransition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	now := s.now()

	e, err := s.store.GetEscrow(ctx, req.EscrowID)
	if errors.Is(err, repositories.ErrNotFound) {
		appendAudit(ctx, s.store, s.log, &models.AuditLogEntry{
			ChatID:  req.ChatID,
			ActorID: req.PrincipalID,
			Action:  models.AuditEscrowLookupFailed,
			Payload: map[string]any{
				"escrow_id": req.EscrowID.String(),
				"attempted": string(req.Action),
				"token":     req.TokenID.String(),
				"outcome":   models.OutcomeRejected,
			},
			CreatedAt: now,
		})
		return nil, fmt.Errorf("escrow %s: %w", req.EscrowID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("load escrow: %w", err)
	}

	to, consentOnly, err := s.decide(ctx, e, req, now)
	if err != nil {
		if models.IsRejection(err) {
			s.reject(ctx, e, req, err, now)
		}
		return nil, err
	}

	outcome := models.OutcomeAccepted
	if consentOnly {
		outcome = models.OutcomeConsentRecorded
	}
	payload := map[string]any{
		"outcome":    outcome,
		"from_state": string(e.State),
		"to_state":   string(to),
		"token":      req.TokenID.String(),
	}
	if len(req.Payload) > 0 {
		payload["payload"] = req.Payload
	}

	updated, err := s.store.CommitTransition(ctx, repositories.TransitionCommit{
		TokenID:     req.TokenID,
		Claim:       claimFor(e, req),
		FromState:   e.State,
		FromVersion: e.Version,
		ToState:     to,
		Audit: &models.AuditLogEntry{
			EscrowID:  &e.ID,
			ChatID:    chatFor(e, req),
			ActorID:   req.PrincipalID,
			Action:    string(req.Action),
			Payload:   payload,
			CreatedAt: now,
		},
		Now: now,
	})
	if err != nil {
		if models.IsRejection(err) {
			s.reject(ctx, e, req, err, now)
			return nil, err
		}
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	s.log.Info("escrow transition",
		zap.String("escrow_id", e.ID.String()),
		zap.String("action", string(req.Action)),
		zap.Int64("principal_id", req.PrincipalID),
		zap.String("from", string(e.State)),
		zap.String("to", string(updated.State)),
		zap.String("outcome", outcome),
	)

	s.afterCommit(ctx, updated, e.State, req, consentOnly, now)

	return &TransitionResult{
		Escrow:          updated,
		Action:          req.Action,
		From:            e.State,
		To:              updated.State,
		ConsentRecorded: consentOnly,
	}, nil
}

// decide runs every check in order and returns the state to commit. For the
// first half of a mutual-consent edge it returns the current state and true.
func (s *EscrowService) decide(ctx context.Context, e *models.Escrow, req TransitionRequest, now time.Time) (models.EscrowState, bool, error) {
	if !req.Action.Valid() {
		return "", false, models.Reject(models.ReasonInvalidTransition, "%q is not a transition", req.Action)
	}

	roles := deriveRoles(s.cfg, req.PrincipalID, e)
	if allowed := models.ActionRoles(req.Action); !roles.Intersects(allowed) {
		return "", false, models.Reject(models.ReasonRoleNotAuthorized, "%s requires %s, principal holds %s", req.Action, allowed, roles)
	}

	if err := s.tokens.Validate(ctx, req.TokenID, claimFor(e, req)); err != nil {
		return "", false, err
	}

	if e.State.IsTerminal() {
		return "", false, models.Reject(models.ReasonEscrowTerminal, "escrow %s is %s", e.Code, e.State)
	}
	edge, ok := models.FindEdge(req.Action, e.State)
	if !ok {
		return "", false, models.Reject(models.ReasonInvalidTransition, "%s cannot fire from %s", req.Action, e.State)
	}
	if !roles.Intersects(edge.Roles) {
		return "", false, models.Reject(models.ReasonRoleNotAuthorized, "%s from %s requires %s, principal holds %s", req.Action, e.State, edge.Roles, roles)
	}

	var history []models.AuditLogEntry
	if edge.Mutual || edge.Action == models.ActionReleaseConfirmed {
		var err error
		if history, err = s.store.ListAudit(ctx, e.ID); err != nil {
			return "", false, fmt.Errorf("load audit log: %w", err)
		}
	}

	if err := checkGuard(e, edge, req, history, now); err != nil {
		return "", false, err
	}

	target := edge.Action.Target()
	if !edge.Mutual {
		return target, false, nil
	}
	consented := consents(history, e.State, req.Action)
	if consented[req.PrincipalID] {
		return "", false, models.Reject(models.ReasonGuardFailed, "consent to %s already recorded", req.Action)
	}
	if other, ok := rbac.Counterparty(req.PrincipalID, e.BuyerID, e.SellerID); ok && consented[other] {
		return target, false, nil
	}
	return e.State, true, nil
}

func checkGuard(e *models.Escrow, edge models.Edge, req TransitionRequest, history []models.AuditLogEntry, now time.Time) error {
	switch {
	case edge.Action == models.ActionDelivered:
		if payloadString(req.Payload, "evidence") == "" {
			return models.Reject(models.ReasonGuardFailed, "delivery evidence is required")
		}
	case edge.Action == models.ActionReleaseConfirmed:
		requester, ok := releaseRequester(history)
		if !ok {
			return models.Reject(models.ReasonGuardFailed, "no accepted release request on record")
		}
		if requester == req.PrincipalID {
			return models.Reject(models.ReasonGuardFailed, "release requester cannot confirm their own request")
		}
	case edge.Action == models.ActionDisputed:
		if payloadString(req.Payload, "reason") == "" {
			return models.Reject(models.ReasonGuardFailed, "dispute reason is required")
		}
	case edge.From == models.StateDisputed:
		if payloadString(req.Payload, "resolution") == "" {
			return models.Reject(models.ReasonGuardFailed, "dispute resolution is required")
		}
	case edge.Action == models.ActionExpired:
		if e.DeliveryDeadline == nil || now.Before(*e.DeliveryDeadline) {
			return models.Reject(models.ReasonGuardFailed, "delivery deadline has not elapsed")
		}
	}
	return nil
}

// consents returns the principals whose consent to action was recorded while
// the escrow was in state. States are never re-entered, so the source state
// scopes consents to the current attempt.
func consents(history []models.AuditLogEntry, state models.EscrowState, action models.Action) map[int64]bool {
	out := map[int64]bool{}
	for i := range history {
		h := &history[i]
		if h.Action == string(action) && h.Outcome() == models.OutcomeConsentRecorded && h.PayloadString("from_state") == string(state) {
			out[h.ActorID] = true
		}
	}
	return out
}

func releaseRequester(history []models.AuditLogEntry) (int64, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		h := &history[i]
		if h.Action == string(models.ActionReleaseRequested) && h.Outcome() == models.OutcomeAccepted {
			return h.ActorID, true
		}
	}
	return 0, false
}

func (s *EscrowService) reject(ctx context.Context, e *models.Escrow, req TransitionRequest, cause error, now time.Time) {
	reason, _ := models.ReasonOf(cause)
	s.log.Info("transition rejected",
		zap.String("escrow_id", e.ID.String()),
		zap.String("action", string(req.Action)),
		zap.Int64("principal_id", req.PrincipalID),
		zap.String("reason", string(reason)),
	)
	appendAudit(ctx, s.store, s.log, &models.AuditLogEntry{
		EscrowID: &e.ID,
		ChatID:   chatFor(e, req),
		ActorID:  req.PrincipalID,
		Action:   string(req.Action),
		Payload: map[string]any{
			"outcome":    models.OutcomeRejected,
			"reason":     string(reason),
			"detail":     cause.Error(),
			"from_state": string(e.State),
			"token":      req.TokenID.String(),
		},
		CreatedAt: now,
	})
}

func (s *EscrowService) afterCommit(ctx context.Context, e *models.Escrow, from models.EscrowState, req TransitionRequest, consentOnly bool, now time.Time) {
	payload := escrowEventPayload(e)
	payload["from"] = string(from)
	payload["action"] = string(req.Action)
	payload["actor_id"] = req.PrincipalID

	if consentOnly {
		_ = s.publisher.Publish(ctx, events.ChannelEscrow, events.Event{Type: events.EventConsentRecorded, Payload: payload})
		if other, ok := rbac.Counterparty(req.PrincipalID, e.BuyerID, e.SellerID); ok {
			s.notifier.Notify(ctx, other, e.ID, consentMessage(e, req.Action))
		}
		return
	}

	_ = s.publisher.Publish(ctx, events.ChannelEscrow, events.Event{Type: events.EventEscrowTransitioned, Payload: payload})

	switch e.State {
	case models.StateAgreementPreview:
		preview := agreementPreview(e, s.cfg.FeePercent)
		s.notifier.Notify(ctx, e.BuyerID, e.ID, preview)
		s.notifier.Notify(ctx, e.SellerID, e.ID, preview)
	case models.StateAgreed:
		s.notifier.Notify(ctx, e.BuyerID, e.ID, paymentInstructions(e, s.cfg.UPIID))
		s.notifier.Notify(ctx, e.SellerID, e.ID, fmt.Sprintf("🤝 Both parties agreed on escrow %s. Waiting for the buyer's payment.", e.Code))
		s.notifyLogGroup(ctx, e, fmt.Sprintf("✅ PAYMENT AVAILABLE for %s: amount %s", e.Code, FormatMoney(e.Amount)))
	default:
		msg := transitionMessage(e, from)
		s.notifier.Notify(ctx, e.BuyerID, e.ID, msg)
		s.notifier.Notify(ctx, e.SellerID, e.ID, msg)
	}
	s.notifyLogGroup(ctx, e, logGroupMessage(e, from, req.PrincipalID, now))
}

func (s *EscrowService) notifyLogGroup(ctx context.Context, e *models.Escrow, msg string) {
	if s.cfg.LogGroupChatID != 0 {
		s.notifier.Notify(ctx, s.cfg.LogGroupChatID, e.ID, msg)
	}
}

// UpdateTerms replaces refund conditions, dispute agreement and delivery
// deadline. Terms are frozen once the agreement preview has been shown.
// UpdateTerms applies patch over the escrow's current terms. Fields left nil
// in patch are kept.
func (s *EscrowService) UpdateTerms(ctx context.Context, escrowID uuid.UUID, principalID int64, patch models.TermsPatch) (*models.Escrow, error) {
	now := s.now()
	e, err := s.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return nil, fmt.Errorf("escrow %s: %w", escrowID, err)
	}

	rejectTerms := func(cause error) error {
		reason, _ := models.ReasonOf(cause)
		appendAudit(ctx, s.store, s.log, &models.AuditLogEntry{
			EscrowID:  &e.ID,
			ChatID:    e.ChatID,
			ActorID:   principalID,
			Action:    models.AuditTermsUpdated,
			Payload:   map[string]any{"outcome": models.OutcomeRejected, "reason": string(reason), "detail": cause.Error()},
			CreatedAt: now,
		})
		return cause
	}

	roles := deriveRoles(s.cfg, principalID, e)
	switch {
	case !roles.Intersects(rbac.Parties | rbac.Of(rbac.RoleAdmin)):
		return nil, rejectTerms(models.Reject(models.ReasonRoleNotAuthorized, "only the parties or an admin may edit terms"))
	case e.State.IsTerminal():
		return nil, rejectTerms(models.Reject(models.ReasonEscrowTerminal, "escrow %s is %s", e.Code, e.State))
	case !models.TermsEditable(e.State):
		return nil, rejectTerms(models.Reject(models.ReasonGuardFailed, "terms are frozen in %s", e.State))
	case patch.DeliveryDeadline != nil && !patch.DeliveryDeadline.After(now):
		return nil, rejectTerms(models.Reject(models.ReasonGuardFailed, "delivery deadline must be in the future"))
	}
	if patch.Empty() {
		return nil, fmt.Errorf("%w: no terms to update", models.ErrInvalidEscrow)
	}
	terms := e.Terms().Apply(patch)

	payload := map[string]any{
		"outcome":           models.OutcomeAccepted,
		"refund_conditions": terms.RefundConditions,
	}
	if terms.DisputeAgreement != nil {
		payload["dispute_agreement"] = *terms.DisputeAgreement
	}
	if terms.DeliveryDeadline != nil {
		payload["delivery_deadline"] = terms.DeliveryDeadline.UTC().Format(time.RFC3339)
	}

	updated, err := s.store.UpdateTerms(ctx, repositories.TermsUpdate{
		EscrowID:    e.ID,
		FromVersion: e.Version,
		Terms:       terms,
		Audit: &models.AuditLogEntry{
			EscrowID:  &e.ID,
			ChatID:    e.ChatID,
			ActorID:   principalID,
			Action:    models.AuditTermsUpdated,
			Payload:   payload,
			CreatedAt: now,
		},
		Now: now,
	})
	if err != nil {
		if models.IsRejection(err) {
			return nil, rejectTerms(err)
		}
		return nil, fmt.Errorf("update terms: %w", err)
	}

	_ = s.publisher.Publish(ctx, events.ChannelEscrow, events.Event{
		Type:    events.EventTermsUpdated,
		Payload: escrowEventPayload(updated),
	})
	return updated, nil
}

// Roles derives the principal's roles on e.
func (s *EscrowService) Roles(e *models.Escrow, principalID int64) rbac.Roles {
	return deriveRoles(s.cfg, principalID, e)
}

func (s *EscrowService) GetEscrow(ctx context.Context, id uuid.UUID, principalID int64) (*models.Escrow, error) {
	e, err := s.store.GetEscrow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("escrow %s: %w", id, err)
	}
	if err := s.canView(e, principalID); err != nil {
		return nil, err
	}
	return e, nil
}

// IDForCode resolves a human escrow code. It reveals nothing beyond the id,
// so it does not check roles.
func (s *EscrowService) IDForCode(ctx context.Context, code string) (uuid.UUID, error) {
	e, err := s.store.GetEscrowByCode(ctx, code)
	if err != nil {
		return uuid.Nil, fmt.Errorf("escrow %s: %w", code, err)
	}
	return e.ID, nil
}

func (s *EscrowService) GetEscrowByCode(ctx context.Context, code string, principalID int64) (*models.Escrow, error) {
	e, err := s.store.GetEscrowByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("escrow %s: %w", code, err)
	}
	if err := s.canView(e, principalID); err != nil {
		return nil, err
	}
	return e, nil
}

// History returns the escrow's audit trail, the evidence base for disputes.
func (s *EscrowService) History(ctx context.Context, id uuid.UUID, principalID int64) ([]models.AuditLogEntry, error) {
	e, err := s.GetEscrow(ctx, id, principalID)
	if err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, e.ID)
}

// PaymentArtifact renders the payment QR for an escrow awaiting funding.
func (s *EscrowService) PaymentArtifact(ctx context.Context, id uuid.UUID, principalID int64) ([]byte, *models.Escrow, error) {
	e, err := s.store.GetEscrow(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("escrow %s: %w", id, err)
	}
	if !s.Roles(e, principalID).Intersects(rbac.Of(rbac.RoleBuyer, rbac.RoleAdmin)) {
		return nil, nil, models.Reject(models.ReasonRoleNotAuthorized, "payment details are shown to the buyer only")
	}
	if e.State != models.StateAgreed {
		return nil, nil, models.Reject(models.ReasonGuardFailed, "escrow %s is %s, not awaiting payment", e.Code, e.State)
	}
	png, err := s.renderer.RenderPaymentArtifact(e.Code, e.Amount, s.cfg.UPIID)
	if err != nil {
		return nil, nil, fmt.Errorf("render payment artifact: %w", err)
	}
	return png, e, nil
}

func (s *EscrowService) canView(e *models.Escrow, principalID int64) error {
	if s.Roles(e, principalID).Empty() {
		return models.Reject(models.ReasonRoleNotAuthorized, "principal is not a party to escrow %s", e.Code)
	}
	return nil
}

func claimFor(e *models.Escrow, req TransitionRequest) models.TokenClaim {
	return models.TokenClaim{EscrowID: e.ID, Action: req.Action, PrincipalID: req.PrincipalID}
}

func chatFor(e *models.Escrow, req TransitionRequest) *int64 {
	if req.ChatID != nil {
		return req.ChatID
	}
	return e.ChatID
}

func payloadString(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return strings.TrimSpace(s)
}

func escrowEventPayload(e *models.Escrow) map[string]any {
	return map[string]any{
		"escrow_id":   e.ID.String(),
		"escrow_code": e.Code,
		"buyer_id":    e.BuyerID,
		"seller_id":   e.SellerID,
		"state":       string(e.State),
		"version":     e.Version,
	}
}
