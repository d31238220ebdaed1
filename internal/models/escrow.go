package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EscrowState string

// Escrow states. Literal values are stored as-is in escrows.state.
const (
	StateCreated          EscrowState = "CREATED"
	StateFormSubmitted    EscrowState = "FORM_SUBMITTED"
	StateAgreementPreview EscrowState = "AGREEMENT_PREVIEW"
	StateAgreed           EscrowState = "AGREED"
	StateFunded           EscrowState = "FUNDED"
	StateDelivered        EscrowState = "DELIVERED"
	StateReleaseRequested EscrowState = "RELEASE_REQUESTED"
	StateReleaseConfirmed EscrowState = "RELEASE_CONFIRMED"
	StateCompleted        EscrowState = "COMPLETED"
	StateDisputed         EscrowState = "DISPUTED"
	StateCancelled        EscrowState = "CANCELLED"
	StateExpired          EscrowState = "EXPIRED"
)

var AllEscrowStates = []EscrowState{
	StateCreated, StateFormSubmitted, StateAgreementPreview, StateAgreed,
	StateFunded, StateDelivered, StateReleaseRequested, StateReleaseConfirmed,
	StateCompleted, StateDisputed, StateCancelled, StateExpired,
}

func (s EscrowState) Valid() bool {
	for _, st := range AllEscrowStates {
		if st == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the escrow is frozen. Only audit entries may be
// appended to a terminal escrow.
func (s EscrowState) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateExpired
}

var ErrInvalidEscrow = errors.New("invalid escrow")

type Escrow struct {
	ID               uuid.UUID       `json:"id"`
	Code             string          `json:"escrow_code"`
	ChatID           *int64          `json:"chat_id,omitempty"`
	BuyerID          int64           `json:"buyer_id"`
	SellerID         int64           `json:"seller_id"`
	DealTitle        string          `json:"deal_title"`
	Description      string          `json:"description"`
	Amount           decimal.Decimal `json:"amount"`
	FeeAmount        decimal.Decimal `json:"fee_amount"`
	DeliveryDeadline *time.Time      `json:"delivery_deadline,omitempty"`
	RefundConditions string          `json:"refund_conditions"`
	DisputeAgreement *bool           `json:"dispute_agreement,omitempty"`
	State            EscrowState     `json:"state"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Validate checks the invariants every persisted escrow must satisfy.
func (e *Escrow) Validate() error {
	if e.BuyerID <= 0 || e.SellerID <= 0 {
		return fmt.Errorf("%w: buyer and seller must be real principals", ErrInvalidEscrow)
	}
	if e.BuyerID == e.SellerID {
		return fmt.Errorf("%w: buyer and seller must be different principals", ErrInvalidEscrow)
	}
	if !e.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidEscrow)
	}
	if e.FeeAmount.IsNegative() {
		return fmt.Errorf("%w: fee amount must not be negative", ErrInvalidEscrow)
	}
	if strings.TrimSpace(e.DealTitle) == "" {
		return fmt.Errorf("%w: deal title is required", ErrInvalidEscrow)
	}
	if !e.State.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidEscrow, e.State)
	}
	return nil
}

// Total is what the buyer pays in: the deal amount plus the broker fee.
func (e *Escrow) Total() decimal.Decimal {
	return e.Amount.Add(e.FeeAmount)
}

func (e *Escrow) Terms() Terms {
	return Terms{
		RefundConditions: e.RefundConditions,
		DisputeAgreement: e.DisputeAgreement,
		DeliveryDeadline: e.DeliveryDeadline,
	}
}

// Terms are the deal conditions that stay editable until the agreement
// preview is shown. From AGREEMENT_PREVIEW onwards they are frozen.
type Terms struct {
	RefundConditions string     `json:"refund_conditions"`
	DisputeAgreement *bool      `json:"dispute_agreement,omitempty"`
	DeliveryDeadline *time.Time `json:"delivery_deadline,omitempty"`
}

// TermsPatch is a partial terms edit. Nil fields keep their current value,
// so a delivery deadline can be moved but never cleared.
type TermsPatch struct {
	RefundConditions *string    `json:"refund_conditions,omitempty"`
	DisputeAgreement *bool      `json:"dispute_agreement,omitempty"`
	DeliveryDeadline *time.Time `json:"delivery_deadline,omitempty"`
}

func (p TermsPatch) Empty() bool {
	return p.RefundConditions == nil && p.DisputeAgreement == nil && p.DeliveryDeadline == nil
}

// Apply returns t with the fields set in p replaced.
func (t Terms) Apply(p TermsPatch) Terms {
	if p.RefundConditions != nil {
		t.RefundConditions = *p.RefundConditions
	}
	if p.DisputeAgreement != nil {
		v := *p.DisputeAgreement
		t.DisputeAgreement = &v
	}
	if p.DeliveryDeadline != nil {
		v := *p.DeliveryDeadline
		t.DeliveryDeadline = &v
	}
	return t
}

// TermsEditable reports whether Terms may still change in state s.
func TermsEditable(s EscrowState) bool {
	return s == StateCreated || s == StateFormSubmitted
}
