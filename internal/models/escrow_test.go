package models

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func validEscrow() Escrow {
	return Escrow{
		BuyerID:   1,
		SellerID:  2,
		DealTitle: "Instagram Account Sale",
		Amount:    decimal.RequireFromString("10000"),
		FeeAmount: decimal.RequireFromString("600"),
		State:     StateCreated,
	}
}

func TestEscrowValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *Escrow)
		ok     bool
	}{
		{"valid", func(e *Escrow) {}, true},
		{"zero fee", func(e *Escrow) { e.FeeAmount = decimal.Zero }, true},
		{"zero amount", func(e *Escrow) { e.Amount = decimal.Zero }, false},
		{"negative amount", func(e *Escrow) { e.Amount = decimal.NewFromInt(-5) }, false},
		{"negative fee", func(e *Escrow) { e.FeeAmount = decimal.NewFromInt(-1) }, false},
		{"same parties", func(e *Escrow) { e.SellerID = e.BuyerID }, false},
		{"system buyer", func(e *Escrow) { e.BuyerID = 0 }, false},
		{"negative seller", func(e *Escrow) { e.SellerID = -5 }, false},
		{"empty title", func(e *Escrow) { e.DealTitle = "  " }, false},
		{"unknown state", func(e *Escrow) { e.State = "PAID" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEscrow()
			tt.mutate(&e)
			err := e.Validate()
			if tt.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidEscrow) {
				t.Fatalf("expected ErrInvalidEscrow, got %v", err)
			}
		})
	}
}

func TestTermsEditable(t *testing.T) {
	for _, s := range AllEscrowStates {
		want := s == StateCreated || s == StateFormSubmitted
		if TermsEditable(s) != want {
			t.Errorf("TermsEditable(%s) = %v, want %v", s, !want, want)
		}
	}
}

func TestTermsApply(t *testing.T) {
	deadline := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	agree := true
	base := Terms{RefundConditions: "none", DisputeAgreement: &agree, DeliveryDeadline: &deadline}

	refund := "full refund"
	got := base.Apply(TermsPatch{RefundConditions: &refund})
	if got.RefundConditions != refund {
		t.Errorf("RefundConditions = %q", got.RefundConditions)
	}
	if got.DeliveryDeadline == nil || !got.DeliveryDeadline.Equal(deadline) {
		t.Errorf("DeliveryDeadline = %v, want %v", got.DeliveryDeadline, deadline)
	}
	if got.DisputeAgreement == nil || !*got.DisputeAgreement {
		t.Errorf("DisputeAgreement = %v", got.DisputeAgreement)
	}

	later := deadline.Add(time.Hour)
	got = base.Apply(TermsPatch{DeliveryDeadline: &later})
	if !got.DeliveryDeadline.Equal(later) || !base.DeliveryDeadline.Equal(deadline) {
		t.Errorf("Apply moved deadline to %v, base now %v", got.DeliveryDeadline, base.DeliveryDeadline)
	}

	if !(TermsPatch{}).Empty() || (TermsPatch{RefundConditions: &refund}).Empty() {
		t.Error("Empty() is wrong")
	}
}

func TestActionTokenCheck(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	escrowID := uuid.New()
	base := ActionToken{
		Token:     uuid.New(),
		EscrowID:  escrowID,
		Action:    ActionDelivered,
		UserID:    7,
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}
	claim := TokenClaim{EscrowID: escrowID, Action: ActionDelivered, PrincipalID: 7}

	tests := []struct {
		name   string
		mutate func(t *ActionToken, c *TokenClaim)
		at     time.Time
		want   Reason
	}{
		{"ok", func(*ActionToken, *TokenClaim) {}, now.Add(time.Minute), ""},
		{"expired exactly at expiry", func(*ActionToken, *TokenClaim) {}, now.Add(10 * time.Minute), ReasonTokenExpired},
		{"used wins over expiry", func(t *ActionToken, _ *TokenClaim) { t.Used = true }, now.Add(time.Hour), ReasonTokenAlreadyUsed},
		{"used wins over mismatch", func(t *ActionToken, c *TokenClaim) { t.Used = true; c.PrincipalID = 8 }, now, ReasonTokenAlreadyUsed},
		{"other principal", func(_ *ActionToken, c *TokenClaim) { c.PrincipalID = 8 }, now, ReasonTokenMismatch},
		{"other action", func(_ *ActionToken, c *TokenClaim) { c.Action = ActionDisputed }, now, ReasonTokenMismatch},
		{"other escrow", func(_ *ActionToken, c *TokenClaim) { c.EscrowID = uuid.New() }, now, ReasonTokenMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, c := base, claim
			tt.mutate(&tok, &c)
			err := tok.Check(c, tt.at)
			reason, _ := ReasonOf(err)
			if reason != tt.want {
				t.Errorf("Check() reason = %q (%v), want %q", reason, err, tt.want)
			}
		})
	}
}

func TestRejectionErrorIs(t *testing.T) {
	err := Reject(ReasonGuardFailed, "self release")
	if !errors.Is(err, &RejectionError{Reason: ReasonGuardFailed}) {
		t.Error("errors.Is should match by reason")
	}
	if errors.Is(err, &RejectionError{Reason: ReasonTokenExpired}) {
		t.Error("errors.Is must not match another reason")
	}
	if err.Error() != "GuardFailed: self release" {
		t.Errorf("Error() = %q", err.Error())
	}
}
