package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/pw-escrow/backend/internal/models"
	"github.com/shopspring/decimal"
)

// FormatMoney renders an INR amount with thousands separators, e.g. ₹10,000.00.
func FormatMoney(d decimal.Decimal) string {
	s := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	sign := ""
	if d.IsNegative() {
		sign = "-"
	}
	return sign + "₹" + b.String() + "." + frac
}

func agreementPreview(e *models.Escrow, feePercent decimal.Decimal) string {
	var b strings.Builder
	b.WriteString("🔐 PW ESCROW AGREEMENT\n\n")
	fmt.Fprintf(&b, "Escrow ID: %s\n", e.Code)
	fmt.Fprintf(&b, "Deal: %s\n", e.DealTitle)
	if e.Description != "" {
		fmt.Fprintf(&b, "Details: %s\n", e.Description)
	}
	fmt.Fprintf(&b, "Amount: %s\n", FormatMoney(e.Amount))
	fmt.Fprintf(&b, "Fee: %s%% (%s)\n", feePercent.String(), FormatMoney(e.FeeAmount))
	if e.DeliveryDeadline != nil {
		fmt.Fprintf(&b, "Delivery by: %s\n", e.DeliveryDeadline.UTC().Format("02 Jan 2006 15:04 MST"))
	}
	if e.RefundConditions != "" {
		fmt.Fprintf(&b, "Refund: %s\n", e.RefundConditions)
	}
	b.WriteString("\nTerms:\n• Funds held until buyer confirms delivery\n• No chargebacks after release\n• Disputes handled by PW Escrow admins\n\nProceed?")
	return b.String()
}

func paymentInstructions(e *models.Escrow, upiID string) string {
	return fmt.Sprintf("💳 PAYMENT DETAILS\n\nUPI ID: %s\nAmount: %s\nEscrow ID: %s\n\nSend the exact amount only. Include the Escrow ID in the remark.",
		upiID, FormatMoney(e.Amount), e.Code)
}

func createdMessage(e *models.Escrow) string {
	return fmt.Sprintf("🆕 Escrow %s created: %s for %s.", e.Code, e.DealTitle, FormatMoney(e.Amount))
}

func consentMessage(e *models.Escrow, action models.Action) string {
	return fmt.Sprintf("☑️ Your counterparty requested %s on escrow %s. Waiting for your confirmation.", humanAction(action), e.Code)
}

func transitionMessage(e *models.Escrow, from models.EscrowState) string {
	switch e.State {
	case models.StateCompleted:
		return fmt.Sprintf("✅ Escrow %s completed. Funds released to the seller.", e.Code)
	case models.StateCancelled:
		return fmt.Sprintf("🚫 Escrow %s cancelled.", e.Code)
	case models.StateExpired:
		return fmt.Sprintf("⌛ Escrow %s expired: the delivery deadline passed.", e.Code)
	case models.StateDisputed:
		return fmt.Sprintf("⚖️ Escrow %s is disputed. An admin will review the evidence.", e.Code)
	case models.StateFunded:
		return fmt.Sprintf("💰 Payment for escrow %s received. Seller may deliver now.", e.Code)
	}
	return fmt.Sprintf("Escrow %s moved from %s to %s.", e.Code, from, e.State)
}

func logGroupMessage(e *models.Escrow, from models.EscrowState, actorID int64, at time.Time) string {
	return fmt.Sprintf("[%s] %s: %s → %s by %d (%s)",
		at.UTC().Format(time.RFC3339), e.Code, from, e.State, actorID, FormatMoney(e.Amount))
}

func humanAction(a models.Action) string {
	return strings.ToLower(strings.ReplaceAll(string(a), "_", " "))
}
