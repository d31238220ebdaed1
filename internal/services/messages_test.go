package services

import (
	"strings"
	"testing"

	"github.com/pw-escrow/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "₹0.00"},
		{"5", "₹5.00"},
		{"999.9", "₹999.90"},
		{"1000", "₹1,000.00"},
		{"10000", "₹10,000.00"},
		{"123456.78", "₹123,456.78"},
		{"1234567", "₹1,234,567.00"},
		{"-600", "-₹600.00"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatMoney(decimal.RequireFromString(tt.in)))
		})
	}
}

func TestAgreementPreview(t *testing.T) {
	e := &models.Escrow{
		Code:             "PW-100042",
		DealTitle:        "Instagram Account Sale",
		Amount:           decimal.NewFromInt(10000),
		FeeAmount:        decimal.NewFromInt(600),
		RefundConditions: "full refund if login fails",
	}
	got := agreementPreview(e, decimal.NewFromInt(6))
	for _, want := range []string{"PW-100042", "Instagram Account Sale", "₹10,000.00", "6% (₹600.00)", "full refund if login fails"} {
		assert.Contains(t, got, want)
	}
	assert.True(t, strings.HasSuffix(got, "Proceed?"))
}

func TestHumanAction(t *testing.T) {
	assert.Equal(t, "release confirmed", humanAction(models.ActionReleaseConfirmed))
}
