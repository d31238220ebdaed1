package artifact

import (
	"bytes"
	"errors"
	"image/png"
	"testing"

	"github.com/shopspring/decimal"
)

func TestPaymentURI(t *testing.T) {
	r := NewUPIRenderer("PW Escrow")
	got, err := r.PaymentURI("PW-100042", decimal.RequireFromString("10600"), "pwescrow@upi")
	if err != nil {
		t.Fatalf("PaymentURI() error = %v", err)
	}
	want := "upi://pay?pa=pwescrow%40upi&pn=PW+Escrow&am=10600.00&tn=PW-100042&cu=INR"
	if got != want {
		t.Errorf("PaymentURI() = %q, want %q", got, want)
	}
}

func TestPaymentURIRejectsBadInput(t *testing.T) {
	r := NewUPIRenderer("PW Escrow")
	tests := []struct {
		name   string
		ref    string
		amount decimal.Decimal
		payee  string
	}{
		{"zero amount", "PW-1", decimal.Zero, "a@upi"},
		{"negative amount", "PW-1", decimal.NewFromInt(-1), "a@upi"},
		{"missing vpa", "PW-1", decimal.NewFromInt(1), ""},
		{"vpa without handle", "PW-1", decimal.NewFromInt(1), "pwescrow"},
		{"missing ref", "", decimal.NewFromInt(1), "a@upi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.PaymentURI(tt.ref, tt.amount, tt.payee)
			if !errors.Is(err, ErrInvalidPayment) {
				t.Fatalf("expected ErrInvalidPayment, got %v", err)
			}
		})
	}
}

func TestRenderPaymentArtifactIsPNG(t *testing.T) {
	r := NewUPIRenderer("PW Escrow")
	data, err := r.RenderPaymentArtifact("PW-100042", decimal.RequireFromString("99.5"), "pwescrow@upi")
	if err != nil {
		t.Fatalf("RenderPaymentArtifact() error = %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != defaultQRSize || b.Dy() != defaultQRSize {
		t.Errorf("size = %dx%d, want %d", b.Dx(), b.Dy(), defaultQRSize)
	}
	// The quiet zone is background, which is black.
	r0, g0, b0, _ := img.At(0, 0).RGBA()
	if r0 != 0 || g0 != 0 || b0 != 0 {
		t.Errorf("corner pixel = (%d,%d,%d), want black", r0, g0, b0)
	}
}
