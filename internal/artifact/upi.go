// Package artifact renders the payment instructions handed to the buyer.
package artifact

import (
	"errors"
	"fmt"
	"image/color"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

const defaultQRSize = 512

var ErrInvalidPayment = errors.New("invalid payment request")

// UPIRenderer encodes UPI collect requests as QR codes. It holds no state
// beyond its settings and is safe for concurrent use.
type UPIRenderer struct {
	payeeName string
	size      int
}

func NewUPIRenderer(payeeName string) *UPIRenderer {
	return &UPIRenderer{payeeName: payeeName, size: defaultQRSize}
}

// PaymentURI builds upi://pay?pa=..&pn=..&am=..&tn=..&cu=INR. The escrow
// reference travels as the transaction note so the admin can match the
// incoming credit.
func (r *UPIRenderer) PaymentURI(escrowRef string, amount decimal.Decimal, payeeRef string) (string, error) {
	if strings.TrimSpace(payeeRef) == "" || !strings.Contains(payeeRef, "@") {
		return "", fmt.Errorf("%w: payee VPA %q", ErrInvalidPayment, payeeRef)
	}
	if !amount.IsPositive() {
		return "", fmt.Errorf("%w: amount must be positive", ErrInvalidPayment)
	}
	if strings.TrimSpace(escrowRef) == "" {
		return "", fmt.Errorf("%w: escrow reference is required", ErrInvalidPayment)
	}

	q := url.Values{}
	q.Set("pa", payeeRef)
	if r.payeeName != "" {
		q.Set("pn", r.payeeName)
	}
	q.Set("am", amount.StringFixed(2))
	q.Set("tn", escrowRef)
	q.Set("cu", "INR")
	// url.Values.Encode sorts keys; UPI apps expect pa first.
	return "upi://pay?" + orderedQuery(q, "pa", "pn", "am", "tn", "cu"), nil
}

// RenderPaymentArtifact returns a PNG QR code, white modules on black.
func (r *UPIRenderer) RenderPaymentArtifact(escrowRef string, amount decimal.Decimal, payeeRef string) ([]byte, error) {
	uri, err := r.PaymentURI(escrowRef, amount, payeeRef)
	if err != nil {
		return nil, err
	}
	qr, err := qrcode.New(uri, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	qr.ForegroundColor = color.White
	qr.BackgroundColor = color.Black
	png, err := qr.PNG(r.size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}

func orderedQuery(q url.Values, keys ...string) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := q.Get(k); v != "" {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}
