package dto

import "time"

type AuthTelegramRequest struct {
	InitData string `json:"init_data"`
}

// CreateEscrowRequest opens a deal. Amount and FeeAmount are decimal strings
// such as "10000.00"; FeeAmount overrides the percentage fee and is accepted
// from admins only.
type CreateEscrowRequest struct {
	ChatID           *int64     `json:"chat_id,omitempty"`
	BuyerID          int64      `json:"buyer_id"`
	SellerID         int64      `json:"seller_id"`
	DealTitle        string     `json:"deal_title"`
	Description      string     `json:"description,omitempty"`
	Amount           string     `json:"amount"`
	FeeAmount        *string    `json:"fee_amount,omitempty"`
	DeliveryDeadline *time.Time `json:"delivery_deadline,omitempty"`
	RefundConditions string     `json:"refund_conditions,omitempty"`
	DisputeAgreement *bool      `json:"dispute_agreement,omitempty"`
}

type UpdateTermsRequest struct {
	RefundConditions *string    `json:"refund_conditions,omitempty"`
	DisputeAgreement *bool      `json:"dispute_agreement,omitempty"`
	DeliveryDeadline *time.Time `json:"delivery_deadline,omitempty"`
}

type IssueTokenRequest struct {
	Action     string `json:"action"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

type TransitionRequest struct {
	Action  string         `json:"action"`
	Token   string         `json:"token"`
	ChatID  *int64         `json:"chat_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"` // evidence, reason, resolution
}

// CallbackRequest carries the callback_data of a pressed inline button.
type CallbackRequest struct {
	Data    string         `json:"data"`
	ChatID  *int64         `json:"chat_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}
