package events

import "context"

// Channels
const (
	ChannelEscrow = "events:escrow"
	ChannelBot    = "events:bot"
)

// Event types
const (
	EventEscrowCreated      = "escrow_created"
	EventEscrowTransitioned = "escrow_transitioned"
	EventConsentRecorded    = "escrow_consent_recorded"
	EventTermsUpdated       = "escrow_terms_updated"
	EventBotNotification    = "bot_notification"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// NopPublisher drops every event. Used when Redis is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
