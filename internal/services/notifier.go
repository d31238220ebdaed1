package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pw-escrow/backend/internal/events"
	"go.uber.org/zap"
)

// Notifier delivers a rendered message to a principal or chat. Delivery is
// fire-and-forget and only ever happens after a commit.
type Notifier interface {
	Notify(ctx context.Context, principalID int64, escrowID uuid.UUID, message string)
}

// EventNotifier hands notifications to the bot through the events:bot
// channel; bot-notify-bridge forwards them to the bot's /internal/notify.
type EventNotifier struct {
	publisher events.Publisher
	log       *zap.Logger
}

func NewEventNotifier(publisher events.Publisher, log *zap.Logger) *EventNotifier {
	return &EventNotifier{publisher: publisher, log: log}
}

func (n *EventNotifier) Notify(ctx context.Context, principalID int64, escrowID uuid.UUID, message string) {
	err := n.publisher.Publish(ctx, events.ChannelBot, events.Event{
		Type: events.EventBotNotification,
		Payload: map[string]any{
			"telegram_user_id": principalID,
			"escrow_id":        escrowID.String(),
			"text":             message,
		},
	})
	if err != nil {
		n.log.Warn("failed to queue notification",
			zap.Int64("principal_id", principalID),
			zap.String("escrow_id", escrowID.String()),
			zap.Error(err),
		)
	}
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, principalID int64, escrowID uuid.UUID, message string)

func (f NotifierFunc) Notify(ctx context.Context, principalID int64, escrowID uuid.UUID, message string) {
	f(ctx, principalID, escrowID, message)
}

// NotificationSender delivers a message through the bot. BotClient is one.
type NotificationSender interface {
	SendNotification(ctx context.Context, chatID int64, escrowID, text string) error
}

var errBadNotification = errors.New("malformed bot notification")

// ForwardNotification hands one events:bot event to sender. Events of other
// types are ignored.
func ForwardNotification(ctx context.Context, sender NotificationSender, event events.Event) error {
	if event.Type != events.EventBotNotification {
		return nil
	}
	var chatID int64
	switch v := event.Payload["telegram_user_id"].(type) {
	case float64:
		chatID = int64(v)
	case int64:
		chatID = v
	default:
		return fmt.Errorf("%w: telegram_user_id is %T", errBadNotification, v)
	}
	text, _ := event.Payload["text"].(string)
	if chatID == 0 || text == "" {
		return fmt.Errorf("%w: missing recipient or text", errBadNotification)
	}
	escrowID, _ := event.Payload["escrow_id"].(string)
	return sender.SendNotification(ctx, chatID, escrowID, text)
}
