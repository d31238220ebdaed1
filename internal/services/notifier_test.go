package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/pw-escrow/backend/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentMessage struct {
	chatID   int64
	escrowID string
	text     string
}

type fakeSender struct{ sent []sentMessage }

func (f *fakeSender) SendNotification(_ context.Context, chatID int64, escrowID, text string) error {
	f.sent = append(f.sent, sentMessage{chatID, escrowID, text})
	return nil
}

func TestEventNotifierRoundTrip(t *testing.T) {
	pub := &recordingPublisher{}
	escrowID := uuid.New()
	NewEventNotifier(pub, zap.NewNop()).Notify(context.Background(), -1001, escrowID, "hello")
	require.Len(t, pub.events, 1)

	// Simulate the Redis hop.
	raw, err := json.Marshal(pub.events[0])
	require.NoError(t, err)
	var event events.Event
	require.NoError(t, json.Unmarshal(raw, &event))

	sender := &fakeSender{}
	require.NoError(t, ForwardNotification(context.Background(), sender, event))
	assert.Equal(t, []sentMessage{{-1001, escrowID.String(), "hello"}}, sender.sent)
}

func TestForwardNotificationRejectsMalformed(t *testing.T) {
	sender := &fakeSender{}
	ctx := context.Background()

	require.NoError(t, ForwardNotification(ctx, sender, events.Event{Type: events.EventEscrowCreated}))

	err := ForwardNotification(ctx, sender, events.Event{
		Type:    events.EventBotNotification,
		Payload: map[string]any{"telegram_user_id": "101", "text": "x"},
	})
	assert.ErrorIs(t, err, errBadNotification)

	err = ForwardNotification(ctx, sender, events.Event{
		Type:    events.EventBotNotification,
		Payload: map[string]any{"telegram_user_id": float64(101)},
	})
	assert.ErrorIs(t, err, errBadNotification)
	assert.Empty(t, sender.sent)
}
