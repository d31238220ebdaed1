package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBotClientSendNotification(t *testing.T) {
	var got notifyRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/notify", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Internal-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewBotClient(srv.URL+"/", "secret", zap.NewNop())
	require.NoError(t, c.SendNotification(context.Background(), 101, "esc-1", "hello"))
	assert.Equal(t, notifyRequest{TelegramUserID: 101, EscrowID: "esc-1", Text: "hello"}, got)
}

func TestBotClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chat not found", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewBotClient(srv.URL, "", zap.NewNop())
	err := c.SendNotification(context.Background(), 1, "", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "chat not found")
}
