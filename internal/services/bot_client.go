package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// BotClient communicates with the bot front-end's internal API.
type BotClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger
}

func NewBotClient(baseURL, apiKey string, log *zap.Logger) *BotClient {
	return &BotClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

type notifyRequest struct {
	TelegramUserID int64  `json:"telegram_user_id"`
	EscrowID       string `json:"escrow_id,omitempty"`
	Text           string `json:"text"`
}

// SendNotification posts text to a Telegram user or chat through the bot.
func (c *BotClient) SendNotification(ctx context.Context, chatID int64, escrowID, text string) error {
	body, err := json.Marshal(notifyRequest{TelegramUserID: chatID, EscrowID: escrowID, Text: text})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/internal/notify", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Internal-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("failed to send bot notification", zap.Error(err))
		return fmt.Errorf("bot service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.log.Warn("bot notification failed", zap.Int("status", resp.StatusCode))
		return fmt.Errorf("bot service returned %d: %s", resp.StatusCode, string(b))
	}
	return nil
}
