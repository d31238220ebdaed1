package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/pw-escrow/backend/internal/auth"
	"github.com/pw-escrow/backend/internal/config"
	"github.com/pw-escrow/backend/internal/events"
	"go.uber.org/zap"
)

// WSHub pushes escrow events to the parties' open mini app sessions.
type WSHub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[int64][]*websocket.Conn
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:         cfg,
		subscriber:  subscriber,
		log:         log,
		connections: make(map[int64][]*websocket.Conn),
	}
}

// Start subscribes to escrow events; delivery stops when ctx is done.
func (h *WSHub) Start(ctx context.Context) error {
	return h.subscriber.Subscribe(ctx, events.ChannelEscrow, h.Dispatch)
}

// Dispatch sends event to every connection of the escrow's parties.
func (h *WSHub) Dispatch(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	for _, id := range Recipients(event) {
		h.send(id, data)
	}
}

func (h *WSHub) send(principalID int64, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.connections[principalID] {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug("ws write failed", zap.Int64("principal_id", principalID), zap.Error(err))
		}
	}
}

// Recipients lists the parties named in an escrow event. Payload numbers
// arrive as float64 after a trip through Redis.
func Recipients(event events.Event) []int64 {
	var out []int64
	for _, key := range []string{"buyer_id", "seller_id"} {
		if id, ok := toInt64(event.Payload[key]); ok && id != 0 {
			out = append(out, id)
		}
	}
	return out
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	id := claims.PrincipalID

	h.mu.Lock()
	h.connections[id] = append(h.connections[id], conn)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		conns := h.connections[id]
		for i, c := range conns {
			if c == conn {
				h.connections[id] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.connections[id]) == 0 {
			delete(h.connections, id)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// Read loop (keep alive / pings)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}
