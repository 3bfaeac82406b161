package realtime

import (
	"net/http"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

// subscribeFrame is the first message a client sends after connecting,
// naming the table and optional order scope to watch.
type subscribeFrame struct {
	Table   string `json:"table"`
	OrderID string `json:"order_id,omitempty"`
}

// PrincipalFunc extracts the authenticated user id from the request, or ""
// when the caller is anonymous.
type PrincipalFunc func(r *http.Request) string

// WSHandler upgrades HTTP requests to websocket subscriptions against a Hub.
type WSHandler struct {
	hub       *Hub
	principal PrincipalFunc
	upgrader  websocket.Upgrader
}

// NewWSHandler creates a websocket endpoint for the hub. Subscriptions are
// always scoped to the authenticated principal: anonymous connections are
// rejected, and a client can never observe another user's orders.
func NewWSHandler(hub *Hub, principal PrincipalFunc) *WSHandler {
	return &WSHandler{
		hub:       hub,
		principal: principal,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin policy is enforced by the CORS middleware in
			// front of the mux; the upgrader accepts any origin here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lg := zctx.From(r.Context())

	userID := h.principal(r)
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		lg.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	var frame subscribeFrame
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	if err := conn.ReadJSON(&frame); err != nil {
		lg.Debug("bad subscribe frame", zap.Error(err))
		return
	}
	if frame.Table == "" {
		frame.Table = TableOrders
	}

	changes, cancel := h.hub.Subscribe(Filter{
		Table:   frame.Table,
		OrderID: frame.OrderID,
		UserID:  userID,
	})
	defer cancel()

	lg.Debug("realtime subscription opened",
		zap.String("table", frame.Table),
		zap.String("order_id", frame.OrderID),
	)

	// Reader: drains control frames and unblocks the writer on close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case c, ok := <-changes:
			if !ok {
				// Dropped by the hub as a slow consumer.
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(c); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
