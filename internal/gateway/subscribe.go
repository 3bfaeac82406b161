package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/gorilla/websocket"

	"github.com/lunaroast/brewbox/internal/realtime"
)

// ChangeHandler receives realtime change events for a subscription. It is
// called from the subscription's read goroutine; implementations should
// return quickly.
type ChangeHandler func(realtime.Change)

// subscribeFrame is the first frame the server expects on a realtime socket.
type subscribeFrame struct {
	Table   string `json:"table"`
	OrderID string `json:"order_id,omitempty"`
}

// Subscribe opens a websocket to the realtime endpoint and invokes onChange
// for every order change pushed by the server. An empty orderID subscribes
// to all of the caller's orders.
//
// The returned stop function closes the socket; it is safe to call more than
// once. The subscription also ends when ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, orderID string, onChange ChangeHandler) (stop func(), err error) {
	wsURL, err := c.realtimeURL()
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(err, "dial realtime")
	}

	if err := conn.WriteJSON(subscribeFrame{Table: realtime.TableOrders, OrderID: orderID}); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "send subscribe frame")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var ch realtime.Change
			if err := conn.ReadJSON(&ch); err != nil {
				return
			}
			onChange(ch)
		}
	}()

	stopCh := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stopCh:
		case <-done:
		}
		// Best effort: tell the server we are leaving before tearing down.
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
	}()

	var once sync.Once
	return func() { once.Do(func() { close(stopCh) }) }, nil
}

// realtimeURL derives the websocket endpoint from the API base, carrying the
// bearer token as a query parameter since browser-grade websocket dials
// cannot set headers.
func (c *Client) realtimeURL() (string, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime"
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
