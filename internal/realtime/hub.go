// Package realtime fans order change notifications out to subscribed
// clients. Consumers treat a notification as a hint to refetch, never as a
// data payload, so delivery is at-most-once and slow subscribers are
// disconnected instead of backpressuring publishers.
package realtime

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// TableOrders is the only change feed currently published.
const TableOrders = "orders"

// Change describes one mutation on a subscribed table.
type Change struct {
	Table   string    `json:"table"`
	Event   string    `json:"event"` // INSERT or UPDATE
	OrderID string    `json:"order_id"`
	UserID  string    `json:"user_id"`
	At      time.Time `json:"at"`
}

// Filter scopes a subscription. Empty fields match everything, so a list
// view subscribes with just a user id and a tracking view adds the order id.
type Filter struct {
	Table   string
	OrderID string
	UserID  string
}

func (f Filter) matches(c Change) bool {
	if f.Table != "" && f.Table != c.Table {
		return false
	}
	if f.OrderID != "" && f.OrderID != c.OrderID {
		return false
	}
	if f.UserID != "" && f.UserID != c.UserID {
		return false
	}
	return true
}

type subscriber struct {
	filter Filter
	ch     chan Change
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub is the in-process change broadcaster.
type Hub struct {
	log *zap.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
	buf  int
}

// NewHub creates a Hub whose subscriber channels buffer up to buf pending
// changes before the subscriber is considered slow and dropped.
func NewHub(log *zap.Logger, buf int) *Hub {
	if buf <= 0 {
		buf = 16
	}
	return &Hub{
		log:  log,
		subs: make(map[*subscriber]struct{}),
		buf:  buf,
	}
}

// Subscribe registers a change listener. The returned cancel func removes
// the subscriber and closes the channel; it is idempotent and the
// subscriber is guaranteed to receive no further sends once cancel returns.
func (h *Hub) Subscribe(f Filter) (<-chan Change, func()) {
	s := &subscriber{
		filter: f,
		ch:     make(chan Change, h.buf),
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, s)
		h.mu.Unlock()
		s.close()
	}
	return s.ch, cancel
}

// Publish delivers c to every matching subscriber without blocking. A
// subscriber whose buffer is full is dropped: its channel is closed and the
// consumer is expected to treat that as end-of-stream.
func (h *Hub) Publish(c Change) {
	if c.At.IsZero() {
		c.At = time.Now()
	}

	h.mu.Lock()
	var slow []*subscriber
	for s := range h.subs {
		if !s.filter.matches(c) {
			continue
		}
		select {
		case s.ch <- c:
		default:
			slow = append(slow, s)
		}
	}
	for _, s := range slow {
		delete(h.subs, s)
	}
	h.mu.Unlock()

	for _, s := range slow {
		s.close()
		h.log.Warn("dropping slow realtime subscriber",
			zap.String("table", s.filter.Table),
			zap.String("order_id", s.filter.OrderID),
		)
	}
}

// OrderChanged implements the order service's Notifier interface.
func (h *Hub) OrderChanged(orderID, userID, event string) {
	h.Publish(Change{
		Table:   TableOrders,
		Event:   event,
		OrderID: orderID,
		UserID:  userID,
	})
}

// SubscriberCount returns the number of live subscribers, for health and
// test introspection.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
