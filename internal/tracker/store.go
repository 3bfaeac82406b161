// Package tracker implements the storefront-side order tracking state:
// fetch stores that cache API snapshots and refresh on realtime changes,
// plus the view model driving the order tracking screen.
package tracker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lunaroast/brewbox/internal/domain/order"
	"github.com/lunaroast/brewbox/internal/gateway"
	"github.com/lunaroast/brewbox/internal/realtime"
)

// DebounceDelay is the trailing-edge delay between a realtime change burst
// and the refetch it triggers. A burst of notifications inside the window
// collapses into a single refetch.
const DebounceDelay = 200 * time.Millisecond

// OrderAPI is the slice of the gateway client the stores consume.
type OrderAPI interface {
	GetOrder(ctx context.Context, id string) (*gateway.Order, error)
	ListOrders(ctx context.Context, status order.Status) ([]gateway.Order, error)
	Subscribe(ctx context.Context, orderID string, onChange gateway.ChangeHandler) (stop func(), err error)
}

var _ OrderAPI = (*gateway.Client)(nil)

// Snapshot is the current state of a single-order store. Err carries the
// last fetch failure as display text; Data keeps the previous value through
// failed refreshes.
type Snapshot struct {
	Data    *gateway.Order
	Loading bool
	Err     string
}

// ListSnapshot is the current state of a list store.
type ListSnapshot struct {
	Data    []gateway.Order
	Loading bool
	Err     string
}

// storeCore carries the state shared by both store kinds: the generation
// counter that discards superseded fetch results, the debounce timer, and
// the subscription teardown.
type storeCore struct {
	mu       sync.Mutex
	gen      uint64
	closed   bool
	loading  bool
	errMsg   string
	stop     func()
	debounce *time.Timer

	delay time.Duration
	log   *zap.Logger
}

// begin starts a new fetch generation, invalidating any in-flight result.
// It returns the generation token and false when the store is closed.
func (c *storeCore) begin() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, false
	}
	c.gen++
	c.loading = true
	return c.gen, true
}

// settle reports whether a completed fetch of the given generation may be
// applied, and records the error outcome. Results from superseded fetches
// and results arriving after Close are discarded.
func (c *storeCore) settle(gen uint64, err error) bool {
	if c.closed || gen != c.gen {
		return false
	}
	c.loading = false
	if err != nil {
		c.errMsg = err.Error()
		return false
	}
	c.errMsg = ""
	return true
}

// bump schedules a trailing-edge debounced call to fn. Each call resets the
// timer so a notification burst produces one trailing invocation.
func (c *storeCore) bump(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounce = time.AfterFunc(c.delay, fn)
}

// close tears down the subscription and timer and invalidates in-flight
// fetches. Idempotent.
func (c *storeCore) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// subscribe opens the realtime subscription, best effort: a failure is
// logged and the store continues without push refreshes.
func (c *storeCore) subscribe(ctx context.Context, api OrderAPI, orderID string, refetch func()) {
	stop, err := api.Subscribe(ctx, orderID, func(realtime.Change) {
		c.bump(refetch)
	})
	if err != nil {
		c.log.Debug("realtime subscription unavailable", zap.Error(err))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		stop()
		return
	}
	c.stop = stop
	c.mu.Unlock()
}

// Option configures a store.
type Option func(*storeCore)

// WithLogger sets the store logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *storeCore) { c.log = log }
}

// WithDebounce overrides the refetch debounce delay.
func WithDebounce(d time.Duration) Option {
	return func(c *storeCore) { c.delay = d }
}

func newCore(opts []Option) *storeCore {
	c := &storeCore{delay: DebounceDelay, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SingleStore tracks one order by id.
type SingleStore struct {
	core *storeCore
	api  OrderAPI
	id   string
	ctx  context.Context

	data *gateway.Order
}

// NewSingleStore creates a store for one order, performs the initial fetch,
// and subscribes to realtime changes scoped to that order. ctx bounds the
// subscription and background refetches; cancelling it is equivalent to
// Close.
func NewSingleStore(ctx context.Context, api OrderAPI, id string, opts ...Option) *SingleStore {
	s := &SingleStore{core: newCore(opts), api: api, id: id, ctx: ctx}
	s.Refetch(ctx)
	s.core.subscribe(ctx, api, id, func() { s.Refetch(s.ctx) })
	return s
}

// Snapshot returns the current state.
func (s *SingleStore) Snapshot() Snapshot {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	return Snapshot{Data: s.data, Loading: s.core.loading, Err: s.core.errMsg}
}

// Refetch fetches the order now and applies the result unless a newer fetch
// superseded it or the store closed meanwhile. Fetch failures become
// snapshot state; previous data is kept.
func (s *SingleStore) Refetch(ctx context.Context) {
	gen, ok := s.core.begin()
	if !ok {
		return
	}

	o, err := s.api.GetOrder(ctx, s.id)

	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	if s.core.settle(gen, err) {
		s.data = o
	}
}

// Close tears the store down. No snapshot updates happen afterwards.
func (s *SingleStore) Close() {
	s.core.close()
}

// ListStore tracks the caller's order list, optionally filtered by raw
// status.
type ListStore struct {
	core   *storeCore
	api    OrderAPI
	ctx    context.Context
	status order.Status

	data []gateway.Order
}

// NewListStore creates a store for the caller's orders, performs the
// initial fetch, and subscribes to realtime changes across all of them.
func NewListStore(ctx context.Context, api OrderAPI, status order.Status, opts ...Option) *ListStore {
	s := &ListStore{core: newCore(opts), api: api, ctx: ctx, status: status}
	s.Refetch(ctx)
	s.core.subscribe(ctx, api, "", func() { s.Refetch(s.ctx) })
	return s
}

// Snapshot returns the current state.
func (s *ListStore) Snapshot() ListSnapshot {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	return ListSnapshot{Data: s.data, Loading: s.core.loading, Err: s.core.errMsg}
}

// Refetch fetches the list now, subject to the same generation discard
// rules as SingleStore.
func (s *ListStore) Refetch(ctx context.Context) {
	gen, ok := s.core.begin()
	if !ok {
		return
	}

	status := s.currentStatus()
	list, err := s.api.ListOrders(ctx, status)

	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	if s.core.settle(gen, err) {
		s.data = list
	}
}

// SetStatus changes the status filter and refetches. In-flight results for
// the previous filter are discarded by the generation bump inside Refetch.
func (s *ListStore) SetStatus(ctx context.Context, status order.Status) {
	s.core.mu.Lock()
	s.status = status
	s.core.mu.Unlock()
	s.Refetch(ctx)
}

func (s *ListStore) currentStatus() order.Status {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	return s.status
}

// Close tears the store down. No snapshot updates happen afterwards.
func (s *ListStore) Close() {
	s.core.close()
}
