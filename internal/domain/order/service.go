package order

import (
	"context"
	"math/rand"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CommentMaxLen is the rating comment cap, in characters.
const CommentMaxLen = 200

// Notifier receives change notifications after successful order mutations.
// Implementations must not block.
type Notifier interface {
	OrderChanged(orderID, userID, event string)
}

// RiderLocations caches the rider's last-known position per order for the
// realtime tracking push path.
type RiderLocations interface {
	Set(ctx context.Context, orderID string, lat, lng float64) error
}

// CreateRequest holds the input for creating an order at checkout.
type CreateRequest struct {
	UserID       string
	MerchantID   string
	ProductName  string
	UnitPrice    decimal.Decimal
	Quantity     int
	Address      string
	AddressLat   *float64
	AddressLng   *float64
	ContactName  string
	ContactPhone string
}

// RateRequest holds the input for submitting an order rating.
type RateRequest struct {
	OrderID    string
	UserID     string
	Taste      int
	Packaging  int
	Timeliness int
	Comment    string
}

// RateResult is the outcome of a successful rating submission. BeansEarned
// is a cosmetic reward surfaced to the client; it is not persisted to any
// ledger.
type RateResult struct {
	Rating      *Rating
	BeansEarned int
}

// Service encapsulates order lifecycle business logic: creation, the
// forward-only status progression, rider tracking, and the single-rating
// rule.
type Service struct {
	orders    Repository
	notify    Notifier
	locations RiderLocations

	now   func() time.Time
	beans func() int
}

// NewService creates an order Service. notify and locations may be nil when
// realtime fan-out or rider caching is not wired (tests, ingest tooling).
func NewService(orders Repository, notify Notifier, locations RiderLocations) *Service {
	return &Service{
		orders:    orders,
		notify:    notify,
		locations: locations,
		now:       time.Now,
		beans:     func() int { return rand.Intn(10) + 1 },
	}
}

// Create validates the checkout input, computes the total, and persists a
// pending order.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	if req.UserID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "required"}
	}
	if req.MerchantID == "" {
		return nil, &ValidationError{Field: "merchant_id", Reason: "required"}
	}
	if req.ProductName == "" {
		return nil, &ValidationError{Field: "product_name", Reason: "required"}
	}
	if req.Quantity <= 0 {
		return nil, &ValidationError{Field: "quantity", Reason: "must be greater than 0"}
	}
	if req.UnitPrice.IsNegative() {
		return nil, &ValidationError{Field: "unit_price", Reason: "must not be negative"}
	}

	now := s.now()
	o := &Order{
		ID:           uuid.New().String(),
		UserID:       req.UserID,
		MerchantID:   req.MerchantID,
		ProductName:  req.ProductName,
		UnitPrice:    req.UnitPrice,
		Quantity:     req.Quantity,
		TotalAmount:  req.UnitPrice.Mul(decimal.NewFromInt(int64(req.Quantity))).Round(2),
		Address:      req.Address,
		AddressLat:   req.AddressLat,
		AddressLng:   req.AddressLng,
		ContactName:  req.ContactName,
		ContactPhone: req.ContactPhone,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	s.orderChanged(o.ID, o.UserID, "INSERT")
	return o, nil
}

// GetForUser returns one order owned by the caller. Orders owned by someone
// else surface as not found so existence does not leak.
func (s *Service) GetForUser(ctx context.Context, id, userID string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

// ListForUser returns the caller's orders most-recent-first. An empty
// principal degrades to an empty list rather than an error.
func (s *Service) ListForUser(ctx context.Context, userID string, f ListFilter) ([]Order, error) {
	if userID == "" {
		return []Order{}, nil
	}
	list, err := s.orders.ListByUser(ctx, userID, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return list, nil
}

// Accept moves a pending order to accepted on behalf of the merchant.
func (s *Service) Accept(ctx context.Context, id string) (*Order, error) {
	return s.transition(ctx, id, StatusAccepted, "merchant accepted the order")
}

// UpdateStatus applies one forward step of the delivery progression, or a
// cancellation. Regressions and skipped steps are rejected.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status, message string) (*Order, error) {
	if !to.Valid() {
		return nil, &ValidationError{Field: "status", Reason: "unknown status"}
	}
	return s.transition(ctx, id, to, message)
}

func (s *Service) transition(ctx context.Context, id string, to Status, message string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(o.Status, to) {
		return nil, &InvalidTransitionError{From: o.Status, To: to}
	}

	at := s.now()
	if err := s.orders.SetStatus(ctx, id, to, at, message); err != nil {
		return nil, errors.Wrapf(err, "set status %s", to)
	}

	s.orderChanged(id, o.UserID, "UPDATE")
	return s.orders.GetByID(ctx, id)
}

// AssignRider attaches courier details to an accepted order and advances it
// to rider_assigned.
func (s *Service) AssignRider(ctx context.Context, id string, r Rider) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(o.Status, StatusRiderAssigned) {
		return nil, &InvalidTransitionError{From: o.Status, To: StatusRiderAssigned}
	}

	if err := s.orders.AssignRider(ctx, id, r, s.now()); err != nil {
		return nil, errors.Wrap(err, "assign rider")
	}

	s.orderChanged(id, o.UserID, "UPDATE")
	return s.orders.GetByID(ctx, id)
}

// UpdateRiderLocation records a rider position ping on the order row and in
// the location cache. Pings on orders without a rider are rejected.
func (s *Service) UpdateRiderLocation(ctx context.Context, id string, lat, lng float64) error {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if o.Rider == nil {
		return ErrNoRider
	}

	if err := s.orders.UpdateRiderLocation(ctx, id, lat, lng); err != nil {
		return errors.Wrap(err, "update rider location")
	}
	if s.locations != nil {
		if err := s.locations.Set(ctx, id, lat, lng); err != nil {
			// Cache write failures must not fail the ping; the order row is
			// already updated and remains the fallback read path.
			zctx.From(ctx).Warn("rider location cache write failed",
				zap.String("order_id", id), zap.Error(err))
		}
	}

	s.orderChanged(id, o.UserID, "UPDATE")
	return nil
}

// Rate submits the order's single rating. The order must be delivered and
// owned by the caller; a second submission returns ErrAlreadyRated. The
// overall score is the rounded mean of the three dimension scores.
func (s *Service) Rate(ctx context.Context, req RateRequest) (*RateResult, error) {
	for _, f := range []struct {
		name  string
		score int
	}{
		{"taste", req.Taste},
		{"packaging", req.Packaging},
		{"timeliness", req.Timeliness},
	} {
		if f.score < 1 || f.score > 5 {
			return nil, &ValidationError{Field: f.name, Reason: "score must be between 1 and 5"}
		}
	}
	if utf8.RuneCountInString(req.Comment) > CommentMaxLen {
		return nil, &ValidationError{Field: "comment", Reason: "must be at most 200 characters"}
	}

	o, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != req.UserID {
		return nil, ErrNotFound
	}
	switch o.Status {
	case StatusDelivered:
	case StatusRated:
		return nil, ErrAlreadyRated
	default:
		return nil, ErrNotDelivered
	}

	r := &Rating{
		OrderID:    req.OrderID,
		UserID:     req.UserID,
		Taste:      req.Taste,
		Packaging:  req.Packaging,
		Timeliness: req.Timeliness,
		Overall:    (req.Taste + req.Packaging + req.Timeliness + 1) / 3,
		Comment:    req.Comment,
		CreatedAt:  s.now(),
	}
	if err := s.orders.CreateRating(ctx, r); err != nil {
		return nil, err
	}
	if err := s.orders.SetStatus(ctx, req.OrderID, StatusRated, s.now(), "customer rated the order"); err != nil {
		return nil, errors.Wrap(err, "mark order rated")
	}

	s.orderChanged(req.OrderID, req.UserID, "UPDATE")
	return &RateResult{Rating: r, BeansEarned: s.beans()}, nil
}

func (s *Service) orderChanged(orderID, userID, event string) {
	if s.notify != nil {
		s.notify.OrderChanged(orderID, userID, event)
	}
}
