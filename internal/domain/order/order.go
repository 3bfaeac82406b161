package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lunaroast/brewbox/internal/domain/merchant"
)

// Status is the persisted lifecycle status of an order. Transitions are
// driven exclusively by the service layer; clients treat the stored value
// as authoritative.
type Status string

const (
	StatusPending       Status = "pending"
	StatusAccepted      Status = "accepted"
	StatusRiderAssigned Status = "rider_assigned"
	StatusPickedUp      Status = "picked_up"
	StatusDelivered     Status = "delivered"
	StatusRated         Status = "rated"
	StatusCancelled     Status = "cancelled"
)

// statusRank orders the linear delivery progression. Cancelled is terminal
// and handled separately in canTransition.
var statusRank = map[Status]int{
	StatusPending:       0,
	StatusAccepted:      1,
	StatusRiderAssigned: 2,
	StatusPickedUp:      3,
	StatusDelivered:     4,
	StatusRated:         5,
}

// Valid reports whether s is a known persisted status.
func (s Status) Valid() bool {
	if s == StatusCancelled {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// canTransition reports whether an order may move from one status to the
// next. The delivery progression is strictly forward and skips no steps;
// cancellation is allowed only until the rider picks the order up.
func canTransition(from, to Status) bool {
	if to == StatusCancelled {
		return from == StatusPending || from == StatusAccepted || from == StatusRiderAssigned
	}
	fr, ok := statusRank[from]
	if !ok {
		return false
	}
	tr, ok := statusRank[to]
	if !ok {
		return false
	}
	return tr == fr+1
}

// Rider holds courier details populated once an order is dispatched to a
// delivery platform.
type Rider struct {
	Name            string
	Phone           string
	AvatarURL       string
	Lat             float64
	Lng             float64
	Platform        string
	PlatformOrderID string
}

// Rating is the single per-order review. Scores are 1-5; the comment is
// capped at 200 characters (enforced by the service and the database).
type Rating struct {
	OrderID    string
	UserID     string
	Taste      int
	Packaging  int
	Timeliness int
	Overall    int
	Comment    string
	CreatedAt  time.Time
}

// StatusEvent is one append-only entry in an order's status history.
type StatusEvent struct {
	Status    Status
	Message   string
	CreatedAt time.Time
}

// Order represents one blind box purchase with its delivery and review state.
type Order struct {
	ID         string
	UserID     string
	MerchantID string

	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
	TotalAmount decimal.Decimal

	Address      string
	AddressLat   *float64
	AddressLng   *float64
	ContactName  string
	ContactPhone string

	Status Status
	Rider  *Rider

	CreatedAt       time.Time
	AcceptedAt      *time.Time
	RiderAssignedAt *time.Time
	PickedUpAt      *time.Time
	DeliveredAt     *time.Time
	UpdatedAt       time.Time

	Merchant *merchant.Summary
	Rating   *Rating
	History  []StatusEvent
}

// ListFilter narrows ListByUser results. A zero value matches all orders.
type ListFilter struct {
	Status Status
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	// GetByID returns the order with merchant summary, rating, and full
	// status history attached. Returns ErrNotFound when no row exists.
	GetByID(ctx context.Context, id string) (*Order, error)
	// ListByUser returns the user's orders most-recent-first with merchant
	// summary and rating attached (no history).
	ListByUser(ctx context.Context, userID string, f ListFilter) ([]Order, error)
	// SetStatus updates the status, stamps the matching lifecycle timestamp,
	// and appends a history event in the same transaction.
	SetStatus(ctx context.Context, id string, status Status, at time.Time, message string) error
	// AssignRider stores rider details alongside the rider_assigned transition.
	AssignRider(ctx context.Context, id string, r Rider, at time.Time) error
	// UpdateRiderLocation refreshes the rider's last-known coordinates.
	UpdateRiderLocation(ctx context.Context, id string, lat, lng float64) error
	// CreateRating inserts the order's single rating. Returns ErrAlreadyRated
	// when a rating row already exists.
	CreateRating(ctx context.Context, r *Rating) error
}
