package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lunaroast/brewbox/internal/domain/merchant"
	"github.com/lunaroast/brewbox/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// orderColumns is the select list shared by GetByID and ListByUser. The
// merchant summary and rating come from LEFT JOINs so orders stay visible
// even if the merchant row was removed.
const orderColumns = `
	o.id, o.user_id, o.merchant_id,
	o.product_name, o.unit_price, o.quantity, o.total_amount,
	o.address, o.address_lat, o.address_lng, o.contact_name, o.contact_phone,
	o.status,
	o.rider_name, o.rider_phone, o.rider_avatar, o.rider_lat, o.rider_lng,
	o.rider_platform, o.platform_order_id,
	o.created_at, o.accepted_at, o.rider_assigned_at, o.picked_up_at,
	o.delivered_at, o.updated_at,
	m.id, m.name, m.name_localized, m.logo_url, m.rating, m.address,
	m.phone, m.latitude, m.longitude, m.online,
	r.taste, r.packaging, r.timeliness, r.overall, r.comment, r.created_at`

const orderJoins = `
	FROM orders o
	LEFT JOIN merchants m ON m.id = o.merchant_id
	LEFT JOIN order_ratings r ON r.order_id = o.id`

// Create persists a new pending order.
func (s *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (
			id, user_id, merchant_id, product_name, unit_price, quantity,
			total_amount, address, address_lat, address_lng, contact_name,
			contact_phone, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
		o.ID, o.UserID, o.MerchantID, o.ProductName, o.UnitPrice, o.Quantity,
		o.TotalAmount, o.Address, o.AddressLat, o.AddressLng, o.ContactName,
		o.ContactPhone, string(o.Status), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns one order with merchant summary, rating, and full status
// history attached.
func (s *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+orderColumns+orderJoins+` WHERE o.id = $1`, id)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	history, err := s.history(ctx, id)
	if err != nil {
		return nil, err
	}
	o.History = history
	return o, nil
}

// ListByUser returns the user's orders most-recent-first with merchant
// summary and rating attached.
func (s *OrderRepository) ListByUser(ctx context.Context, userID string, f order.ListFilter) ([]order.Order, error) {
	query := `SELECT` + orderColumns + orderJoins + ` WHERE o.user_id = $1`
	args := []any{userID}
	if f.Status != "" {
		query += ` AND o.status = $2`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY o.created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %q: %w", userID, err)
	}
	defer rows.Close()

	orders := []order.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order row: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating order rows: %w", err)
	}
	return orders, nil
}

// SetStatus updates the order status, stamps the matching lifecycle
// timestamp, and appends a history event in one transaction.
func (s *OrderRepository) SetStatus(ctx context.Context, id string, status order.Status, at time.Time, message string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning status transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `UPDATE orders SET status = $2, updated_at = $3`
	switch status {
	case order.StatusAccepted:
		query += `, accepted_at = $3`
	case order.StatusRiderAssigned:
		query += `, rider_assigned_at = $3`
	case order.StatusPickedUp:
		query += `, picked_up_at = $3`
	case order.StatusDelivered:
		query += `, delivered_at = $3`
	}
	query += ` WHERE id = $1`

	tag, err := tx.Exec(ctx, query, id, string(status), at)
	if err != nil {
		return fmt.Errorf("updating order %q status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}

	if err := appendHistory(ctx, tx, id, status, message, at); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing status transaction: %w", err)
	}
	return nil
}

// AssignRider stores rider details and advances the order to rider_assigned
// in one transaction.
func (s *OrderRepository) AssignRider(ctx context.Context, id string, r order.Rider, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning rider transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE orders SET
			status = $2, rider_assigned_at = $3, updated_at = $3,
			rider_name = $4, rider_phone = $5, rider_avatar = $6,
			rider_lat = $7, rider_lng = $8, rider_platform = $9,
			platform_order_id = $10
		WHERE id = $1`,
		id, string(order.StatusRiderAssigned), at,
		r.Name, r.Phone, r.AvatarURL, r.Lat, r.Lng, r.Platform, r.PlatformOrderID,
	)
	if err != nil {
		return fmt.Errorf("assigning rider to order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}

	msg := "rider " + r.Name + " assigned"
	if err := appendHistory(ctx, tx, id, order.StatusRiderAssigned, msg, at); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing rider transaction: %w", err)
	}
	return nil
}

// UpdateRiderLocation refreshes the rider's last-known coordinates.
func (s *OrderRepository) UpdateRiderLocation(ctx context.Context, id string, lat, lng float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET rider_lat = $2, rider_lng = $3, updated_at = now()
		WHERE id = $1`,
		id, lat, lng,
	)
	if err != nil {
		return fmt.Errorf("updating rider location for order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// CreateRating inserts the order's single rating. The primary key on
// order_id turns a duplicate submission into ErrAlreadyRated.
func (s *OrderRepository) CreateRating(ctx context.Context, r *order.Rating) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO order_ratings (
			order_id, user_id, taste, packaging, timeliness, overall, comment, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.OrderID, r.UserID, r.Taste, r.Packaging, r.Timeliness, r.Overall,
		r.Comment, r.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return order.ErrAlreadyRated
		}
		return fmt.Errorf("creating rating for order %q: %w", r.OrderID, err)
	}
	return nil
}

func appendHistory(ctx context.Context, tx pgx.Tx, id string, status order.Status, message string, at time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, status, message, created_at)
		VALUES ($1, $2, $3, $4)`,
		id, string(status), message, at,
	)
	if err != nil {
		return fmt.Errorf("appending status history for order %q: %w", id, err)
	}
	return nil
}

func (s *OrderRepository) history(ctx context.Context, id string) ([]order.StatusEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, message, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("loading status history for order %q: %w", id, err)
	}
	defer rows.Close()

	var events []order.StatusEvent
	for rows.Next() {
		var (
			e      order.StatusEvent
			status string
		)
		if err := rows.Scan(&status, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.Status = order.Status(status)
		events = append(events, e)
	}
	return events, rows.Err()
}

// scanOrder reads one joined order row. Works for both QueryRow and Query
// result rows.
func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o      order.Order
		status string

		riderName, riderPhone, riderAvatar   *string
		riderLat, riderLng                   *float64
		riderPlatform, platformOrderID       *string
		mID, mName, mNameLocalized, mLogoURL *string
		mAddress, mPhone                     *string
		mRating                              *decimal.Decimal
		mLat, mLng                           *float64
		mOnline                              *bool
		rTaste, rPackaging, rTimeliness      *int
		rOverall                             *int
		rComment                             *string
		rCreatedAt                           *time.Time
	)

	err := row.Scan(
		&o.ID, &o.UserID, &o.MerchantID,
		&o.ProductName, &o.UnitPrice, &o.Quantity, &o.TotalAmount,
		&o.Address, &o.AddressLat, &o.AddressLng, &o.ContactName, &o.ContactPhone,
		&status,
		&riderName, &riderPhone, &riderAvatar, &riderLat, &riderLng,
		&riderPlatform, &platformOrderID,
		&o.CreatedAt, &o.AcceptedAt, &o.RiderAssignedAt, &o.PickedUpAt,
		&o.DeliveredAt, &o.UpdatedAt,
		&mID, &mName, &mNameLocalized, &mLogoURL, &mRating, &mAddress,
		&mPhone, &mLat, &mLng, &mOnline,
		&rTaste, &rPackaging, &rTimeliness, &rOverall, &rComment, &rCreatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = order.Status(status)

	if riderName != nil {
		o.Rider = &order.Rider{
			Name:      *riderName,
			Phone:     deref(riderPhone),
			AvatarURL: deref(riderAvatar),
			Platform:  deref(riderPlatform),
		}
		if riderLat != nil {
			o.Rider.Lat = *riderLat
		}
		if riderLng != nil {
			o.Rider.Lng = *riderLng
		}
		o.Rider.PlatformOrderID = deref(platformOrderID)
	}

	if mID != nil {
		o.Merchant = &merchant.Summary{
			ID:            *mID,
			Name:          deref(mName),
			NameLocalized: deref(mNameLocalized),
			LogoURL:       deref(mLogoURL),
			Address:       deref(mAddress),
			Phone:         deref(mPhone),
			Lat:           mLat,
			Lng:           mLng,
		}
		if mRating != nil {
			o.Merchant.Rating = *mRating
		}
		if mOnline != nil {
			o.Merchant.Online = *mOnline
		}
	}

	if rTaste != nil {
		o.Rating = &order.Rating{
			OrderID:    o.ID,
			UserID:     o.UserID,
			Taste:      *rTaste,
			Packaging:  deref(rPackaging),
			Timeliness: deref(rTimeliness),
			Overall:    deref(rOverall),
			Comment:    deref(rComment),
		}
		if rCreatedAt != nil {
			o.Rating.CreatedAt = *rCreatedAt
		}
	}

	return &o, nil
}

func deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
