// Package ridercache keeps the rider's last-known position per order in
// Redis so the tracking read path does not hit Postgres on every poll.
package ridercache

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-redis/redis/v8"
)

// ErrNoLocation is returned when no position has been cached for an order.
var ErrNoLocation = errors.New("no cached rider location")

// Location is one cached rider position.
type Location struct {
	Lat       float64
	Lng       float64
	UpdatedAt time.Time
}

// Cache stores rider positions as Redis hashes keyed by order id, expiring
// after TTL so stale positions disappear once delivery completes.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New creates a Cache. A zero ttl defaults to one hour.
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func key(orderID string) string {
	return "rider:" + orderID
}

// Set records the rider position for an order.
func (c *Cache) Set(ctx context.Context, orderID string, lat, lng float64) error {
	k := key(orderID)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, k, map[string]interface{}{
		"lat":        strconv.FormatFloat(lat, 'f', -1, 64),
		"lng":        strconv.FormatFloat(lng, 'f', -1, 64),
		"updated_at": strconv.FormatInt(time.Now().Unix(), 10),
	})
	pipe.Expire(ctx, k, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "caching rider location for order %q", orderID)
	}
	return nil
}

// Get returns the cached rider position for an order, or ErrNoLocation.
func (c *Cache) Get(ctx context.Context, orderID string) (*Location, error) {
	vals, err := c.rdb.HGetAll(ctx, key(orderID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "reading rider location for order %q", orderID)
	}
	if len(vals) == 0 {
		return nil, ErrNoLocation
	}

	lat, err := strconv.ParseFloat(vals["lat"], 64)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing cached latitude %q", vals["lat"])
	}
	lng, err := strconv.ParseFloat(vals["lng"], 64)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing cached longitude %q", vals["lng"])
	}

	loc := &Location{Lat: lat, Lng: lng}
	if ts, err := strconv.ParseInt(vals["updated_at"], 10, 64); err == nil {
		loc.UpdatedAt = time.Unix(ts, 0)
	}
	return loc, nil
}
