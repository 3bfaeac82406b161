// Package gateway is the storefront-side client for the order API. It
// speaks the same JSON contract the handler package serves and feeds the
// tracking stores with typed snapshots.
package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lunaroast/brewbox/internal/domain/order"
)

// API errors surfaced to callers. Transport failures are returned wrapped.
var (
	ErrNotFound     = errors.New("not found")
	ErrAlreadyRated = errors.New("already rated")
	ErrUnauthorized = errors.New("unauthorized")
)

// Rider is the courier block of a fetched order.
type Rider struct {
	Name  string
	Phone string
	Lat   float64
	Lng   float64
}

// Merchant is the shop block of a fetched order.
type Merchant struct {
	ID      string
	Name    string
	LogoURL string
	Phone   string
	Address string
	Lat     *float64
	Lng     *float64
}

// Rating is the review block of a fetched order.
type Rating struct {
	Taste      int
	Packaging  int
	Timeliness int
	Overall    int
	Comment    string
}

// Order is the client-side order projection used by the tracking views.
type Order struct {
	ID          string
	Status      order.Status
	ProductName string
	Quantity    int
	TotalAmount decimal.Decimal
	Address     string

	Rider    *Rider
	Merchant *Merchant
	Rating   *Rating

	CreatedAt   time.Time
	DeliveredAt *time.Time
	UpdatedAt   time.Time
}

// RatingInput is the payload for SubmitRating.
type RatingInput struct {
	Taste      int
	Packaging  int
	Timeliness int
	Comment    string
}

// RateOutcome is the result of a successful rating submission.
type RateOutcome struct {
	Overall     int
	BeansEarned int
}

// Client calls the order API over HTTP with bearer authentication.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The transport is still
// wrapped for tracing.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// NewClient creates a Client for the API at base, authenticating with the
// given bearer token. Requests are traced via otelhttp.
func NewClient(base, token string, opts ...Option) *Client {
	c := &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}

	transport := c.http.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	c.http.Transport = otelhttp.NewTransport(transport)
	return c
}

// GetOrder fetches one order with its merchant, rider, and rating attached.
func (c *Client) GetOrder(ctx context.Context, id string) (*Order, error) {
	body, err := c.do(ctx, http.MethodGet, "/orders/"+id, nil)
	if err != nil {
		return nil, err
	}
	o, err := decodeOrder(jx.DecodeBytes(body))
	if err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	return o, nil
}

// ListOrders fetches the caller's orders, optionally filtered by raw status.
func (c *Client) ListOrders(ctx context.Context, status order.Status) ([]Order, error) {
	path := "/orders"
	if status != "" {
		path += "?status=" + string(status)
	}
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var list []Order
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "orders" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			o, err := decodeOrder(d)
			if err != nil {
				return err
			}
			list = append(list, *o)
			return nil
		})
	}); err != nil {
		return nil, errors.Wrap(err, "decode order list")
	}
	if list == nil {
		list = []Order{}
	}
	return list, nil
}

// SubmitRating posts the order's single rating.
func (c *Client) SubmitRating(ctx context.Context, orderID string, in RatingInput) (*RateOutcome, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("taste", func(e *jx.Encoder) { e.Int(in.Taste) })
		e.Field("packaging", func(e *jx.Encoder) { e.Int(in.Packaging) })
		e.Field("timeliness", func(e *jx.Encoder) { e.Int(in.Timeliness) })
		if in.Comment != "" {
			e.Field("comment", func(e *jx.Encoder) { e.Str(in.Comment) })
		}
	})

	body, err := c.do(ctx, http.MethodPost, "/orders/"+orderID+"/rating", e.Bytes())
	if err != nil {
		return nil, err
	}

	var out RateOutcome
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "beans_earned":
			v, err := d.Int()
			out.BeansEarned = v
			return err
		case "rating":
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "overall" {
					return d.Skip()
				}
				v, err := d.Int()
				out.Overall = v
				return err
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(err, "decode rating result")
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return raw, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		return nil, ErrAlreadyRated
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	default:
		return nil, errors.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, apiMessage(raw))
	}
}

// apiMessage pulls the message field out of an error body, falling back to
// the raw payload.
func apiMessage(raw []byte) string {
	var msg string
	d := jx.DecodeBytes(raw)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "message" {
			return d.Skip()
		}
		v, err := d.Str()
		msg = v
		return err
	}); err != nil || msg == "" {
		return string(raw)
	}
	return msg
}

func decodeOrder(d *jx.Decoder) (*Order, error) {
	var o Order
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			return decodeStr(d, &o.ID)
		case "status":
			var s string
			if err := decodeStr(d, &s); err != nil {
				return err
			}
			o.Status = order.Status(s)
			return nil
		case "product_name":
			return decodeStr(d, &o.ProductName)
		case "quantity":
			v, err := d.Int()
			o.Quantity = v
			return err
		case "total_amount":
			return decodeDecimal(d, &o.TotalAmount)
		case "address":
			return decodeStr(d, &o.Address)
		case "rider":
			r, err := decodeRider(d)
			o.Rider = r
			return err
		case "merchant":
			m, err := decodeMerchant(d)
			o.Merchant = m
			return err
		case "rating":
			r, err := decodeRating(d)
			o.Rating = r
			return err
		case "created_at":
			return decodeTime(d, &o.CreatedAt)
		case "delivered_at":
			var ts time.Time
			if err := decodeTime(d, &ts); err != nil {
				return err
			}
			if !ts.IsZero() {
				o.DeliveredAt = &ts
			}
			return nil
		case "updated_at":
			return decodeTime(d, &o.UpdatedAt)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func decodeRider(d *jx.Decoder) (*Rider, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var r Rider
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "name":
			return decodeStr(d, &r.Name)
		case "phone":
			return decodeStr(d, &r.Phone)
		case "lat":
			v, err := d.Float64()
			r.Lat = v
			return err
		case "lng":
			v, err := d.Float64()
			r.Lng = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func decodeMerchant(d *jx.Decoder) (*Merchant, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var m Merchant
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			return decodeStr(d, &m.ID)
		case "name":
			return decodeStr(d, &m.Name)
		case "logo_url":
			return decodeStr(d, &m.LogoURL)
		case "phone":
			return decodeStr(d, &m.Phone)
		case "address":
			return decodeStr(d, &m.Address)
		case "lat":
			v, err := d.Float64()
			m.Lat = &v
			return err
		case "lng":
			v, err := d.Float64()
			m.Lng = &v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func decodeRating(d *jx.Decoder) (*Rating, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var r Rating
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "taste":
			v, err := d.Int()
			r.Taste = v
			return err
		case "packaging":
			v, err := d.Int()
			r.Packaging = v
			return err
		case "timeliness":
			v, err := d.Int()
			r.Timeliness = v
			return err
		case "overall":
			v, err := d.Int()
			r.Overall = v
			return err
		case "comment":
			return decodeStr(d, &r.Comment)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func decodeStr(d *jx.Decoder, dst *string) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	v, err := d.Str()
	*dst = v
	return err
}

func decodeDecimal(d *jx.Decoder, dst *decimal.Decimal) error {
	n, err := d.Num()
	if err != nil {
		return err
	}
	v, err := decimal.NewFromString(strings.Trim(n.String(), `"`))
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func decodeTime(d *jx.Decoder, dst *time.Time) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	var s string
	if err := decodeStr(d, &s); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return errors.Wrapf(err, "parse timestamp %q", s)
	}
	*dst = ts
	return nil
}
