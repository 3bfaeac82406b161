package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunaroast/brewbox/internal/domain/merchant"
	"github.com/lunaroast/brewbox/internal/domain/order"
)

var testSecret = []byte("handler-test-secret")

type memOrderRepo struct {
	byID map[string]*order.Order
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{byID: make(map[string]*order.Order)}
}

func (m *memOrderRepo) Create(_ context.Context, o *order.Order) error {
	cp := *o
	m.byID[o.ID] = &cp
	return nil
}

func (m *memOrderRepo) GetByID(_ context.Context, id string) (*order.Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrderRepo) ListByUser(_ context.Context, userID string, f order.ListFilter) ([]order.Order, error) {
	out := []order.Order{}
	for _, o := range m.byID {
		if o.UserID != userID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (m *memOrderRepo) SetStatus(_ context.Context, id string, status order.Status, at time.Time, message string) error {
	o, ok := m.byID[id]
	if !ok {
		return order.ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = at
	if status == order.StatusDelivered {
		o.DeliveredAt = &at
	}
	o.History = append(o.History, order.StatusEvent{Status: status, Message: message, CreatedAt: at})
	return nil
}

func (m *memOrderRepo) AssignRider(_ context.Context, id string, r order.Rider, at time.Time) error {
	o, ok := m.byID[id]
	if !ok {
		return order.ErrNotFound
	}
	o.Rider = &r
	o.Status = order.StatusRiderAssigned
	o.RiderAssignedAt = &at
	o.UpdatedAt = at
	return nil
}

func (m *memOrderRepo) UpdateRiderLocation(_ context.Context, id string, lat, lng float64) error {
	o, ok := m.byID[id]
	if !ok {
		return order.ErrNotFound
	}
	o.Rider.Lat, o.Rider.Lng = lat, lng
	return nil
}

func (m *memOrderRepo) CreateRating(_ context.Context, r *order.Rating) error {
	o, ok := m.byID[r.OrderID]
	if !ok {
		return order.ErrNotFound
	}
	if o.Rating != nil {
		return order.ErrAlreadyRated
	}
	cp := *r
	o.Rating = &cp
	return nil
}

var _ order.Repository = (*memOrderRepo)(nil)

type memMerchantRepo struct {
	byOwner map[string]*merchant.Summary
}

func (m *memMerchantRepo) GetByID(_ context.Context, id string) (*merchant.Summary, error) {
	for _, s := range m.byOwner {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, merchant.ErrNoMerchant
}

func (m *memMerchantRepo) GetByOwner(_ context.Context, ownerID string) (*merchant.Summary, error) {
	s, ok := m.byOwner[ownerID]
	if !ok {
		return nil, merchant.ErrNoMerchant
	}
	return s, nil
}

func (m *memMerchantRepo) SetOnline(_ context.Context, ownerID string, online bool) (*merchant.Summary, error) {
	s, ok := m.byOwner[ownerID]
	if !ok {
		return nil, merchant.ErrNoMerchant
	}
	s.Online = online
	return s, nil
}

func (m *memMerchantRepo) CreateApplication(_ context.Context, _ *merchant.Application) error {
	return nil
}

var _ merchant.Repository = (*memMerchantRepo)(nil)

type allowAllProfiles struct{}

func (allowAllProfiles) Exists(context.Context, string) (bool, error) { return true, nil }

type testEnv struct {
	repo   *memOrderRepo
	shops  *memMerchantRepo
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := newMemOrderRepo()
	shops := &memMerchantRepo{byOwner: make(map[string]*merchant.Summary)}
	svc := order.NewService(repo, nil, nil)
	h := NewHandler(svc, shops, nil, nil, nil)

	r := chi.NewRouter()
	r.Use(Authenticate(testSecret, allowAllProfiles{}))
	r.Mount("/", h.Routes())

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{repo: repo, shops: shops, server: srv}
}

func signToken(t *testing.T, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func (e *testEnv) do(t *testing.T, method, path, sub string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	if sub != "" {
		req.Header.Set("Authorization", "Bearer "+signToken(t, sub))
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func seedOrder(e *testEnv, userID string, status order.Status) *order.Order {
	now := time.Now().UTC()
	o := &order.Order{
		ID:          "ord-" + string(status),
		UserID:      userID,
		MerchantID:  "shop-1",
		ProductName: "Mystery Roast",
		UnitPrice:   decimal.RequireFromString("39.90"),
		Quantity:    1,
		TotalAmount: decimal.RequireFromString("39.90"),
		Address:     "12 Bean St",
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if status == order.StatusDelivered {
		o.DeliveredAt = &now
	}
	e.repo.byID[o.ID] = o
	return o
}

func TestCreateOrder(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/orders", "user-1", createOrderRequest{
		MerchantID:  "shop-1",
		ProductName: "Mystery Roast",
		UnitPrice:   decimal.RequireFromString("39.90"),
		Quantity:    3,
		Address:     "12 Bean St",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	got := decodeBody[orderResponse](t, resp)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "pending", got.Status)
	assert.True(t, got.TotalAmount.Equal(decimal.RequireFromString("119.70")))
}

func TestCreateOrderValidation(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/orders", "user-1", createOrderRequest{
		MerchantID:  "shop-1",
		ProductName: "Mystery Roast",
		Quantity:    0,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	got := decodeBody[errorResponse](t, resp)
	assert.Contains(t, got.Message, "quantity")
}

func TestCreateOrderUnauthenticated(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/orders", "", createOrderRequest{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListOrdersAnonymousIsEmpty(t *testing.T) {
	e := newTestEnv(t)
	seedOrder(e, "user-1", order.StatusPending)

	resp := e.do(t, http.MethodGet, "/orders", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody[listOrdersResponse](t, resp)
	assert.Empty(t, got.Orders)
	assert.NotNil(t, got.Orders)
}

func TestListOrdersScopedToCaller(t *testing.T) {
	e := newTestEnv(t)
	seedOrder(e, "user-1", order.StatusPending)
	seedOrder(e, "user-2", order.StatusAccepted)

	resp := e.do(t, http.MethodGet, "/orders", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody[listOrdersResponse](t, resp)
	require.Len(t, got.Orders, 1)
	assert.Equal(t, "user-1", got.Orders[0].UserID)
}

func TestGetOrderNotOwnedIs404(t *testing.T) {
	e := newTestEnv(t)
	o := seedOrder(e, "user-1", order.StatusPending)

	resp := e.do(t, http.MethodGet, "/orders/"+o.ID, "user-2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateStatusInvalidTransition(t *testing.T) {
	e := newTestEnv(t)
	o := seedOrder(e, "user-1", order.StatusPending)

	resp := e.do(t, http.MethodPost, "/orders/"+o.ID+"/status", "user-1", updateStatusRequest{
		Status: "delivered",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestUpdateStatusUnknownStatus(t *testing.T) {
	e := newTestEnv(t)
	o := seedOrder(e, "user-1", order.StatusPending)

	resp := e.do(t, http.MethodPost, "/orders/"+o.ID+"/status", "user-1", updateStatusRequest{
		Status: "teleported",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAcceptThenAssignRider(t *testing.T) {
	e := newTestEnv(t)
	o := seedOrder(e, "user-1", order.StatusPending)

	resp := e.do(t, http.MethodPost, "/orders/"+o.ID+"/accept", "merchant-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "accepted", decodeBody[orderResponse](t, resp).Status)

	resp = e.do(t, http.MethodPost, "/orders/"+o.ID+"/rider", "merchant-1", assignRiderRequest{
		Name: "Wei", Phone: "555-0101", Lat: 31.23, Lng: 121.47,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody[orderResponse](t, resp)
	assert.Equal(t, "rider_assigned", got.Status)
	require.NotNil(t, got.Rider)
	assert.Equal(t, "Wei", got.Rider.Name)
}

func TestRiderLocationFallsBackToOrderRow(t *testing.T) {
	e := newTestEnv(t)
	o := seedOrder(e, "user-1", order.StatusRiderAssigned)
	o.Rider = &order.Rider{Name: "Wei", Lat: 31.23, Lng: 121.47}

	resp := e.do(t, http.MethodGet, "/orders/"+o.ID+"/rider", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody[riderLocationRequest](t, resp)
	assert.InDelta(t, 31.23, got.Lat, 1e-9)
	assert.InDelta(t, 121.47, got.Lng, 1e-9)
}

func TestRiderLocationWithoutRider(t *testing.T) {
	e := newTestEnv(t)
	o := seedOrder(e, "user-1", order.StatusAccepted)

	resp := e.do(t, http.MethodGet, "/orders/"+o.ID+"/rider", "user-1", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestSubmitRating(t *testing.T) {
	e := newTestEnv(t)
	o := seedOrder(e, "user-1", order.StatusDelivered)

	resp := e.do(t, http.MethodPost, "/orders/"+o.ID+"/rating", "user-1", ratingRequest{
		Taste: 5, Packaging: 4, Timeliness: 5, Comment: "great",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	got := decodeBody[rateResponse](t, resp)
	assert.Equal(t, 5, got.Rating.Overall)
	assert.GreaterOrEqual(t, got.BeansEarned, 1)
	assert.LessOrEqual(t, got.BeansEarned, 10)
}

func TestSubmitRatingTwiceConflicts(t *testing.T) {
	e := newTestEnv(t)
	o := seedOrder(e, "user-1", order.StatusDelivered)

	body := ratingRequest{Taste: 5, Packaging: 4, Timeliness: 5}
	resp := e.do(t, http.MethodPost, "/orders/"+o.ID+"/rating", "user-1", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/orders/"+o.ID+"/rating", "user-1", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSubmitRatingBeforeDelivery(t *testing.T) {
	e := newTestEnv(t)
	o := seedOrder(e, "user-1", order.StatusPickedUp)

	resp := e.do(t, http.MethodPost, "/orders/"+o.ID+"/rating", "user-1", ratingRequest{
		Taste: 5, Packaging: 4, Timeliness: 5,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestMerchantStatus(t *testing.T) {
	e := newTestEnv(t)
	e.shops.byOwner["owner-1"] = &merchant.Summary{
		ID: "shop-1", Name: "Luna Roast", Online: true,
	}

	resp := e.do(t, http.MethodGet, "/merchant/status", "owner-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[merchantStatusResponse](t, resp).Merchant.Online)

	resp = e.do(t, http.MethodGet, "/merchant/status", "owner-2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestToggleMerchantStatus(t *testing.T) {
	e := newTestEnv(t)
	e.shops.byOwner["owner-1"] = &merchant.Summary{ID: "shop-1", Name: "Luna Roast", Online: true}

	resp := e.do(t, http.MethodPost, "/merchant/status", "owner-1", toggleStatusRequest{Online: false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decodeBody[merchantStatusResponse](t, resp).Merchant.Online)
}

func TestExpiredTokenDegradesToAnonymous(t *testing.T) {
	e := newTestEnv(t)
	seedOrder(e, "user-1", order.StatusPending)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := tok.SignedString(testSecret)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, e.server.URL+"/orders", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signed)

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[listOrdersResponse](t, resp).Orders)
}
