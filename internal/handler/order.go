package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/lunaroast/brewbox/internal/domain/merchant"
	"github.com/lunaroast/brewbox/internal/domain/order"
	"github.com/lunaroast/brewbox/internal/storage/ridercache"
)

// --- Wire types ---

type createOrderRequest struct {
	MerchantID   string          `json:"merchant_id"`
	ProductName  string          `json:"product_name"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Quantity     int             `json:"quantity"`
	Address      string          `json:"address"`
	AddressLat   *float64        `json:"address_lat,omitempty"`
	AddressLng   *float64        `json:"address_lng,omitempty"`
	ContactName  string          `json:"contact_name"`
	ContactPhone string          `json:"contact_phone"`
}

type updateStatusRequest struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type assignRiderRequest struct {
	Name            string  `json:"name"`
	Phone           string  `json:"phone"`
	AvatarURL       string  `json:"avatar_url"`
	Lat             float64 `json:"lat"`
	Lng             float64 `json:"lng"`
	Platform        string  `json:"platform"`
	PlatformOrderID string  `json:"platform_order_id"`
}

type riderLocationRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type ratingRequest struct {
	Taste      int    `json:"taste"`
	Packaging  int    `json:"packaging"`
	Timeliness int    `json:"timeliness"`
	Comment    string `json:"comment,omitempty"`
}

type ratingResponse struct {
	OrderID    string    `json:"order_id"`
	Taste      int       `json:"taste"`
	Packaging  int       `json:"packaging"`
	Timeliness int       `json:"timeliness"`
	Overall    int       `json:"overall"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type rateResponse struct {
	Rating      ratingResponse `json:"rating"`
	BeansEarned int            `json:"beans_earned"`
}

type riderResponse struct {
	Name            string  `json:"name"`
	Phone           string  `json:"phone"`
	AvatarURL       string  `json:"avatar_url,omitempty"`
	Lat             float64 `json:"lat"`
	Lng             float64 `json:"lng"`
	Platform        string  `json:"platform,omitempty"`
	PlatformOrderID string  `json:"platform_order_id,omitempty"`
}

type merchantResponse struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	NameLocalized string          `json:"name_localized,omitempty"`
	LogoURL       string          `json:"logo_url,omitempty"`
	Rating        decimal.Decimal `json:"rating"`
	Address       string          `json:"address,omitempty"`
	Phone         string          `json:"phone,omitempty"`
	Lat           *float64        `json:"lat,omitempty"`
	Lng           *float64        `json:"lng,omitempty"`
	Online        bool            `json:"online"`
}

type statusEventResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type orderResponse struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	MerchantID string `json:"merchant_id"`

	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	TotalAmount decimal.Decimal `json:"total_amount"`

	Address      string   `json:"address"`
	AddressLat   *float64 `json:"address_lat,omitempty"`
	AddressLng   *float64 `json:"address_lng,omitempty"`
	ContactName  string   `json:"contact_name,omitempty"`
	ContactPhone string   `json:"contact_phone,omitempty"`

	Status string         `json:"status"`
	Rider  *riderResponse `json:"rider,omitempty"`

	CreatedAt       time.Time  `json:"created_at"`
	AcceptedAt      *time.Time `json:"accepted_at,omitempty"`
	RiderAssignedAt *time.Time `json:"rider_assigned_at,omitempty"`
	PickedUpAt      *time.Time `json:"picked_up_at,omitempty"`
	DeliveredAt     *time.Time `json:"delivered_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`

	Merchant *merchantResponse     `json:"merchant,omitempty"`
	Rating   *ratingResponse       `json:"rating,omitempty"`
	History  []statusEventResponse `json:"history,omitempty"`
}

type listOrdersResponse struct {
	Orders []orderResponse `json:"orders"`
}

// --- Handlers ---

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := h.orders.Create(r.Context(), order.CreateRequest{
		UserID:       userID,
		MerchantID:   req.MerchantID,
		ProductName:  req.ProductName,
		UnitPrice:    req.UnitPrice,
		Quantity:     req.Quantity,
		Address:      req.Address,
		AddressLat:   req.AddressLat,
		AddressLng:   req.AddressLng,
		ContactName:  req.ContactName,
		ContactPhone: req.ContactPhone,
	})
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, toOrderResponse(o))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	// Anonymous callers get an empty list, not an error.
	userID := UserFrom(r.Context())

	var f order.ListFilter
	if s := r.URL.Query().Get("status"); s != "" {
		f.Status = order.Status(s)
	}

	list, err := h.orders.ListForUser(r.Context(), userID, f)
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}

	resp := listOrdersResponse{Orders: make([]orderResponse, len(list))}
	for i := range list {
		resp.Orders[i] = *toOrderResponse(&list[i])
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	o, err := h.orders.GetForUser(r.Context(), chi.URLParam(r, "orderID"), userID)
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) acceptOrder(w http.ResponseWriter, r *http.Request) {
	if requireUser(w, r) == "" {
		return
	}

	o, err := h.orders.Accept(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	if requireUser(w, r) == "" {
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "orderID"), order.Status(req.Status), req.Message)
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) assignRider(w http.ResponseWriter, r *http.Request) {
	if requireUser(w, r) == "" {
		return
	}

	var req assignRiderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "rider name is required")
		return
	}

	o, err := h.orders.AssignRider(r.Context(), chi.URLParam(r, "orderID"), order.Rider{
		Name:            req.Name,
		Phone:           req.Phone,
		AvatarURL:       req.AvatarURL,
		Lat:             req.Lat,
		Lng:             req.Lng,
		Platform:        req.Platform,
		PlatformOrderID: req.PlatformOrderID,
	})
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) updateRiderLocation(w http.ResponseWriter, r *http.Request) {
	if requireUser(w, r) == "" {
		return
	}

	var req riderLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.orders.UpdateRiderLocation(r.Context(), chi.URLParam(r, "orderID"), req.Lat, req.Lng); err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getRiderLocation(w http.ResponseWriter, r *http.Request) {
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	orderID := chi.URLParam(r, "orderID")
	o, err := h.orders.GetForUser(r.Context(), orderID, userID)
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	if o.Rider == nil {
		writeError(w, r, http.StatusUnprocessableEntity, "order has no rider assigned")
		return
	}

	lat, lng := o.Rider.Lat, o.Rider.Lng
	if h.riders != nil {
		if loc, err := h.riders.Get(r.Context(), orderID); err == nil {
			lat, lng = loc.Lat, loc.Lng
		} else if !errors.Is(err, ridercache.ErrNoLocation) {
			// Cache outage: the order row still has the last persisted ping.
			zlog(r).Debug("rider cache read failed")
		}
	}

	writeJSON(w, r, http.StatusOK, riderLocationRequest{Lat: lat, Lng: lng})
}

func (h *Handler) submitRating(w http.ResponseWriter, r *http.Request) {
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	var req ratingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.orders.Rate(r.Context(), order.RateRequest{
		OrderID:    chi.URLParam(r, "orderID"),
		UserID:     userID,
		Taste:      req.Taste,
		Packaging:  req.Packaging,
		Timeliness: req.Timeliness,
		Comment:    req.Comment,
	})
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, rateResponse{
		Rating:      *toRatingResponse(res.Rating),
		BeansEarned: res.BeansEarned,
	})
}

// writeOrderError maps domain errors onto the API error taxonomy.
func (h *Handler) writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *order.ValidationError
	if errors.As(err, &vErr) {
		writeError(w, r, http.StatusBadRequest, vErr.Error())
		return
	}

	var itErr *order.InvalidTransitionError
	if errors.As(err, &itErr) {
		writeError(w, r, http.StatusUnprocessableEntity, itErr.Error())
		return
	}

	switch {
	case errors.Is(err, order.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "order not found")
	case errors.Is(err, order.ErrAlreadyRated):
		writeError(w, r, http.StatusConflict, "order already rated")
	case errors.Is(err, order.ErrNotDelivered), errors.Is(err, order.ErrNoRider):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		zlogErr(r, err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// --- Mapping ---

func toOrderResponse(o *order.Order) *orderResponse {
	resp := &orderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		MerchantID:      o.MerchantID,
		ProductName:     o.ProductName,
		UnitPrice:       o.UnitPrice,
		Quantity:        o.Quantity,
		TotalAmount:     o.TotalAmount,
		Address:         o.Address,
		AddressLat:      o.AddressLat,
		AddressLng:      o.AddressLng,
		ContactName:     o.ContactName,
		ContactPhone:    o.ContactPhone,
		Status:          string(o.Status),
		CreatedAt:       o.CreatedAt,
		AcceptedAt:      o.AcceptedAt,
		RiderAssignedAt: o.RiderAssignedAt,
		PickedUpAt:      o.PickedUpAt,
		DeliveredAt:     o.DeliveredAt,
		UpdatedAt:       o.UpdatedAt,
	}

	if o.Rider != nil {
		resp.Rider = &riderResponse{
			Name:            o.Rider.Name,
			Phone:           o.Rider.Phone,
			AvatarURL:       o.Rider.AvatarURL,
			Lat:             o.Rider.Lat,
			Lng:             o.Rider.Lng,
			Platform:        o.Rider.Platform,
			PlatformOrderID: o.Rider.PlatformOrderID,
		}
	}
	if o.Merchant != nil {
		resp.Merchant = toMerchantResponse(o.Merchant)
	}
	if o.Rating != nil {
		resp.Rating = toRatingResponse(o.Rating)
	}
	for _, e := range o.History {
		resp.History = append(resp.History, statusEventResponse{
			Status:    string(e.Status),
			Message:   e.Message,
			CreatedAt: e.CreatedAt,
		})
	}
	return resp
}

func toMerchantResponse(m *merchant.Summary) *merchantResponse {
	return &merchantResponse{
		ID:            m.ID,
		Name:          m.Name,
		NameLocalized: m.NameLocalized,
		LogoURL:       m.LogoURL,
		Rating:        m.Rating,
		Address:       m.Address,
		Phone:         m.Phone,
		Lat:           m.Lat,
		Lng:           m.Lng,
		Online:        m.Online,
	}
}

func toRatingResponse(rt *order.Rating) *ratingResponse {
	return &ratingResponse{
		OrderID:    rt.OrderID,
		Taste:      rt.Taste,
		Packaging:  rt.Packaging,
		Timeliness: rt.Timeliness,
		Overall:    rt.Overall,
		Comment:    rt.Comment,
		CreatedAt:  rt.CreatedAt,
	}
}
