// Package handler exposes the order lifecycle and merchant endpoints as a
// chi-routed JSON API. Request and response shapes mirror the
// order-management and merchant-status function contracts consumed by the
// storefront client.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lunaroast/brewbox/internal/domain/merchant"
	"github.com/lunaroast/brewbox/internal/domain/order"
	"github.com/lunaroast/brewbox/internal/geo"
	"github.com/lunaroast/brewbox/internal/storage/objectstore"
	"github.com/lunaroast/brewbox/internal/storage/ridercache"
)

// RiderLocationReader reads the cached rider position for an order.
type RiderLocationReader interface {
	Get(ctx context.Context, orderID string) (*ridercache.Location, error)
}

// PositionLocator resolves coordinates into an address with nearby POIs.
type PositionLocator interface {
	Locate(ctx context.Context, lat, lng float64) (*geo.Position, error)
}

// Handler serves the API routes, delegating business logic to the order
// service and merchant repository.
type Handler struct {
	orders    *order.Service
	merchants merchant.Repository
	riders    RiderLocationReader
	docs      objectstore.Store
	locator   PositionLocator
}

// NewHandler constructs a Handler with the required domain dependencies.
// riders, docs, and locator may be nil; the corresponding endpoints then
// fall back to order-row data, reject uploads, and 404 respectively.
func NewHandler(
	orders *order.Service,
	merchants merchant.Repository,
	riders RiderLocationReader,
	docs objectstore.Store,
	locator PositionLocator,
) *Handler {
	return &Handler{
		orders:    orders,
		merchants: merchants,
		riders:    riders,
		docs:      docs,
		locator:   locator,
	}
}

// Routes returns the API router. Authentication is applied by the caller's
// middleware chain; handlers read the principal from the request context.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Route("/{orderID}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Post("/accept", h.acceptOrder)
			r.Post("/status", h.updateStatus)
			r.Post("/rider", h.assignRider)
			r.Post("/rider-location", h.updateRiderLocation)
			r.Get("/rider", h.getRiderLocation)
			r.Post("/rating", h.submitRating)
		})
	})

	r.Route("/merchant", func(r chi.Router) {
		r.Get("/status", h.merchantStatus)
		r.Post("/status", h.toggleMerchantStatus)
		r.Post("/applications", h.submitApplication)
	})

	r.Get("/geo/locate", h.locate)

	return r
}

// requireUser resolves the principal or writes a 401. Returns "" after
// writing the error.
func requireUser(w http.ResponseWriter, r *http.Request) string {
	userID := UserFrom(r.Context())
	if userID == "" {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	}
	return userID
}
