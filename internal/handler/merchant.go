package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/lunaroast/brewbox/internal/domain/merchant"
)

// maxApplicationUpload bounds each onboarding document (license, permit).
const maxApplicationUpload = 5 << 20 // 5 MiB

type merchantStatusResponse struct {
	Merchant merchantResponse `json:"merchant"`
}

type toggleStatusRequest struct {
	Online bool `json:"online"`
}

type applicationResponse struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	LicenseURL string    `json:"license_url,omitempty"`
	PermitURL  string    `json:"permit_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// merchantStatus returns the merchant owned by the caller.
func (h *Handler) merchantStatus(w http.ResponseWriter, r *http.Request) {
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	m, err := h.merchants.GetByOwner(r.Context(), userID)
	if err != nil {
		h.writeMerchantError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, merchantStatusResponse{Merchant: *toMerchantResponse(m)})
}

// toggleMerchantStatus flips the caller's merchant online flag.
func (h *Handler) toggleMerchantStatus(w http.ResponseWriter, r *http.Request) {
	userID := requireUser(w, r)
	if userID == "" {
		return
	}

	var req toggleStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	m, err := h.merchants.SetOnline(r.Context(), userID, req.Online)
	if err != nil {
		h.writeMerchantError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, merchantStatusResponse{Merchant: *toMerchantResponse(m)})
}

// submitApplication accepts a multipart onboarding form with the shop
// details and the license/permit documents, stores the documents and
// persists the application as pending.
func (h *Handler) submitApplication(w http.ResponseWriter, r *http.Request) {
	userID := requireUser(w, r)
	if userID == "" {
		return
	}
	if h.docs == nil {
		writeError(w, r, http.StatusServiceUnavailable, "document uploads are not configured")
		return
	}

	if err := r.ParseMultipartForm(2 * maxApplicationUpload); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	app := merchant.Application{
		ID:           uuid.NewString(),
		ApplicantID:  userID,
		ShopName:     r.FormValue("shop_name"),
		ContactName:  r.FormValue("contact_name"),
		ContactPhone: r.FormValue("contact_phone"),
		Address:      r.FormValue("address"),
		Status:       "pending",
		CreatedAt:    time.Now().UTC(),
	}
	if app.ShopName == "" {
		writeError(w, r, http.StatusBadRequest, "shop_name is required")
		return
	}
	if app.ContactPhone == "" {
		writeError(w, r, http.StatusBadRequest, "contact_phone is required")
		return
	}

	var err error
	if app.LicenseURL, err = h.storeDocument(r, "license", app.ID); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if app.PermitURL, err = h.storeDocument(r, "permit", app.ID); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if app.LicenseURL == "" {
		writeError(w, r, http.StatusBadRequest, "license document is required")
		return
	}

	if err := h.merchants.CreateApplication(r.Context(), &app); err != nil {
		zlogErr(r, err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, r, http.StatusCreated, applicationResponse{
		ID:         app.ID,
		Status:     app.Status,
		LicenseURL: app.LicenseURL,
		PermitURL:  app.PermitURL,
		CreatedAt:  app.CreatedAt,
	})
}

// storeDocument uploads one named form file, returning "" when the field is
// absent. The stored name is scoped by application id so documents from
// different applications never collide.
func (h *Handler) storeDocument(r *http.Request, field, appID string) (string, error) {
	f, hdr, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil
		}
		return "", fmt.Errorf("reading %s document: %w", field, err)
	}
	defer func() { _ = f.Close() }()

	if hdr.Size > maxApplicationUpload {
		return "", fmt.Errorf("%s document exceeds the %d byte limit", field, maxApplicationUpload)
	}

	name := appID + "-" + field + filepath.Ext(hdr.Filename)
	url, err := h.docs.Upload(r.Context(), name, io.LimitReader(f, maxApplicationUpload))
	if err != nil {
		return "", fmt.Errorf("storing %s document: %w", field, err)
	}
	return url, nil
}

func (h *Handler) writeMerchantError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, merchant.ErrNoMerchant) {
		writeError(w, r, http.StatusNotFound, "no merchant for this profile")
		return
	}
	zlogErr(r, err)
	writeError(w, r, http.StatusInternalServerError, "internal error")
}
