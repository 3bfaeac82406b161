package handler

import (
	"net/http"
	"strconv"
)

type positionResponse struct {
	Address string   `json:"address"`
	POIs    []string `json:"pois,omitempty"`
	Lat     float64  `json:"lat"`
	Lng     float64  `json:"lng"`
}

// locate resolves lat/lng query coordinates into an address with nearby
// POIs, used by the client to prefill the delivery address form.
func (h *Handler) locate(w http.ResponseWriter, r *http.Request) {
	if h.locator == nil {
		writeError(w, r, http.StatusNotFound, "location lookup is not configured")
		return
	}

	lat, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid lat")
		return
	}
	lng, err := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid lng")
		return
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		writeError(w, r, http.StatusBadRequest, "coordinates out of range")
		return
	}

	pos, err := h.locator.Locate(r.Context(), lat, lng)
	if err != nil {
		zlogErr(r, err)
		writeError(w, r, http.StatusBadGateway, "location lookup failed")
		return
	}

	writeJSON(w, r, http.StatusOK, positionResponse{
		Address: pos.Address,
		POIs:    pos.POIs,
		Lat:     pos.Lat,
		Lng:     pos.Lng,
	})
}
