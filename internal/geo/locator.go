// Package geo resolves device coordinates into a human-readable position:
// an address line plus nearby points of interest, used to prefill the
// delivery address form.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// lookupTimeout bounds each provider round trip.
	lookupTimeout = 10 * time.Second
	// cacheTTL is how long a resolved position stays fresh.
	cacheTTL = 60 * time.Second
	// coordPrecision is the rounding applied to cache keys; ~11m at the
	// equator, coarse enough that GPS jitter hits the same entry.
	coordPrecision = 4
)

// Position is a resolved location.
type Position struct {
	Address string
	POIs    []string
	Lat     float64
	Lng     float64
}

// ReverseGeocoder turns coordinates into an address line.
type ReverseGeocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (address string, err error)
}

// POISearcher lists points of interest near the coordinates.
type POISearcher interface {
	NearbyPOIs(ctx context.Context, lat, lng float64) ([]string, error)
}

// Locator merges both providers behind a short-lived position cache.
type Locator struct {
	geocoder ReverseGeocoder
	pois     POISearcher
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPosition
}

type cachedPosition struct {
	pos Position
	at  time.Time
}

// NewLocator creates a Locator. pois may be nil; positions then carry the
// address only.
func NewLocator(geocoder ReverseGeocoder, pois POISearcher) *Locator {
	return &Locator{
		geocoder: geocoder,
		pois:     pois,
		now:      time.Now,
		cache:    make(map[string]cachedPosition),
	}
}

// Locate resolves the coordinates, serving repeated lookups of the same
// rounded position from cache for 60 seconds. A POI provider failure
// degrades to an address-only position; a geocoder failure is an error.
func (l *Locator) Locate(ctx context.Context, lat, lng float64) (*Position, error) {
	key := cacheKey(lat, lng)

	l.mu.Lock()
	if c, ok := l.cache[key]; ok && l.now().Sub(c.at) < cacheTTL {
		l.mu.Unlock()
		pos := c.pos
		return &pos, nil
	}
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	address, err := l.geocoder.ReverseGeocode(ctx, lat, lng)
	if err != nil {
		return nil, errors.Wrap(err, "reverse geocode")
	}

	pos := Position{Address: address, Lat: lat, Lng: lng}
	if l.pois != nil {
		if pois, err := l.pois.NearbyPOIs(ctx, lat, lng); err == nil {
			pos.POIs = pois
		}
	}

	l.mu.Lock()
	l.cache[key] = cachedPosition{pos: pos, at: l.now()}
	l.mu.Unlock()

	return &pos, nil
}

func cacheKey(lat, lng float64) string {
	return roundCoord(lat) + "," + roundCoord(lng)
}

func roundCoord(v float64) string {
	scale := math.Pow10(coordPrecision)
	return strconv.FormatFloat(math.Round(v*scale)/scale, 'f', coordPrecision, 64)
}

// --- HTTP providers ---

// NominatimGeocoder reverse-geocodes via an OSM Nominatim-compatible
// endpoint.
type NominatimGeocoder struct {
	base string
	http *http.Client
}

// NewNominatimGeocoder creates a geocoder against the given base URL
// (e.g. https://nominatim.openstreetmap.org).
func NewNominatimGeocoder(base string) *NominatimGeocoder {
	return &NominatimGeocoder{
		base: base,
		http: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// ReverseGeocode implements ReverseGeocoder.
func (g *NominatimGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	u := fmt.Sprintf("%s/reverse?format=jsonv2&lat=%s&lon=%s",
		g.base,
		url.QueryEscape(strconv.FormatFloat(lat, 'f', 6, 64)),
		url.QueryEscape(strconv.FormatFloat(lng, 'f', 6, 64)),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", errors.Wrap(err, "build request")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "reverse geocode request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("reverse geocode: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.Wrap(err, "decode reverse geocode response")
	}
	if body.DisplayName == "" {
		return "", errors.New("reverse geocode: empty result")
	}
	return body.DisplayName, nil
}

// OverpassPOISearcher lists nearby named amenities via an Overpass-style
// search endpoint.
type OverpassPOISearcher struct {
	base   string
	radius int
	http   *http.Client
}

// NewOverpassPOISearcher creates a POI searcher against the given base URL
// using the given search radius in meters.
func NewOverpassPOISearcher(base string, radiusMeters int) *OverpassPOISearcher {
	if radiusMeters <= 0 {
		radiusMeters = 250
	}
	return &OverpassPOISearcher{
		base:   base,
		radius: radiusMeters,
		http:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// NearbyPOIs implements POISearcher.
func (s *OverpassPOISearcher) NearbyPOIs(ctx context.Context, lat, lng float64) ([]string, error) {
	query := fmt.Sprintf(`[out:json];node(around:%d,%f,%f)[amenity][name];out 10;`, s.radius, lat, lng)
	u := s.base + "/api/interpreter?data=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "poi request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("poi search: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Elements []struct {
			Tags struct {
				Name string `json:"name"`
			} `json:"tags"`
		} `json:"elements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "decode poi response")
	}

	names := make([]string, 0, len(body.Elements))
	for _, e := range body.Elements {
		if e.Tags.Name != "" {
			names = append(names, e.Tags.Name)
		}
	}
	return names, nil
}
