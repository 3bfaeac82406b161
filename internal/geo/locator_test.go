package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGeocoder struct {
	address string
	err     error
	calls   int32
}

func (g *stubGeocoder) ReverseGeocode(context.Context, float64, float64) (string, error) {
	atomic.AddInt32(&g.calls, 1)
	return g.address, g.err
}

type stubPOIs struct {
	names []string
	err   error
}

func (p *stubPOIs) NearbyPOIs(context.Context, float64, float64) ([]string, error) {
	return p.names, p.err
}

func TestLocateMergesProviders(t *testing.T) {
	l := NewLocator(
		&stubGeocoder{address: "12 Bean St, Shanghai"},
		&stubPOIs{names: []string{"Luna Roast", "People's Park"}},
	)

	pos, err := l.Locate(context.Background(), 31.2304, 121.4737)
	require.NoError(t, err)
	assert.Equal(t, "12 Bean St, Shanghai", pos.Address)
	assert.Equal(t, []string{"Luna Roast", "People's Park"}, pos.POIs)
}

func TestLocatePOIFailureDegrades(t *testing.T) {
	l := NewLocator(
		&stubGeocoder{address: "12 Bean St"},
		&stubPOIs{err: errors.New("poi provider down")},
	)

	pos, err := l.Locate(context.Background(), 31.2304, 121.4737)
	require.NoError(t, err)
	assert.Equal(t, "12 Bean St", pos.Address)
	assert.Empty(t, pos.POIs)
}

func TestLocateGeocoderFailure(t *testing.T) {
	l := NewLocator(&stubGeocoder{err: errors.New("geocoder down")}, nil)

	_, err := l.Locate(context.Background(), 31.2304, 121.4737)
	assert.Error(t, err)
}

func TestLocateCachesRoundedCoordinates(t *testing.T) {
	g := &stubGeocoder{address: "12 Bean St"}
	l := NewLocator(g, nil)

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	_, err := l.Locate(context.Background(), 31.23041, 121.47372)
	require.NoError(t, err)

	// GPS jitter below the rounding precision hits the cache.
	_, err = l.Locate(context.Background(), 31.23043, 121.47369)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&g.calls))

	// A meaningfully different position does not.
	_, err = l.Locate(context.Background(), 31.24, 121.48)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&g.calls))

	// Expiry forces a fresh lookup.
	now = now.Add(cacheTTL + time.Second)
	_, err = l.Locate(context.Background(), 31.23041, 121.47372)
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&g.calls))
}

func TestNominatimGeocoder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		_, _ = w.Write([]byte(`{"display_name": "12 Bean St, Huangpu, Shanghai"}`))
	}))
	defer srv.Close()

	g := NewNominatimGeocoder(srv.URL)
	addr, err := g.ReverseGeocode(context.Background(), 31.2304, 121.4737)
	require.NoError(t, err)
	assert.Equal(t, "12 Bean St, Huangpu, Shanghai", addr)
}

func TestNominatimGeocoderEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	g := NewNominatimGeocoder(srv.URL)
	_, err := g.ReverseGeocode(context.Background(), 0, 0)
	assert.Error(t, err)
}

func TestOverpassPOISearcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/interpreter", r.URL.Path)
		_, _ = w.Write([]byte(`{"elements": [
			{"tags": {"name": "Luna Roast"}},
			{"tags": {"name": ""}},
			{"tags": {"name": "People's Park"}}
		]}`))
	}))
	defer srv.Close()

	s := NewOverpassPOISearcher(srv.URL, 0)
	names, err := s.NearbyPOIs(context.Background(), 31.2304, 121.4737)
	require.NoError(t, err)
	assert.Equal(t, []string{"Luna Roast", "People's Park"}, names)
}
