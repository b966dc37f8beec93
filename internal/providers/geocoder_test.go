package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNominatimGeocoder_Geocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "new york city", r.URL.Query().Get("q"))
		assert.Equal(t, "settlement", r.URL.Query().Get("featuretype"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{
			"lat": "40.7127281",
			"lon": "-74.0060152",
			"name": "New York",
			"display_name": "New York, United States",
			"addresstype": "city",
			"importance": 0.83,
			"boundingbox": ["40.476578", "40.91763", "-74.258843", "-73.700233"],
			"address": {"country": "United States"}
		}]`))
	}))
	defer srv.Close()

	g := NewNominatimGeocoder(srv.URL, "test-agent/1.0")

	got, err := g.Geocode(context.Background(), "new york city")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "New York", got.Name)
	assert.Equal(t, "United States", got.Country)
	assert.InDelta(t, 40.7127281, got.Lat, 1e-9)
	assert.InDelta(t, -74.0060152, got.Lon, 1e-9)
	assert.InDelta(t, 0.83, got.Confidence, 1e-9)

	// south,north,west,east maps to min/max points
	assert.InDelta(t, -74.258843, got.BBox.Min[0], 1e-9)
	assert.InDelta(t, 40.476578, got.BBox.Min[1], 1e-9)
	assert.InDelta(t, -73.700233, got.BBox.Max[0], 1e-9)
	assert.InDelta(t, 40.91763, got.BBox.Max[1], 1e-9)
}

func TestNominatimGeocoder_NoResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	g := NewNominatimGeocoder(srv.URL, "test-agent/1.0")

	got, err := g.Geocode(context.Background(), "xyzzy")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// Results that are not settlements, a landmark POI or a whole country, must
// read as a miss rather than become a city.
func TestNominatimGeocoder_NonSettlementRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"country", `[{"lat": "39.78", "lon": "-100.44", "name": "United States",
			"addresstype": "country", "importance": 0.94}]`},
		{"state", `[{"lat": "43.0", "lon": "-75.5", "name": "New York",
			"addresstype": "state", "importance": 0.91}]`},
		{"poi", `[{"lat": "40.75", "lon": "-73.98", "name": "Empire State Building",
			"addresstype": "attraction", "importance": 0.72}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g := NewNominatimGeocoder(srv.URL, "test-agent/1.0")

			got, err := g.Geocode(context.Background(), tt.name)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestNominatimGeocoder_MissingBoundingBoxDegradesToPoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[{"lat": "48.85", "lon": "2.35", "name": "Paris", "importance": 0.9}]`))
	}))
	defer srv.Close()

	g := NewNominatimGeocoder(srv.URL, "test-agent/1.0")

	got, err := g.Geocode(context.Background(), "paris")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, got.BBox.Min, got.BBox.Max)
}

func TestNominatimGeocoder_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewNominatimGeocoder(srv.URL, "test-agent/1.0")

	_, err := g.Geocode(context.Background(), "anywhere")
	assert.Error(t, err)
}
