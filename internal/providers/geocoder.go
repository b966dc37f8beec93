package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/paulmach/orb"
)

const defaultNominatimURL = "https://nominatim.openstreetmap.org"

// NominatimGeocoder resolves city queries against a Nominatim endpoint.
type NominatimGeocoder struct {
	baseURL string
	http    *httpClient
}

// NewNominatimGeocoder constructs a geocoder. An empty baseURL selects the
// public endpoint; userAgent identifies us per its usage policy.
func NewNominatimGeocoder(baseURL, userAgent string) *NominatimGeocoder {
	if baseURL == "" {
		baseURL = defaultNominatimURL
	}
	return &NominatimGeocoder{
		baseURL: baseURL,
		http:    newHTTPClient("geocoder", userAgent, 1),
	}
}

type nominatimResult struct {
	Lat         string   `json:"lat"`
	Lon         string   `json:"lon"`
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	AddressType string   `json:"addresstype"`
	Importance  float64  `json:"importance"`
	BoundingBox []string `json:"boundingbox"` // south, north, west, east
	Address     struct {
		Country string `json:"country"`
	} `json:"address"`
}

// settlementTypes are the addresstype values that can anchor a city. A bare
// POI, a state, or a whole country must not bootstrap as one.
var settlementTypes = map[string]bool{
	"city":         true,
	"town":         true,
	"village":      true,
	"hamlet":       true,
	"municipality": true,
	"borough":      true,
	"suburb":       true,
}

// Geocode resolves a free-text query to its best candidate, or (nil, nil)
// when the provider finds nothing.
func (g *NominatimGeocoder) Geocode(ctx context.Context, query string) (*GeocodeResult, error) {
	q := url.Values{
		"q":              {query},
		"format":         {"jsonv2"},
		"limit":          {"1"},
		"addressdetails": {"1"},
		"featuretype":    {"settlement"},
	}
	req, err := http.NewRequest(http.MethodGet, g.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build geocode request: %w", err)
	}

	body, err := g.http.do(ctx, req)
	if err != nil {
		return nil, err
	}

	var results []nominatimResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("failed to decode geocode response: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	// featuretype filters server-side, but not every endpoint honors it.
	if at := results[0].AddressType; at != "" && !settlementTypes[at] {
		return nil, nil
	}

	return parseNominatimResult(results[0])
}

func parseNominatimResult(r nominatimResult) (*GeocodeResult, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse geocode lat %q: %w", r.Lat, err)
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse geocode lon %q: %w", r.Lon, err)
	}

	bbox, err := parseBoundingBox(r.BoundingBox, lat, lon)
	if err != nil {
		return nil, err
	}

	name := r.Name
	if name == "" {
		name = r.DisplayName
	}

	confidence := r.Importance
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &GeocodeResult{
		Name:       name,
		Country:    r.Address.Country,
		Lat:        lat,
		Lon:        lon,
		BBox:       bbox,
		Confidence: confidence,
	}, nil
}

// parseBoundingBox converts the south/north/west/east string quad; a missing
// box degrades to the centroid point.
func parseBoundingBox(box []string, lat, lon float64) (orb.Bound, error) {
	if len(box) != 4 {
		p := orb.Point{lon, lat}
		return orb.Bound{Min: p, Max: p}, nil
	}

	vals := make([]float64, 4)
	for i, s := range box {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("failed to parse bounding box value %q: %w", s, err)
		}
		vals[i] = v
	}

	south, north, west, east := vals[0], vals[1], vals[2], vals[3]
	return orb.Bound{
		Min: orb.Point{west, south},
		Max: orb.Point{east, north},
	}, nil
}
