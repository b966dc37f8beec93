package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog/log"
)

const defaultOverpassURL = "https://overpass-api.de/api/interpreter"

// foodAmenities is the amenity filter for the POI fetch.
const foodAmenities = "restaurant|bar|cafe|fast_food|pub|food_court|biergarten"

// OverpassProvider fetches food/drink POIs from an Overpass endpoint.
type OverpassProvider struct {
	endpoint string
	http     *httpClient
}

// NewOverpassProvider constructs a POI provider. An empty endpoint selects
// the public Overpass instance.
func NewOverpassProvider(endpoint, userAgent string) *OverpassProvider {
	if endpoint == "" {
		endpoint = defaultOverpassURL
	}
	return &OverpassProvider{
		endpoint: endpoint,
		http:     newHTTPClient("openmap", userAgent, 1),
	}
}

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    float64           `json:"lat"`
	Lon    float64           `json:"lon"`
	Center *overpassCenter   `json:"center,omitempty"`
	Tags   map[string]string `json:"tags"`
}

type overpassCenter struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// FetchPOIs queries named food/drink amenities inside bbox and returns at
// most max POIs. Unnamed elements are skipped.
func (p *OverpassProvider) FetchPOIs(ctx context.Context, bbox orb.Bound, max int) ([]POI, error) {
	// Overpass bbox order is south,west,north,east.
	box := fmt.Sprintf("%f,%f,%f,%f", bbox.Min[1], bbox.Min[0], bbox.Max[1], bbox.Max[0])
	query := fmt.Sprintf(`[out:json][timeout:120];
(
  node["amenity"~"^(%s)$"]["name"](%s);
  way["amenity"~"^(%s)$"]["name"](%s);
);
out center;`, foodAmenities, box, foodAmenities, box)

	form := url.Values{"data": {query}}
	req, err := http.NewRequest(http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build poi request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := p.http.do(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp overpassResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode poi response: %w", err)
	}

	pois := make([]POI, 0, len(resp.Elements))
	skipped := 0
	for _, el := range resp.Elements {
		if max > 0 && len(pois) >= max {
			break
		}
		poi, ok := parseElement(el)
		if !ok {
			skipped++
			continue
		}
		pois = append(pois, poi)
	}

	if skipped > 0 {
		log.Debug().Int("skipped", skipped).Int("kept", len(pois)).Msg("poi fetch filtered unnamed elements")
	}

	return pois, nil
}

func parseElement(el overpassElement) (POI, bool) {
	name := strings.TrimSpace(el.Tags["name"])
	if name == "" {
		return POI{}, false
	}

	lat, lon := el.Lat, el.Lon
	if el.Center != nil {
		lat, lon = el.Center.Lat, el.Center.Lon
	}
	if lat == 0 && lon == 0 {
		return POI{}, false
	}

	poi := POI{
		SourceID: el.Type + "/" + strconv.FormatInt(el.ID, 10),
		Name:     name,
		Lat:      lat,
		Lon:      lon,
		Cuisine:  splitCuisine(el.Tags["cuisine"]),
	}

	if addr := assembleAddress(el.Tags); addr != "" {
		poi.Address = &addr
	}
	if brand := strings.TrimSpace(el.Tags["brand"]); brand != "" {
		poi.Brand = &brand
	}
	if site := strings.TrimSpace(el.Tags["website"]); site != "" {
		poi.Website = &site
	}

	return poi, true
}

// splitCuisine normalizes the semicolon-separated cuisine tag.
func splitCuisine(tag string) []string {
	if tag == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(tag, ";") {
		c := strings.ToLower(strings.TrimSpace(part))
		c = strings.ReplaceAll(c, "_", " ")
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

func assembleAddress(tags map[string]string) string {
	var parts []string
	if hn, st := tags["addr:housenumber"], tags["addr:street"]; st != "" {
		if hn != "" {
			parts = append(parts, hn+" "+st)
		} else {
			parts = append(parts, st)
		}
	}
	if city := tags["addr:city"]; city != "" {
		parts = append(parts, city)
	}
	if pc := tags["addr:postcode"]; pc != "" {
		parts = append(parts, pc)
	}
	return strings.Join(parts, ", ")
}
