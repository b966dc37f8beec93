// Package bootstrap initializes a city: resolve the query, fetch its POI
// set, seed discussion sources, and queue the ingest/compute/refresh chain.
// After a successful run the city serves unranked reads immediately.
package bootstrap

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog/log"

	"github.com/chowrank/chowrank/internal/config"
	"github.com/chowrank/chowrank/internal/match"
	"github.com/chowrank/chowrank/internal/persistence"
	"github.com/chowrank/chowrank/internal/providers"
)

// minGeocodeConfidence rejects low-quality geocoder hits; typo-level
// queries should fail loudly rather than bootstrap the wrong city.
const minGeocodeConfidence = 0.3

// Result summarizes one bootstrap run.
type Result struct {
	City         *persistence.City `json:"city"`
	PlacesLoaded int               `json:"places_loaded"`
	SourcesAdded int               `json:"sources_added"`
	IngestJobID  *uuid.UUID        `json:"ingest_job_id,omitempty"`
}

// Pipeline wires the bootstrap dependencies.
type Pipeline struct {
	repo     *persistence.Repository
	geocoder providers.Geocoder
	pois     providers.POIProvider
	cfg      config.Config
}

// NewPipeline constructs a bootstrap pipeline.
func NewPipeline(repo *persistence.Repository, geocoder providers.Geocoder, pois providers.POIProvider, cfg config.Config) *Pipeline {
	return &Pipeline{repo: repo, geocoder: geocoder, pois: pois, cfg: cfg}
}

// Run bootstraps one city from a free-text query. Idempotent: rerunning
// upserts the same city, places, and sources.
func (p *Pipeline) Run(ctx context.Context, query string) (*Result, error) {
	city, catalog, err := p.resolveCity(ctx, query)
	if err != nil {
		return nil, err
	}

	cityID, err := p.repo.Cities.Upsert(ctx, *city)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert city: %w", err)
	}
	city.ID = cityID

	if catalog != nil {
		if err := p.repo.Cities.UpsertAliases(ctx, cityID, catalogAliases(catalog)); err != nil {
			return nil, fmt.Errorf("failed to upsert city aliases: %w", err)
		}
	}

	loaded, err := p.loadPlaces(ctx, cityID, city.BBox)
	if err != nil {
		return nil, err
	}

	result := &Result{City: city, PlacesLoaded: loaded}

	if catalog != nil && len(catalog.Subreddits) > 0 {
		if err := p.repo.Sources.UpsertBatch(ctx, cityID, catalog.Subreddits); err != nil {
			return nil, fmt.Errorf("failed to seed sources: %w", err)
		}
		result.SourcesAdded = len(catalog.Subreddits)

		// The whole chain is queued up front so a terminally failed
		// ingest still leaves compute and refresh waiting instead of
		// never existing. Payload-hash dedupe keeps reruns idempotent.
		payload := map[string]string{"city_id": cityID.String()}
		jobID, _, err := p.repo.Jobs.Enqueue(ctx, persistence.JobIngestReddit, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to enqueue ingest job: %w", err)
		}
		result.IngestJobID = &jobID

		for _, jobType := range []string{persistence.JobComputeAggregations, persistence.JobRefreshMVs} {
			if _, _, err := p.repo.Jobs.Enqueue(ctx, jobType, payload); err != nil {
				return nil, fmt.Errorf("failed to enqueue %s job: %w", jobType, err)
			}
		}
	} else {
		log.Warn().Str("city", city.Name).Msg("no sources configured, skipping ingest enqueue")
	}

	log.Info().
		Str("city", city.Name).
		Str("city_id", cityID.String()).
		Int("places", loaded).
		Int("sources", result.SourcesAdded).
		Msg("bootstrap complete")

	return result, nil
}

// resolveCity prefers the config catalog; the geocoder is the fallback for
// cities we have no entry for. Returns the catalog entry when one matched.
func (p *Pipeline) resolveCity(ctx context.Context, query string) (*persistence.City, *config.CityConfig, error) {
	if entry := p.cfg.FindCity(query); entry != nil {
		return &persistence.City{
			Name:    entry.Name,
			Country: entry.Country,
			Lat:     entry.Lat,
			Lon:     entry.Lon,
			BBox: orb.Bound{
				Min: orb.Point{entry.BBox[0], entry.BBox[1]},
				Max: orb.Point{entry.BBox[2], entry.BBox[3]},
			},
		}, entry, nil
	}

	geo, err := p.geocoder.Geocode(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to geocode %q: %w", query, err)
	}
	if geo == nil || geo.Confidence < minGeocodeConfidence {
		return nil, nil, persistence.ErrCityNotFound
	}

	return &persistence.City{
		Name:    geo.Name,
		Country: geo.Country,
		Lat:     geo.Lat,
		Lon:     geo.Lon,
		BBox:    geo.BBox,
	}, nil, nil
}

func catalogAliases(entry *config.CityConfig) []persistence.CityAlias {
	var out []persistence.CityAlias
	for _, a := range entry.Aliases {
		out = append(out, persistence.CityAlias{Alias: a})
	}
	for _, b := range entry.Boroughs {
		out = append(out, persistence.CityAlias{Alias: b.Name, IsBorough: true})
		for _, a := range b.Aliases {
			out = append(out, persistence.CityAlias{Alias: a, IsBorough: true})
		}
	}
	return out
}

// loadPlaces fetches, dedupes, and upserts the city's POI set.
func (p *Pipeline) loadPlaces(ctx context.Context, cityID uuid.UUID, bbox orb.Bound) (int, error) {
	pois, err := p.pois.FetchPOIs(ctx, bbox, p.cfg.Bootstrap.MaxPOIs)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pois: %w", err)
	}

	places := dedupe(cityID, pois)
	if len(places) == 0 {
		return 0, nil
	}

	n, err := p.repo.Places.UpsertBatch(ctx, places)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert places: %w", err)
	}
	return n, nil
}

// dedupe collapses provider duplicates on (name_norm, coordinates rounded
// to ~11m). The first occurrence wins; later ones are provider echoes of
// the same venue.
func dedupe(cityID uuid.UUID, pois []providers.POI) []persistence.Place {
	seen := make(map[string]bool, len(pois))
	out := make([]persistence.Place, 0, len(pois))

	for _, poi := range pois {
		norm := match.Normalize(poi.Name)
		if norm == "" {
			continue
		}

		key := fmt.Sprintf("%s|%.4f|%.4f", norm, round4(poi.Lat), round4(poi.Lon))
		if seen[key] {
			continue
		}
		seen[key] = true

		sourceID := poi.SourceID
		out = append(out, persistence.Place{
			CityID:   cityID,
			SourceID: &sourceID,
			Name:     strings.TrimSpace(poi.Name),
			NameNorm: norm,
			Lat:      poi.Lat,
			Lon:      poi.Lon,
			Address:  poi.Address,
			Cuisine:  poi.Cuisine,
			Status:   persistence.StatusOpen,
			Brand:    poi.Brand,
			Source:   persistence.SourceOSM,
		})
	}

	return out
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
