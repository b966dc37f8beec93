package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/chowrank/chowrank/internal/config"
	"github.com/chowrank/chowrank/internal/match"
	"github.com/chowrank/chowrank/internal/persistence"
)

// Cache policies per endpoint class. Ranked reads lean on the projection
// version for validation, so they can cache aggressively.
const (
	cacheRanked   = "public, max-age=3600, stale-while-revalidate=86400"
	cacheUnranked = "public, max-age=300, stale-while-revalidate=3600"
	cacheFuzzy    = "public, max-age=300"
	cacheDetail   = "public, max-age=600"
	cacheListing  = "public, max-age=300"

	recentMentionLimit = 10
	cuisineFacetLimit  = 100
)

// Handlers serves the read API. All operations consult projections or base
// tables only; the matcher and ingest never run on the request path.
type Handlers struct {
	repo    *persistence.Repository
	health  persistence.RepositoryHealth
	cfg     config.Config
	started time.Time
}

// NewHandlers constructs the read-path handlers.
func NewHandlers(repo *persistence.Repository, health persistence.RepositoryHealth, cfg config.Config) *Handlers {
	return &Handlers{repo: repo, health: health, cfg: cfg, started: time.Now()}
}

// resolveCity maps the city query parameter to a city row, writing the
// error response on failure.
func (h *Handlers) resolveCity(w http.ResponseWriter, r *http.Request, query string) *persistence.City {
	city, err := h.repo.Cities.Resolve(r.Context(), query)
	if err != nil {
		if errors.Is(err, persistence.ErrCityNotFound) {
			writeError(w, r, http.StatusNotFound, fmt.Sprintf("unknown city %q", query), CodeCityNotFound)
		} else {
			writeInternal(w, r, err)
		}
		return nil
	}
	return city
}

// pageParams parses limit/offset with the given cap. The bool is false when
// an error response was already written.
func (h *Handlers) pageParams(w http.ResponseWriter, r *http.Request, maxLimit int) (limit, offset int, ok bool) {
	limit = h.cfg.Pagination.DefaultLimit
	if limit > maxLimit {
		limit = maxLimit
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer", CodeInvalidQuery)
			return 0, 0, false
		}
		if v > maxLimit {
			v = maxLimit
		}
		limit = v
	}

	if raw := r.URL.Query().Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, r, http.StatusBadRequest, "offset must be a non-negative integer", CodeInvalidQuery)
			return 0, 0, false
		}
		offset = v
	}

	return limit, offset, true
}

// Search serves ranked and unranked city listings.
// GET /api/v2/search?city=&type=iconic|trending|cuisine&cuisine=&limit=&offset=
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	cityQuery := strings.TrimSpace(q.Get("city"))
	if cityQuery == "" {
		writeError(w, r, http.StatusBadRequest, "city parameter is required", CodeMissingParam)
		return
	}

	rankType := q.Get("type")
	if rankType == "" {
		writeError(w, r, http.StatusBadRequest, "type parameter is required", CodeMissingParam)
		return
	}
	var view, rankSource string
	switch rankType {
	case TypeIconic:
		view, rankSource = persistence.ViewIconic, RankSourceIconic
	case TypeTrending:
		view, rankSource = persistence.ViewTrending, RankSourceTrending
	case TypeCuisine:
		view, rankSource = persistence.ViewCuisine, RankSourceCuisine
	default:
		writeError(w, r, http.StatusBadRequest,
			"type must be one of iconic, trending, cuisine", CodeInvalidType)
		return
	}

	cuisine := strings.ToLower(strings.TrimSpace(q.Get("cuisine")))
	if rankType == TypeCuisine && cuisine == "" {
		writeError(w, r, http.StatusBadRequest, "cuisine parameter is required for type=cuisine", CodeMissingParam)
		return
	}

	limit, offset, ok := h.pageParams(w, r, h.cfg.Pagination.MaxLimit)
	if !ok {
		return
	}

	city := h.resolveCity(w, r, cityQuery)
	if city == nil {
		return
	}

	if !city.Ranked {
		h.searchUnranked(w, r, city, rankType, limit, offset)
		return
	}

	var cuisineFilter *string
	if cuisine != "" {
		cuisineFilter = &cuisine
	}

	version, err := h.repo.Projections.Version(r.Context(), view)
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", cacheRanked)
	if version != nil {
		etag := searchETag(version.VersionHash, city.ID, rankType, cuisine, offset, limit)
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	results, err := h.repo.Projections.ReadRanked(r.Context(), view, city.ID, cuisineFilter, limit, offset)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	total, err := h.repo.Projections.CountRanked(r.Context(), view, city.ID, cuisineFilter)
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	writeData(w, r, http.StatusOK, SearchResponse{
		City:            CityRef{ID: city.ID, Name: city.Name, Ranked: true},
		Type:            rankType,
		Ranked:          true,
		RankSource:      rankSource,
		LastRefreshedAt: city.LastRefreshedAt,
		Results:         results,
		Pagination: Pagination{
			Offset:  offset,
			Limit:   limit,
			Total:   total,
			HasMore: int64(offset+limit) < total,
		},
	})
}

// searchUnranked is the instant-coverage mode: name-ordered open places
// straight from the base table until the first ingest lands.
func (h *Handlers) searchUnranked(w http.ResponseWriter, r *http.Request, city *persistence.City, rankType string, limit, offset int) {
	places, err := h.repo.Places.ListOpenByName(r.Context(), city.ID, limit, offset)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	total, err := h.repo.Places.CountOpen(r.Context(), city.ID)
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", cacheUnranked)
	writeData(w, r, http.StatusOK, SearchResponse{
		City:       CityRef{ID: city.ID, Name: city.Name, Ranked: false},
		Type:       rankType,
		Ranked:     false,
		RankSource: RankSourceUnranked,
		Results:    places,
		Pagination: Pagination{
			Offset:  offset,
			Limit:   limit,
			Total:   total,
			HasMore: int64(offset+limit) < total,
		},
	})
}

// searchETag builds the validator from the projection version and the full
// request selection, so any change in either misses the cache.
func searchETag(versionHash string, cityID uuid.UUID, rankType, cuisine string, offset, limit int) string {
	if cuisine == "" {
		cuisine = "all"
	}
	return fmt.Sprintf("%q", fmt.Sprintf("%s-%s-%s-%s-%d-%d",
		versionHash, cityID, rankType, cuisine, offset, limit))
}

// Fuzzy serves typo-tolerant place search.
// GET /api/v2/fuzzy?q=&city=&limit=
func (h *Handlers) Fuzzy(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(q) < 2 {
		writeError(w, r, http.StatusBadRequest, "q must be at least 2 characters", CodeInvalidQuery)
		return
	}

	limit, _, ok := h.pageParams(w, r, h.cfg.Pagination.FuzzyMaxLimit)
	if !ok {
		return
	}

	var cityID *uuid.UUID
	if cityQuery := strings.TrimSpace(r.URL.Query().Get("city")); cityQuery != "" {
		city := h.resolveCity(w, r, cityQuery)
		if city == nil {
			return
		}
		cityID = &city.ID
	}

	results, err := h.repo.Places.FuzzySearch(r.Context(), match.Normalize(q), cityID, h.cfg.Match.Threshold, limit)
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", cacheFuzzy)
	writeData(w, r, http.StatusOK, FuzzyResponse{Query: q, Results: results, Count: len(results)})
}

// PlaceDetail serves one place with its aggregation and recent mentions.
// GET /api/v2/places/{id}
func (h *Handlers) PlaceDetail(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["id"]
	placeID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "place id must be a UUID", CodeInvalidQuery)
		return
	}

	place, err := h.repo.Places.GetByID(r.Context(), placeID)
	if err != nil {
		if errors.Is(err, persistence.ErrPlaceNotFound) {
			writeError(w, r, http.StatusNotFound, "place not found", CodePlaceNotFound)
		} else {
			writeInternal(w, r, err)
		}
		return
	}

	city, err := h.repo.Cities.GetByID(r.Context(), place.CityID)
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	agg, err := h.repo.Aggregations.GetByPlace(r.Context(), placeID)
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	mentions, err := h.repo.Mentions.RecentByPlace(r.Context(), placeID, recentMentionLimit)
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", cacheDetail)
	writeData(w, r, http.StatusOK, PlaceDetailResponse{
		Place:          place,
		City:           CityRef{ID: city.ID, Name: city.Name, Ranked: city.Ranked},
		Aggregation:    agg,
		RecentMentions: mentions,
	})
}

// Cities serves the coverage listing.
// GET /api/v2/cities
func (h *Handlers) Cities(w http.ResponseWriter, r *http.Request) {
	cities, err := h.repo.Cities.List(r.Context())
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	ranked := 0
	for _, c := range cities {
		if c.Ranked {
			ranked++
		}
	}

	w.Header().Set("Cache-Control", cacheListing)
	writeData(w, r, http.StatusOK, CitiesResponse{
		Cities:      cities,
		Total:       len(cities),
		RankedCount: ranked,
	})
}

// Cuisines serves a city's cuisine facets with place counts.
// GET /api/v2/cuisines?city=&limit=
func (h *Handlers) Cuisines(w http.ResponseWriter, r *http.Request) {
	cityQuery := strings.TrimSpace(r.URL.Query().Get("city"))
	if cityQuery == "" {
		writeError(w, r, http.StatusBadRequest, "city parameter is required", CodeMissingParam)
		return
	}

	limit, _, ok := h.pageParams(w, r, cuisineFacetLimit)
	if !ok {
		return
	}

	city := h.resolveCity(w, r, cityQuery)
	if city == nil {
		return
	}

	facets, err := h.repo.Projections.CuisineFacets(r.Context(), city.ID, limit)
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", cacheListing)
	writeData(w, r, http.StatusOK, CuisinesResponse{
		City:     CityRef{ID: city.ID, Name: city.Name, Ranked: city.Ranked},
		Cuisines: facets,
	})
}

// Health serves the operational snapshot. Never cached.
// GET /api/v2/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbHealth := h.health.Health(ctx)
	check := HealthResponse{
		Status: "healthy",
		Checks: HealthChecks{
			Database: DatabaseCheck{
				Healthy:        dbHealth.Healthy,
				ResponseTimeMS: dbHealth.ResponseTimeMS,
				ConnectionPool: dbHealth.ConnectionPool,
				Errors:         dbHealth.Errors,
			},
			JobQueue: JobQueueCheck{Last24hCounts: map[string]int64{}},
		},
		UptimeMS: time.Since(h.started).Milliseconds(),
	}
	if !dbHealth.Healthy {
		check.Status = "unhealthy"
	}

	if versions, err := h.repo.Projections.Versions(ctx); err == nil {
		now := time.Now()
		for _, v := range versions {
			age := now.Sub(v.RefreshedAt).Hours()
			refreshedAt := v.RefreshedAt
			check.Checks.MaterializedViews = append(check.Checks.MaterializedViews, ViewCheck{
				View:        v.ViewName,
				AgeHours:    &age,
				RowCount:    v.RowCount,
				LastRefresh: &refreshedAt,
			})
		}
	} else if check.Status == "healthy" {
		check.Status = "degraded"
	}

	if counts, err := h.repo.Jobs.CountsSince(ctx, time.Now().Add(-24*time.Hour)); err == nil {
		check.Checks.JobQueue.Last24hCounts = counts
	} else if check.Status == "healthy" {
		check.Status = "degraded"
	}

	if cities, err := h.repo.Cities.List(ctx); err == nil {
		cc := CityCountsCheck{Total: len(cities)}
		for _, c := range cities {
			if c.Ranked {
				cc.Ranked++
			}
		}
		cc.Unranked = cc.Total - cc.Ranked
		check.Checks.Cities = cc
	} else if check.Status == "healthy" {
		check.Status = "degraded"
	}

	w.Header().Set("Cache-Control", "no-store")
	status := http.StatusOK
	if check.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeData(w, r, status, check)
}
