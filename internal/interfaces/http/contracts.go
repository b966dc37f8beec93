package http

import (
	"time"

	"github.com/google/uuid"

	"github.com/chowrank/chowrank/internal/persistence"
)

// Machine-readable error codes carried in the error envelope.
const (
	CodeMissingParam  = "MISSING_PARAM"
	CodeInvalidType   = "INVALID_TYPE"
	CodeInvalidQuery  = "INVALID_QUERY"
	CodeCityNotFound  = "CITY_NOT_FOUND"
	CodePlaceNotFound = "PLACE_NOT_FOUND"
	CodeRateLimited   = "RATE_LIMITED"
	CodeInternal      = "INTERNAL_ERROR"
)

// Ranking types accepted by the search endpoint.
const (
	TypeIconic   = "iconic"
	TypeTrending = "trending"
	TypeCuisine  = "cuisine"
)

// Rank sources reported in the search response. Ranked reads name the
// materialized view that served them.
const (
	RankSourceIconic   = "mv_iconic"
	RankSourceTrending = "mv_trending"
	RankSourceCuisine  = "mv_cuisine"
	RankSourceUnranked = "unranked_osm"
)

// Meta is attached to every response envelope.
type Meta struct {
	RequestID      string    `json:"request_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	ResponseTimeMS int64     `json:"response_time_ms"`
}

// Envelope is the canonical success wrapper.
type Envelope struct {
	Data any  `json:"data"`
	Meta Meta `json:"meta"`
}

// ErrorBody carries the human message and machine code.
type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorEnvelope is the canonical error wrapper.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
	Meta  Meta      `json:"meta"`
}

// Pagination reports the slice served and whether more rows exist.
type Pagination struct {
	Offset  int   `json:"offset"`
	Limit   int   `json:"limit"`
	Total   int64 `json:"total"`
	HasMore bool  `json:"has_more"`
}

// SearchResponse is the ranked/unranked search payload.
type SearchResponse struct {
	City            CityRef    `json:"city"`
	Type            string     `json:"type"`
	Ranked          bool       `json:"ranked"`
	RankSource      string     `json:"rank_source"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`
	Results         any        `json:"results"`
	Pagination      Pagination `json:"pagination"`
}

// CityRef is the compact city identity embedded in responses.
type CityRef struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Ranked bool      `json:"ranked"`
}

// FuzzyResponse is the typo-tolerant search payload.
type FuzzyResponse struct {
	Query   string                    `json:"query"`
	Results []persistence.FuzzyResult `json:"results"`
	Count   int                       `json:"count"`
}

// PlaceDetailResponse joins a place with its signal history.
type PlaceDetailResponse struct {
	Place          *persistence.Place       `json:"place"`
	City           CityRef                  `json:"city"`
	Aggregation    *persistence.Aggregation `json:"aggregation,omitempty"`
	RecentMentions []persistence.Mention    `json:"recent_mentions"`
}

// CitiesResponse is the coverage listing.
type CitiesResponse struct {
	Cities      []persistence.CityWithStats `json:"cities"`
	Total       int                         `json:"total"`
	RankedCount int                         `json:"ranked_count"`
}

// CuisinesResponse lists a city's cuisine facets.
type CuisinesResponse struct {
	City     CityRef                    `json:"city"`
	Cuisines []persistence.CuisineFacet `json:"cuisines"`
}

// HealthResponse is the operational snapshot served by /health.
type HealthResponse struct {
	Status   string       `json:"status"`
	Checks   HealthChecks `json:"checks"`
	UptimeMS int64        `json:"uptime_ms"`
}

// HealthChecks groups the individual probes.
type HealthChecks struct {
	Database          DatabaseCheck    `json:"database"`
	MaterializedViews []ViewCheck      `json:"materialized_views"`
	JobQueue          JobQueueCheck    `json:"job_queue"`
	Cities            CityCountsCheck  `json:"cities"`
}

// DatabaseCheck reports connectivity and pool state.
type DatabaseCheck struct {
	Healthy        bool           `json:"healthy"`
	ResponseTimeMS int64          `json:"response_time_ms"`
	ConnectionPool map[string]int `json:"connection_pool,omitempty"`
	Errors         []string       `json:"errors,omitempty"`
}

// ViewCheck reports one projection's freshness.
type ViewCheck struct {
	View        string     `json:"view"`
	AgeHours    *float64   `json:"age_hours,omitempty"`
	RowCount    int64      `json:"row_count"`
	LastRefresh *time.Time `json:"last_refresh,omitempty"`
}

// JobQueueCheck reports recent queue activity.
type JobQueueCheck struct {
	Last24hCounts map[string]int64 `json:"last_24h_counts"`
}

// CityCountsCheck reports coverage totals.
type CityCountsCheck struct {
	Total    int `json:"total"`
	Ranked   int `json:"ranked"`
	Unranked int `json:"unranked"`
}
