package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// Place status values. Places start as open unless the source says otherwise;
// unverified entries are kept out of ranked reads.
const (
	StatusOpen       = "open"
	StatusClosed     = "closed"
	StatusUnverified = "unverified"
)

// Place source variants. A closed set; source-specific columns are nullable.
const (
	SourceOverture  = "overture"
	SourceOSM       = "osm"
	SourceBootstrap = "bootstrap"
)

// Job types handled by the worker.
const (
	JobBootstrapCity       = "bootstrap_city"
	JobIngestReddit        = "ingest_reddit"
	JobComputeAggregations = "compute_aggregations"
	JobRefreshMVs          = "refresh_mvs"
)

// Job status values.
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobDone    = "done"
	JobError   = "error"
)

// Materialized view names. Identifiers are whitelisted here and interpolated
// only from these constants, never from request input.
const (
	ViewIconic   = "mv_ranked_iconic"
	ViewTrending = "mv_ranked_trending"
	ViewCuisine  = "mv_ranked_cuisine"
)

// City is a populated place with POI coverage. Ranked flips true after the
// first successful ingest over its sources.
type City struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	Country         string     `json:"country" db:"country"`
	Lat             float64    `json:"lat" db:"lat"`
	Lon             float64    `json:"lon" db:"lon"`
	Ranked          bool       `json:"ranked" db:"ranked"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty" db:"last_refreshed_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`

	// BBox is the WGS84 bounding box, carried at write time and stored as a
	// geography polygon. Not scanned on reads.
	BBox orb.Bound `json:"-" db:"-"`
}

// CityAlias maps a normalized free-text key (abbreviation, borough) to a city.
type CityAlias struct {
	Alias     string `json:"alias"`
	IsBorough bool   `json:"is_borough"`
}

// CityStats summarizes coverage for the cities listing.
type CityStats struct {
	Places        int64      `json:"places"`
	Mentions      int64      `json:"mentions"`
	LastRefreshed *time.Time `json:"last_refreshed,omitempty"`
}

// CityWithStats is a cities-listing row.
type CityWithStats struct {
	City
	Stats CityStats `json:"stats"`
}

// Place is a restaurant/bar/cafe POI tied to a city. Exactly one row exists
// per (city_id, name_norm).
type Place struct {
	ID          uuid.UUID `json:"id" db:"id"`
	CityID      uuid.UUID `json:"city_id" db:"city_id"`
	SourceID    *string   `json:"source_id,omitempty" db:"source_id"`
	AltSourceID *string   `json:"alt_source_id,omitempty" db:"alt_source_id"`
	Name        string    `json:"name" db:"name"`
	NameNorm    string    `json:"name_norm" db:"name_norm"`
	Lat         float64   `json:"lat" db:"lat"`
	Lon         float64   `json:"lon" db:"lon"`
	Address     *string   `json:"address,omitempty" db:"address"`
	Cuisine     []string  `json:"cuisine" db:"-"`
	Status      string    `json:"status" db:"status"`
	Brand       *string   `json:"brand,omitempty" db:"brand"`
	Source      string    `json:"source" db:"source"`
	Aliases     []string  `json:"aliases,omitempty" db:"-"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// MatchCandidate is one matcher result: a place plus the similarity and
// distance evidence computed by the stage that produced it.
type MatchCandidate struct {
	PlaceID    uuid.UUID `db:"place_id"`
	Name       string    `db:"name"`
	NameNorm   string    `db:"name_norm"`
	Brand      *string   `db:"brand"`
	Address    *string   `db:"address"`
	Lat        float64   `db:"lat"`
	Lon        float64   `db:"lon"`
	Similarity float64   `db:"similarity"`
	DistanceM  float64   `db:"distance_m"`
}

// FuzzyResult is a trigram search hit joined with its iconic score.
type FuzzyResult struct {
	Place
	Similarity  float64 `json:"similarity" db:"similarity"`
	IconicScore float64 `json:"iconic_score" db:"iconic_score"`
}

// Mention is a ToS-safe record of one discussion reference to a place.
// Only hash + length + permalink are kept; raw text is never stored.
type Mention struct {
	ID            int64      `json:"id" db:"id"`
	PlaceID       *uuid.UUID `json:"place_id,omitempty" db:"place_id"`
	Subreddit     string     `json:"subreddit" db:"subreddit"`
	PostID        string     `json:"post_id" db:"post_id"`
	CommentID     *string    `json:"comment_id,omitempty" db:"comment_id"`
	Score         int        `json:"score" db:"score"`
	Timestamp     time.Time  `json:"timestamp" db:"ts"`
	Permalink     string     `json:"permalink" db:"permalink"`
	ContentHash   string     `json:"content_hash" db:"content_hash"`
	ContentLength int        `json:"content_length" db:"content_length"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// Snippet is the attribution stub stored in top_snippets. Downstream UIs
// fetch content from the permalink at render time.
type Snippet struct {
	Permalink string    `json:"permalink"`
	Score     int       `json:"score"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
	Length    int       `json:"length"`
}

// PlaceStats holds the raw per-place aggregates a scoring batch consumes.
type PlaceStats struct {
	PlaceID       uuid.UUID  `db:"place_id"`
	UniqueThreads int64      `db:"unique_threads"`
	TotalMentions int64      `db:"total_mentions"`
	TotalUpvotes  int64      `db:"total_upvotes"`
	Mentions90d   int64      `db:"mentions_90d"`
	LastSeen      *time.Time `db:"last_seen"`
}

// WindowMention is one in-window mention row consumed by the trending score.
type WindowMention struct {
	PlaceID   uuid.UUID `db:"place_id"`
	Score     int       `db:"score"`
	Timestamp time.Time `db:"ts"`
}

// Aggregation is the derived per-place summary driving rankings.
type Aggregation struct {
	PlaceID       uuid.UUID  `json:"place_id" db:"place_id"`
	IconicScore   float64    `json:"iconic_score" db:"iconic_score"`
	TrendingScore float64    `json:"trending_score" db:"trending_score"`
	UniqueThreads int64      `json:"unique_threads" db:"unique_threads"`
	TotalMentions int64      `json:"total_mentions" db:"total_mentions"`
	TotalUpvotes  int64      `json:"total_upvotes" db:"total_upvotes"`
	Mentions90d   int64      `json:"mentions_90d" db:"mentions_90d"`
	LastSeen      *time.Time `json:"last_seen,omitempty" db:"last_seen"`
	TopSnippets   []Snippet  `json:"top_snippets" db:"-"`
	ComputedAt    time.Time  `json:"computed_at" db:"computed_at"`
}

// RankedPlace is one projection row served by the read path.
type RankedPlace struct {
	PlaceID       uuid.UUID       `json:"place_id" db:"place_id"`
	CityID        uuid.UUID       `json:"-" db:"city_id"`
	Name          string          `json:"name" db:"name"`
	Cuisine       []string        `json:"cuisine" db:"-"`
	Address       *string         `json:"address,omitempty" db:"address"`
	Lat           float64         `json:"lat" db:"lat"`
	Lon           float64         `json:"lon" db:"lon"`
	Score         float64         `json:"score" db:"score"`
	Rank          int             `json:"rank" db:"rank"`
	UniqueThreads int64           `json:"unique_threads" db:"unique_threads"`
	TotalMentions int64           `json:"total_mentions" db:"total_mentions"`
	LastSeen      *time.Time      `json:"last_seen,omitempty" db:"last_seen"`
	TopSnippets   json.RawMessage `json:"top_snippets,omitempty" db:"top_snippets"`
}

// CuisineFacet is one (cuisine, count) facet from the per-cuisine projection.
type CuisineFacet struct {
	Cuisine string `json:"cuisine" db:"cuisine"`
	Places  int64  `json:"places" db:"places"`
}

// ProjectionVersion powers ETag generation; updated atomically after each
// successful refresh so ETags never point past the projection content.
type ProjectionVersion struct {
	ViewName    string    `json:"view_name" db:"view_name"`
	VersionHash string    `json:"version_hash" db:"version_hash"`
	RefreshedAt time.Time `json:"refreshed_at" db:"refreshed_at"`
	RowCount    int64     `json:"row_count" db:"row_count"`
}

// Job is one queued unit of work.
type Job struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Type        string          `json:"type" db:"type"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	PayloadHash string          `json:"payload_hash" db:"payload_hash"`
	Status      string          `json:"status" db:"status"`
	Attempts    int             `json:"attempts" db:"attempts"`
	Error       *string         `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// Source is a subreddit-to-city mapping seeded at bootstrap.
type Source struct {
	Name       string     `json:"name" db:"name"`
	CityID     uuid.UUID  `json:"city_id" db:"city_id"`
	IsActive   bool       `json:"is_active" db:"is_active"`
	LastSync   *time.Time `json:"last_sync,omitempty" db:"last_sync"`
	TotalPosts int64      `json:"total_posts" db:"total_posts"`
}

// CitiesRepo provides city and alias persistence plus free-text resolution.
type CitiesRepo interface {
	// Upsert inserts or updates a city, idempotent on (name, country).
	Upsert(ctx context.Context, city City) (uuid.UUID, error)

	// UpsertAliases seeds normalized lookup keys for a city.
	UpsertAliases(ctx context.Context, cityID uuid.UUID, aliases []CityAlias) error

	// Resolve maps a free-text query to a city via name or alias,
	// case-folded. Returns ErrCityNotFound on a miss.
	Resolve(ctx context.Context, query string) (*City, error)

	// GetByID fetches a city by primary key.
	GetByID(ctx context.Context, id uuid.UUID) (*City, error)

	// List returns all cities with coverage stats, ranked first.
	List(ctx context.Context) ([]CityWithStats, error)

	// SetRanked flips the ranked flag after the first successful ingest.
	SetRanked(ctx context.Context, id uuid.UUID, ranked bool) error

	// TouchRefreshed stamps last_refreshed_at.
	TouchRefreshed(ctx context.Context, id uuid.UUID) error
}

// PlacesRepo provides POI persistence and the matcher's storage reads.
type PlacesRepo interface {
	// Upsert inserts or updates a place, idempotent on (city_id, name_norm).
	// Existing address/brand survive when the incoming values are nil.
	Upsert(ctx context.Context, place Place) (uuid.UUID, error)

	// UpsertBatch upserts places in one transaction; returns the row count.
	UpsertBatch(ctx context.Context, places []Place) (int, error)

	// GetByID fetches a place. Returns ErrPlaceNotFound on a miss.
	GetByID(ctx context.Context, id uuid.UUID) (*Place, error)

	// ListOpenByName returns open places name-ordered; the unranked
	// instant-coverage read after bootstrap.
	ListOpenByName(ctx context.Context, cityID uuid.UUID, limit, offset int) ([]Place, error)

	// CountOpen counts open places for unranked pagination.
	CountOpen(ctx context.Context, cityID uuid.UUID) (int64, error)

	// MatchExact finds open places whose name_norm or alias set contains
	// the normalized query.
	MatchExact(ctx context.Context, cityID uuid.UUID, norm string) ([]MatchCandidate, error)

	// MatchTrigram returns open places with similarity(name_norm, q) above
	// threshold, ordered by similarity desc, capped.
	MatchTrigram(ctx context.Context, cityID uuid.UUID, norm string, threshold float64, limit int) ([]MatchCandidate, error)

	// MatchTrigramNear restricts trigram candidates to a radius around the
	// query point, ordered by similarity desc then distance asc.
	MatchTrigramNear(ctx context.Context, cityID uuid.UUID, norm string, lat, lon, radiusM, threshold float64, limit int) ([]MatchCandidate, error)

	// FuzzySearch is the read-path trigram search joined with iconic scores.
	FuzzySearch(ctx context.Context, norm string, cityID *uuid.UUID, threshold float64, limit int) ([]FuzzyResult, error)
}

// MentionsRepo provides mention persistence and the scoring batch reads.
type MentionsRepo interface {
	// Insert adds a mention, ignoring conflicts on (post_id, comment_id,
	// place_id). Returns true when a row was written.
	Insert(ctx context.Context, m Mention) (bool, error)

	// RecentByPlace returns the latest mentions for the detail endpoint.
	RecentByPlace(ctx context.Context, placeID uuid.UUID, limit int) ([]Mention, error)

	// StatsByPlace returns all-time aggregates per place for one city.
	StatsByPlace(ctx context.Context, cityID uuid.UUID) ([]PlaceStats, error)

	// Window returns in-window mention rows per place for one city.
	Window(ctx context.Context, cityID uuid.UUID, since time.Time) ([]WindowMention, error)

	// TopSnippets returns up to perPlace snippet stubs per place, ordered by
	// score desc then recency.
	TopSnippets(ctx context.Context, cityID uuid.UUID, perPlace int) (map[uuid.UUID][]Snippet, error)
}

// AggregationsRepo persists derived per-place summaries.
type AggregationsRepo interface {
	// UpsertBatch writes a city's aggregation batch, one atomic upsert per row.
	UpsertBatch(ctx context.Context, aggs []Aggregation) error

	// GetByPlace fetches the aggregation for one place, nil when absent.
	GetByPlace(ctx context.Context, placeID uuid.UUID) (*Aggregation, error)
}

// ProjectionsRepo owns the materialized views and their version rows.
type ProjectionsRepo interface {
	// Refresh concurrently refreshes one whitelisted view under an advisory
	// lock keyed on the view name, then upserts its version row with a fresh
	// opaque hash. Returns the new version.
	Refresh(ctx context.Context, view string) (*ProjectionVersion, error)

	// Versions returns all projection version rows.
	Versions(ctx context.Context) ([]ProjectionVersion, error)

	// Version returns the version row for one view, nil when never refreshed.
	Version(ctx context.Context, view string) (*ProjectionVersion, error)

	// ReadRanked pages one city's partition of a ranked view. A non-nil
	// cuisine filters by array containment (iconic/trending) or by the
	// cuisine partition (ViewCuisine).
	ReadRanked(ctx context.Context, view string, cityID uuid.UUID, cuisine *string, limit, offset int) ([]RankedPlace, error)

	// CountRanked counts the same selection for pagination.
	CountRanked(ctx context.Context, view string, cityID uuid.UUID, cuisine *string) (int64, error)

	// CuisineFacets lists available cuisines with place counts for a city.
	CuisineFacets(ctx context.Context, cityID uuid.UUID, limit int) ([]CuisineFacet, error)
}

// JobsRepo is the Postgres-backed work queue.
type JobsRepo interface {
	// Enqueue inserts a job unless an identical (type, payload hash) row is
	// already queued or running, in which case that job's id is returned
	// with created=false.
	Enqueue(ctx context.Context, jobType string, payload any) (id uuid.UUID, created bool, err error)

	// Claim atomically transitions the oldest eligible queued job to
	// running using FOR UPDATE SKIP LOCKED. Returns ErrNoJob when the
	// queue is empty for the given types.
	Claim(ctx context.Context, types []string) (*Job, error)

	// Complete marks a running job done.
	Complete(ctx context.Context, id uuid.UUID) error

	// Fail records the error and either requeues with backoff or, at
	// maxAttempts, parks the job in terminal error state.
	Fail(ctx context.Context, id uuid.UUID, jobErr string, maxAttempts int, backoff []time.Duration) error

	// ResetStalled requeues running jobs older than the cutoff, attempts
	// preserved. Covers workers killed mid-job.
	ResetStalled(ctx context.Context, olderThan time.Duration) (int64, error)

	// PurgeTerminal deletes done/error rows older than the retention window.
	PurgeTerminal(ctx context.Context, retention time.Duration) (int64, error)

	// CountsSince returns status counts for jobs updated in the window,
	// for the health endpoint.
	CountsSince(ctx context.Context, since time.Time) (map[string]int64, error)
}

// SourcesRepo persists subreddit-to-city mappings.
type SourcesRepo interface {
	// UpsertBatch seeds sources for a city, activating them.
	UpsertBatch(ctx context.Context, cityID uuid.UUID, names []string) error

	// ListActive returns active sources for a city.
	ListActive(ctx context.Context, cityID uuid.UUID) ([]Source, error)

	// MarkSynced stamps last_sync and adds to total_posts.
	MarkSynced(ctx context.Context, name string, posts int) error
}

// Repository aggregates all persistence interfaces.
type Repository struct {
	Cities       CitiesRepo
	Places       PlacesRepo
	Mentions     MentionsRepo
	Aggregations AggregationsRepo
	Projections  ProjectionsRepo
	Jobs         JobsRepo
	Sources      SourcesRepo
}

// HealthCheck represents repository health status.
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for the persistence layer.
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
}
