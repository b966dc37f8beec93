package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chowrank/chowrank/internal/persistence"
)

// aggregationsRepo implements AggregationsRepo for PostgreSQL
type aggregationsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAggregationsRepo creates a new PostgreSQL aggregations repository
func NewAggregationsRepo(db *sqlx.DB, timeout time.Duration) persistence.AggregationsRepo {
	return &aggregationsRepo{db: db, timeout: timeout}
}

// UpsertBatch writes a city's aggregation batch, one atomic upsert per row.
// The batch as a whole is not transactional; readers see a per-place
// consistent view, and the projection refresh snapshots the final state.
func (r *aggregationsRepo) UpsertBatch(ctx context.Context, aggs []persistence.Aggregation) error {
	if len(aggs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(aggs)/500+1))
	defer cancel()

	query := `
		INSERT INTO place_aggregations
			(place_id, iconic_score, trending_score, unique_threads, total_mentions,
			 total_upvotes, mentions_90d, last_seen, top_snippets, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (place_id) DO UPDATE SET
			iconic_score = EXCLUDED.iconic_score,
			trending_score = EXCLUDED.trending_score,
			unique_threads = EXCLUDED.unique_threads,
			total_mentions = EXCLUDED.total_mentions,
			total_upvotes = EXCLUDED.total_upvotes,
			mentions_90d = EXCLUDED.mentions_90d,
			last_seen = EXCLUDED.last_seen,
			top_snippets = EXCLUDED.top_snippets,
			computed_at = now()`

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare aggregation upsert: %w", err)
	}
	defer stmt.Close()

	for _, agg := range aggs {
		if agg.IconicScore < 0 || agg.TrendingScore < 0 {
			return fmt.Errorf("negative score for place %s", agg.PlaceID)
		}

		snippets := agg.TopSnippets
		if snippets == nil {
			snippets = []persistence.Snippet{}
		}
		snippetsJSON, err := json.Marshal(snippets)
		if err != nil {
			return fmt.Errorf("failed to marshal snippets for place %s: %w", agg.PlaceID, err)
		}

		if _, err := stmt.ExecContext(ctx,
			agg.PlaceID, agg.IconicScore, agg.TrendingScore, agg.UniqueThreads,
			agg.TotalMentions, agg.TotalUpvotes, agg.Mentions90d, agg.LastSeen,
			snippetsJSON); err != nil {
			return fmt.Errorf("failed to upsert aggregation for place %s: %w", agg.PlaceID, err)
		}
	}

	return nil
}

// GetByPlace fetches the aggregation for one place, nil when absent
func (r *aggregationsRepo) GetByPlace(ctx context.Context, placeID uuid.UUID) (*persistence.Aggregation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT place_id, iconic_score, trending_score, unique_threads, total_mentions,
			total_upvotes, mentions_90d, last_seen, top_snippets, computed_at
		FROM place_aggregations
		WHERE place_id = $1`

	var agg persistence.Aggregation
	var snippetsJSON []byte
	err := r.db.QueryRowxContext(ctx, query, placeID).Scan(
		&agg.PlaceID, &agg.IconicScore, &agg.TrendingScore, &agg.UniqueThreads,
		&agg.TotalMentions, &agg.TotalUpvotes, &agg.Mentions90d, &agg.LastSeen,
		&snippetsJSON, &agg.ComputedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get aggregation for place %s: %w", placeID, err)
	}

	if len(snippetsJSON) > 0 {
		if err := json.Unmarshal(snippetsJSON, &agg.TopSnippets); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snippets for place %s: %w", placeID, err)
		}
	}

	return &agg, nil
}
