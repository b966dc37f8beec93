package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chowrank/chowrank/internal/persistence"
)

// mentionsRepo implements MentionsRepo for PostgreSQL
type mentionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewMentionsRepo creates a new PostgreSQL mentions repository
func NewMentionsRepo(db *sqlx.DB, timeout time.Duration) persistence.MentionsRepo {
	return &mentionsRepo{db: db, timeout: timeout}
}

// Insert adds a mention, ignoring conflicts on (post_id, comment_id, place_id).
// Re-running ingest over an overlapping window is a no-op; the NULL place_id
// of audit rows is coalesced so they dedupe too.
func (r *mentionsRepo) Insert(ctx context.Context, m persistence.Mention) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if m.Timestamp.IsZero() {
		return false, fmt.Errorf("mention for post %s has no timestamp", m.PostID)
	}

	query := `
		INSERT INTO mentions
			(place_id, subreddit, post_id, comment_id, score, ts,
			 permalink, content_hash, content_length)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (post_id, (COALESCE(comment_id, '')),
			(COALESCE(place_id, '00000000-0000-0000-0000-000000000000'::uuid))) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		m.PlaceID, m.Subreddit, m.PostID, m.CommentID, m.Score, m.Timestamp,
		m.Permalink, m.ContentHash, m.ContentLength)
	if err != nil {
		return false, fmt.Errorf("failed to insert mention for post %s: %w", m.PostID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read mention insert result: %w", err)
	}

	return n > 0, nil
}

// RecentByPlace returns the latest mentions for the detail endpoint
func (r *mentionsRepo) RecentByPlace(ctx context.Context, placeID uuid.UUID, limit int) ([]persistence.Mention, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, place_id, subreddit, post_id, comment_id, score, ts,
			permalink, content_hash, content_length, created_at
		FROM mentions
		WHERE place_id = $1
		ORDER BY ts DESC
		LIMIT $2`

	var out []persistence.Mention
	if err := r.db.SelectContext(ctx, &out, query, placeID, limit); err != nil {
		return nil, fmt.Errorf("failed to list recent mentions: %w", err)
	}

	return out, nil
}

// StatsByPlace returns all-time aggregates per place for one city
func (r *mentionsRepo) StatsByPlace(ctx context.Context, cityID uuid.UUID) ([]persistence.PlaceStats, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT m.place_id,
			COUNT(DISTINCT m.post_id) AS unique_threads,
			COUNT(*) AS total_mentions,
			COALESCE(SUM(GREATEST(m.score, 0)), 0) AS total_upvotes,
			COUNT(*) FILTER (WHERE m.ts >= now() - interval '90 days') AS mentions_90d,
			MAX(m.ts) AS last_seen
		FROM mentions m
		JOIN places p ON p.id = m.place_id
		WHERE p.city_id = $1 AND m.place_id IS NOT NULL
		GROUP BY m.place_id`

	var out []persistence.PlaceStats
	if err := r.db.SelectContext(ctx, &out, query, cityID); err != nil {
		return nil, fmt.Errorf("failed to aggregate mention stats: %w", err)
	}

	return out, nil
}

// Window returns in-window mention rows per place for one city
func (r *mentionsRepo) Window(ctx context.Context, cityID uuid.UUID, since time.Time) ([]persistence.WindowMention, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// The BRIN index on ts keeps this a narrow range scan.
	query := `
		SELECT m.place_id, m.score, m.ts
		FROM mentions m
		JOIN places p ON p.id = m.place_id
		WHERE p.city_id = $1 AND m.place_id IS NOT NULL AND m.ts >= $2`

	var out []persistence.WindowMention
	if err := r.db.SelectContext(ctx, &out, query, cityID, since); err != nil {
		return nil, fmt.Errorf("failed to read mention window: %w", err)
	}

	return out, nil
}

// TopSnippets returns up to perPlace snippet stubs per place
func (r *mentionsRepo) TopSnippets(ctx context.Context, cityID uuid.UUID, perPlace int) (map[uuid.UUID][]persistence.Snippet, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT place_id, permalink, score, ts, content_hash, content_length
		FROM (
			SELECT m.place_id, m.permalink, m.score, m.ts, m.content_hash, m.content_length,
				ROW_NUMBER() OVER (PARTITION BY m.place_id ORDER BY m.score DESC, m.ts DESC) AS rn
			FROM mentions m
			JOIN places p ON p.id = m.place_id
			WHERE p.city_id = $1 AND m.place_id IS NOT NULL
		) ranked
		WHERE rn <= $2`

	rows, err := r.db.QueryxContext(ctx, query, cityID, perPlace)
	if err != nil {
		return nil, fmt.Errorf("failed to query top snippets: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]persistence.Snippet)
	for rows.Next() {
		var placeID uuid.UUID
		var s persistence.Snippet
		if err := rows.Scan(&placeID, &s.Permalink, &s.Score, &s.Timestamp, &s.Hash, &s.Length); err != nil {
			return nil, fmt.Errorf("failed to scan snippet row: %w", err)
		}
		out[placeID] = append(out[placeID], s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snippet rows: %w", err)
	}

	return out, nil
}
