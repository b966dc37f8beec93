package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/chowrank/chowrank/internal/persistence"
)

// projectionsRepo implements ProjectionsRepo for PostgreSQL
type projectionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewProjectionsRepo creates a new PostgreSQL projections repository
func NewProjectionsRepo(db *sqlx.DB, timeout time.Duration) persistence.ProjectionsRepo {
	return &projectionsRepo{db: db, timeout: timeout}
}

// rankedViews is the identifier whitelist. View names are interpolated into
// SQL only from this set, never from request input.
var rankedViews = map[string]bool{
	persistence.ViewIconic:   true,
	persistence.ViewTrending: true,
	persistence.ViewCuisine:  true,
}

func validView(view string) error {
	if !rankedViews[view] {
		return fmt.Errorf("unknown projection view: %s", view)
	}
	return nil
}

// Refresh concurrently refreshes one view under an advisory lock keyed on the
// view name, then upserts its version row. REFRESH ... CONCURRENTLY cannot
// run inside a transaction, so the lock is session-level on a pinned
// connection.
func (r *projectionsRepo) Refresh(ctx context.Context, view string) (*persistence.ProjectionVersion, error) {
	if err := validView(view); err != nil {
		return nil, err
	}

	// Refreshes scan the full aggregation set; give them more room than a
	// point query.
	ctx, cancel := context.WithTimeout(ctx, r.timeout*4)
	defer cancel()

	conn, err := r.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, view); err != nil {
		return nil, fmt.Errorf("failed to take advisory lock for %s: %w", view, err)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock(hashtext($1))`, view)

	if _, err := conn.ExecContext(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY `+view); err != nil {
		return nil, fmt.Errorf("failed to refresh %s: %w", view, err)
	}

	var rowCount int64
	if err := conn.QueryRowxContext(ctx, `SELECT COUNT(*) FROM `+view).Scan(&rowCount); err != nil {
		return nil, fmt.Errorf("failed to count %s rows: %w", view, err)
	}

	// Fresh opaque token per refresh; its only contract is uniqueness.
	hash := fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405"), uuid.New().String()[:8])

	var version persistence.ProjectionVersion
	err = conn.QueryRowxContext(ctx, `
		INSERT INTO projection_versions (view_name, version_hash, refreshed_at, row_count)
		VALUES ($1, $2, now(), $3)
		ON CONFLICT (view_name) DO UPDATE SET
			version_hash = EXCLUDED.version_hash,
			refreshed_at = EXCLUDED.refreshed_at,
			row_count = EXCLUDED.row_count
		RETURNING view_name, version_hash, refreshed_at, row_count`,
		view, hash, rowCount).StructScan(&version)
	if err != nil {
		return nil, fmt.Errorf("failed to record version for %s: %w", view, err)
	}

	return &version, nil
}

// Versions returns all projection version rows
func (r *projectionsRepo) Versions(ctx context.Context) ([]persistence.ProjectionVersion, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []persistence.ProjectionVersion
	err := r.db.SelectContext(ctx, &out, `
		SELECT view_name, version_hash, refreshed_at, row_count
		FROM projection_versions
		ORDER BY view_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projection versions: %w", err)
	}

	return out, nil
}

// Version returns the version row for one view, nil when never refreshed
func (r *projectionsRepo) Version(ctx context.Context, view string) (*persistence.ProjectionVersion, error) {
	if err := validView(view); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var version persistence.ProjectionVersion
	err := r.db.GetContext(ctx, &version, `
		SELECT view_name, version_hash, refreshed_at, row_count
		FROM projection_versions
		WHERE view_name = $1`, view)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get version for %s: %w", view, err)
	}

	return &version, nil
}

const rankedColumns = `
	place_id, city_id, name, cuisine, address, lat, lon, score, rank,
	unique_threads, total_mentions, last_seen, top_snippets`

// ReadRanked pages one city's partition of a ranked view. The cuisine filter
// is expressed as separate parameterized statements rather than runtime
// string concatenation.
func (r *projectionsRepo) ReadRanked(ctx context.Context, view string, cityID uuid.UUID, cuisine *string, limit, offset int) ([]persistence.RankedPlace, error) {
	if err := validView(view); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows *sqlx.Rows
	var err error
	switch {
	case view == persistence.ViewCuisine:
		if cuisine == nil {
			return nil, fmt.Errorf("cuisine view requires a cuisine filter")
		}
		query := `SELECT place_id, city_id, name, cuisines AS cuisine, address, lat, lon,
				score, rank, unique_threads, total_mentions, last_seen, top_snippets
			FROM ` + view + `
			WHERE city_id = $1 AND cuisine = $2
			ORDER BY rank ASC
			LIMIT $3 OFFSET $4`
		rows, err = r.db.QueryxContext(ctx, query, cityID, *cuisine, limit, offset)
	case cuisine != nil:
		query := `SELECT ` + rankedColumns + `
			FROM ` + view + `
			WHERE city_id = $1 AND cuisine @> ARRAY[$2]::text[]
			ORDER BY rank ASC
			LIMIT $3 OFFSET $4`
		rows, err = r.db.QueryxContext(ctx, query, cityID, *cuisine, limit, offset)
	default:
		query := `SELECT ` + rankedColumns + `
			FROM ` + view + `
			WHERE city_id = $1
			ORDER BY rank ASC
			LIMIT $2 OFFSET $3`
		rows, err = r.db.QueryxContext(ctx, query, cityID, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", view, err)
	}
	defer rows.Close()

	var out []persistence.RankedPlace
	for rows.Next() {
		var rp persistence.RankedPlace
		var cuisines pq.StringArray
		if err := rows.Scan(&rp.PlaceID, &rp.CityID, &rp.Name, &cuisines, &rp.Address,
			&rp.Lat, &rp.Lon, &rp.Score, &rp.Rank, &rp.UniqueThreads, &rp.TotalMentions,
			&rp.LastSeen, &rp.TopSnippets); err != nil {
			return nil, fmt.Errorf("failed to scan ranked row: %w", err)
		}
		rp.Cuisine = []string(cuisines)
		out = append(out, rp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ranked rows: %w", err)
	}

	return out, nil
}

// CountRanked counts the selection served by ReadRanked for pagination
func (r *projectionsRepo) CountRanked(ctx context.Context, view string, cityID uuid.UUID, cuisine *string) (int64, error) {
	if err := validView(view); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	var err error
	switch {
	case view == persistence.ViewCuisine:
		if cuisine == nil {
			return 0, fmt.Errorf("cuisine view requires a cuisine filter")
		}
		err = r.db.QueryRowxContext(ctx,
			`SELECT COUNT(*) FROM `+view+` WHERE city_id = $1 AND cuisine = $2`,
			cityID, *cuisine).Scan(&count)
	case cuisine != nil:
		err = r.db.QueryRowxContext(ctx,
			`SELECT COUNT(*) FROM `+view+` WHERE city_id = $1 AND cuisine @> ARRAY[$2]::text[]`,
			cityID, *cuisine).Scan(&count)
	default:
		err = r.db.QueryRowxContext(ctx,
			`SELECT COUNT(*) FROM `+view+` WHERE city_id = $1`, cityID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count %s rows: %w", view, err)
	}

	return count, nil
}

// CuisineFacets lists available cuisines with place counts for a city
func (r *projectionsRepo) CuisineFacets(ctx context.Context, cityID uuid.UUID, limit int) ([]persistence.CuisineFacet, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT cuisine, COUNT(*) AS places
		FROM ` + persistence.ViewCuisine + `
		WHERE city_id = $1
		GROUP BY cuisine
		ORDER BY places DESC, cuisine ASC
		LIMIT $2`

	var out []persistence.CuisineFacet
	if err := r.db.SelectContext(ctx, &out, query, cityID, limit); err != nil {
		return nil, fmt.Errorf("failed to list cuisine facets: %w", err)
	}

	return out, nil
}
