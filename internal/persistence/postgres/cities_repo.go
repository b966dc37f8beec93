package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chowrank/chowrank/internal/persistence"
)

// citiesRepo implements CitiesRepo for PostgreSQL
type citiesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCitiesRepo creates a new PostgreSQL cities repository
func NewCitiesRepo(db *sqlx.DB, timeout time.Duration) persistence.CitiesRepo {
	return &citiesRepo{db: db, timeout: timeout}
}

// Upsert inserts or updates a city, idempotent on (name, country)
func (r *citiesRepo) Upsert(ctx context.Context, city persistence.City) (uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO cities (name, country, centroid, bbox)
		VALUES ($1, $2,
			ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography,
			ST_MakeEnvelope($5, $6, $7, $8, 4326)::geography)
		ON CONFLICT (name, country) DO UPDATE SET
			centroid = EXCLUDED.centroid,
			bbox = EXCLUDED.bbox
		RETURNING id`

	var id uuid.UUID
	err := r.db.QueryRowxContext(ctx, query,
		city.Name, city.Country, city.Lon, city.Lat,
		city.BBox.Min.Lon(), city.BBox.Min.Lat(),
		city.BBox.Max.Lon(), city.BBox.Max.Lat()).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert city %q: %w", city.Name, err)
	}

	return id, nil
}

// UpsertAliases seeds normalized lookup keys for a city
func (r *citiesRepo) UpsertAliases(ctx context.Context, cityID uuid.UUID, aliases []persistence.CityAlias) error {
	if len(aliases) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO city_aliases (city_id, alias, is_borough)
		VALUES ($1, lower($2), $3)
		ON CONFLICT ((lower(alias))) DO UPDATE SET
			city_id = EXCLUDED.city_id,
			is_borough = EXCLUDED.is_borough`)
	if err != nil {
		return fmt.Errorf("failed to prepare alias statement: %w", err)
	}
	defer stmt.Close()

	for _, a := range aliases {
		alias := strings.TrimSpace(a.Alias)
		if alias == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, cityID, alias, a.IsBorough); err != nil {
			return fmt.Errorf("failed to upsert alias %q: %w", alias, err)
		}
	}

	return tx.Commit()
}

const cityColumns = `
	id, name, country,
	ST_Y(centroid::geometry) AS lat, ST_X(centroid::geometry) AS lon,
	ranked, last_refreshed_at, created_at`

// Resolve maps a free-text query to a city via name or alias, case-folded
func (r *citiesRepo) Resolve(ctx context.Context, query string) (*persistence.City, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, persistence.ErrCityNotFound
	}

	// Direct name match wins over an alias hit.
	sqlq := `
		SELECT DISTINCT ON (c.id)
			c.id, c.name, c.country,
			ST_Y(c.centroid::geometry) AS lat, ST_X(c.centroid::geometry) AS lon,
			c.ranked, c.last_refreshed_at, c.created_at
		FROM cities c
		LEFT JOIN city_aliases ca ON ca.city_id = c.id
		WHERE lower(c.name) = $1 OR lower(ca.alias) = $1
		ORDER BY c.id, (lower(c.name) = $1) DESC
		LIMIT 1`

	var city persistence.City
	if err := r.db.GetContext(ctx, &city, sqlq, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrCityNotFound
		}
		return nil, fmt.Errorf("failed to resolve city %q: %w", query, err)
	}

	return &city, nil
}

// GetByID fetches a city by primary key
func (r *citiesRepo) GetByID(ctx context.Context, id uuid.UUID) (*persistence.City, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var city persistence.City
	err := r.db.GetContext(ctx, &city, `SELECT `+cityColumns+` FROM cities WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrCityNotFound
		}
		return nil, fmt.Errorf("failed to get city %s: %w", id, err)
	}

	return &city, nil
}

// List returns all cities with coverage stats, ranked first
func (r *citiesRepo) List(ctx context.Context) ([]persistence.CityWithStats, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT c.id, c.name, c.country,
			ST_Y(c.centroid::geometry) AS lat, ST_X(c.centroid::geometry) AS lon,
			c.ranked, c.last_refreshed_at, c.created_at,
			COALESCE(p.places, 0) AS places,
			COALESCE(m.mentions, 0) AS mentions
		FROM cities c
		LEFT JOIN (
			SELECT city_id, COUNT(*) AS places
			FROM places
			GROUP BY city_id
		) p ON p.city_id = c.id
		LEFT JOIN (
			SELECT pl.city_id, COUNT(*) AS mentions
			FROM mentions mn
			JOIN places pl ON pl.id = mn.place_id
			GROUP BY pl.city_id
		) m ON m.city_id = c.id
		ORDER BY c.ranked DESC, c.name ASC`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list cities: %w", err)
	}
	defer rows.Close()

	var out []persistence.CityWithStats
	for rows.Next() {
		var c persistence.City
		var places, mentions int64
		if err := rows.Scan(&c.ID, &c.Name, &c.Country, &c.Lat, &c.Lon,
			&c.Ranked, &c.LastRefreshedAt, &c.CreatedAt, &places, &mentions); err != nil {
			return nil, fmt.Errorf("failed to scan city row: %w", err)
		}
		out = append(out, persistence.CityWithStats{
			City: c,
			Stats: persistence.CityStats{
				Places:        places,
				Mentions:      mentions,
				LastRefreshed: c.LastRefreshedAt,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating city rows: %w", err)
	}

	return out, nil
}

// SetRanked flips the ranked flag after the first successful ingest
func (r *citiesRepo) SetRanked(ctx context.Context, id uuid.UUID, ranked bool) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `UPDATE cities SET ranked = $2 WHERE id = $1`, id, ranked)
	if err != nil {
		return fmt.Errorf("failed to set ranked for city %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return persistence.ErrCityNotFound
	}

	return nil
}

// TouchRefreshed stamps last_refreshed_at
func (r *citiesRepo) TouchRefreshed(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `UPDATE cities SET last_refreshed_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to touch city %s: %w", id, err)
	}

	return nil
}
