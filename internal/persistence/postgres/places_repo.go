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

// placesRepo implements PlacesRepo for PostgreSQL
type placesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPlacesRepo creates a new PostgreSQL places repository
func NewPlacesRepo(db *sqlx.DB, timeout time.Duration) persistence.PlacesRepo {
	return &placesRepo{db: db, timeout: timeout}
}

const placeUpsertSQL = `
	INSERT INTO places
		(city_id, source_id, alt_source_id, name, name_norm, geog,
		 address, cuisine, status, brand, source, aliases)
	VALUES ($1, $2, $3, $4, $5,
		ST_SetSRID(ST_MakePoint($6, $7), 4326)::geography,
		$8, $9, $10, $11, $12, $13)
	ON CONFLICT (city_id, name_norm) DO UPDATE SET
		source_id = COALESCE(EXCLUDED.source_id, places.source_id),
		alt_source_id = COALESCE(EXCLUDED.alt_source_id, places.alt_source_id),
		name = EXCLUDED.name,
		geog = EXCLUDED.geog,
		address = COALESCE(EXCLUDED.address, places.address),
		cuisine = CASE WHEN cardinality(EXCLUDED.cuisine) > 0
			THEN EXCLUDED.cuisine ELSE places.cuisine END,
		status = EXCLUDED.status,
		brand = COALESCE(EXCLUDED.brand, places.brand),
		source = EXCLUDED.source,
		aliases = CASE WHEN cardinality(EXCLUDED.aliases) > 0
			THEN EXCLUDED.aliases ELSE places.aliases END,
		updated_at = now()
	RETURNING id`

// Upsert inserts or updates a place, idempotent on (city_id, name_norm).
// Incoming nulls preserve the existing address and brand.
func (r *placesRepo) Upsert(ctx context.Context, place persistence.Place) (uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var id uuid.UUID
	err := r.db.QueryRowxContext(ctx, placeUpsertSQL,
		place.CityID, place.SourceID, place.AltSourceID, place.Name, place.NameNorm,
		place.Lon, place.Lat, place.Address,
		pq.StringArray(place.Cuisine), place.Status, place.Brand, place.Source,
		pq.StringArray(place.Aliases)).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to upsert place %q: %w", place.Name, err)
	}

	return id, nil
}

// UpsertBatch upserts places in one transaction; returns the row count
func (r *placesRepo) UpsertBatch(ctx context.Context, places []persistence.Place) (int, error) {
	if len(places) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(places)/500+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, placeUpsertSQL)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare place upsert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, place := range places {
		var id uuid.UUID
		err := stmt.QueryRowContext(ctx,
			place.CityID, place.SourceID, place.AltSourceID, place.Name, place.NameNorm,
			place.Lon, place.Lat, place.Address,
			pq.StringArray(place.Cuisine), place.Status, place.Brand, place.Source,
			pq.StringArray(place.Aliases)).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert place %q in batch: %w", place.Name, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit place batch: %w", err)
	}

	return count, nil
}

const placeColumns = `
	p.id, p.city_id, p.source_id, p.alt_source_id, p.name, p.name_norm,
	ST_Y(p.geog::geometry) AS lat, ST_X(p.geog::geometry) AS lon,
	p.address, p.cuisine, p.status, p.brand, p.source, p.aliases,
	p.created_at, p.updated_at`

func scanPlace(rows sqlx.ColScanner) (*persistence.Place, error) {
	var p persistence.Place
	var cuisine, aliases pq.StringArray

	err := rows.Scan(&p.ID, &p.CityID, &p.SourceID, &p.AltSourceID, &p.Name, &p.NameNorm,
		&p.Lat, &p.Lon, &p.Address, &cuisine, &p.Status, &p.Brand, &p.Source, &aliases,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Cuisine = []string(cuisine)
	p.Aliases = []string(aliases)
	return &p, nil
}

// GetByID fetches a place
func (r *placesRepo) GetByID(ctx context.Context, id uuid.UUID) (*persistence.Place, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	row := r.db.QueryRowxContext(ctx, `SELECT `+placeColumns+` FROM places p WHERE p.id = $1`, id)
	place, err := scanPlace(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrPlaceNotFound
		}
		return nil, fmt.Errorf("failed to get place %s: %w", id, err)
	}

	return place, nil
}

// ListOpenByName returns open places name-ordered for unranked coverage
func (r *placesRepo) ListOpenByName(ctx context.Context, cityID uuid.UUID, limit, offset int) ([]persistence.Place, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + placeColumns + `
		FROM places p
		WHERE p.city_id = $1 AND p.status = 'open'
		ORDER BY p.name ASC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryxContext(ctx, query, cityID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list open places: %w", err)
	}
	defer rows.Close()

	var out []persistence.Place
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan place row: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating place rows: %w", err)
	}

	return out, nil
}

// CountOpen counts open places for unranked pagination
func (r *placesRepo) CountOpen(ctx context.Context, cityID uuid.UUID) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM places WHERE city_id = $1 AND status = 'open'`, cityID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open places: %w", err)
	}

	return count, nil
}

const candidateColumns = `
	p.id AS place_id, p.name, p.name_norm, p.brand, p.address,
	ST_Y(p.geog::geometry) AS lat, ST_X(p.geog::geometry) AS lon`

// MatchExact finds open places whose name_norm or alias set contains the query
func (r *placesRepo) MatchExact(ctx context.Context, cityID uuid.UUID, norm string) ([]persistence.MatchCandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + candidateColumns + `,
			1.0 AS similarity, 0.0 AS distance_m
		FROM places p
		WHERE p.city_id = $1 AND p.status = 'open'
			AND (p.name_norm = $2 OR $2 = ANY(p.aliases))
		ORDER BY p.name ASC
		LIMIT 5`

	return r.queryCandidates(ctx, query, cityID, norm)
}

// MatchTrigram returns candidates above the similarity threshold
func (r *placesRepo) MatchTrigram(ctx context.Context, cityID uuid.UUID, norm string, threshold float64, limit int) ([]persistence.MatchCandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + candidateColumns + `,
			similarity(p.name_norm, $2) AS similarity, 0.0 AS distance_m
		FROM places p
		WHERE p.city_id = $1 AND p.status = 'open'
			AND similarity(p.name_norm, $2) >= $3
		ORDER BY similarity DESC, p.name ASC
		LIMIT $4`

	return r.queryCandidates(ctx, query, cityID, norm, threshold, limit)
}

// MatchTrigramNear restricts trigram candidates to a radius around the query point
func (r *placesRepo) MatchTrigramNear(ctx context.Context, cityID uuid.UUID, norm string, lat, lon, radiusM, threshold float64, limit int) ([]persistence.MatchCandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + candidateColumns + `,
			similarity(p.name_norm, $2) AS similarity,
			ST_Distance(p.geog, ST_SetSRID(ST_MakePoint($4, $3), 4326)::geography) AS distance_m
		FROM places p
		WHERE p.city_id = $1 AND p.status = 'open'
			AND ST_DWithin(p.geog, ST_SetSRID(ST_MakePoint($4, $3), 4326)::geography, $5)
			AND similarity(p.name_norm, $2) >= $6
		ORDER BY similarity DESC, distance_m ASC
		LIMIT $7`

	return r.queryCandidates(ctx, query, cityID, norm, lat, lon, radiusM, threshold, limit)
}

func (r *placesRepo) queryCandidates(ctx context.Context, query string, args ...any) ([]persistence.MatchCandidate, error) {
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query match candidates: %w", err)
	}
	defer rows.Close()

	var out []persistence.MatchCandidate
	for rows.Next() {
		var c persistence.MatchCandidate
		if err := rows.Scan(&c.PlaceID, &c.Name, &c.NameNorm, &c.Brand, &c.Address,
			&c.Lat, &c.Lon, &c.Similarity, &c.DistanceM); err != nil {
			return nil, fmt.Errorf("failed to scan candidate row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidate rows: %w", err)
	}

	return out, nil
}

// FuzzySearch is the read-path trigram search joined with iconic scores
func (r *placesRepo) FuzzySearch(ctx context.Context, norm string, cityID *uuid.UUID, threshold float64, limit int) ([]persistence.FuzzyResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + placeColumns + `,
			similarity(p.name_norm, $1) AS similarity,
			COALESCE(pa.iconic_score, 0) AS iconic_score
		FROM places p
		LEFT JOIN place_aggregations pa ON pa.place_id = p.id
		WHERE p.status = 'open'
			AND similarity(p.name_norm, $1) >= $2
			AND ($3::uuid IS NULL OR p.city_id = $3)
		ORDER BY similarity DESC, iconic_score DESC
		LIMIT $4`

	rows, err := r.db.QueryxContext(ctx, query, norm, threshold, cityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fuzzy search %q: %w", norm, err)
	}
	defer rows.Close()

	var out []persistence.FuzzyResult
	for rows.Next() {
		var res persistence.FuzzyResult
		var cuisine, aliases pq.StringArray
		if err := rows.Scan(&res.ID, &res.CityID, &res.SourceID, &res.AltSourceID,
			&res.Name, &res.NameNorm, &res.Lat, &res.Lon, &res.Address, &cuisine,
			&res.Status, &res.Brand, &res.Source, &aliases, &res.CreatedAt, &res.UpdatedAt,
			&res.Similarity, &res.IconicScore); err != nil {
			return nil, fmt.Errorf("failed to scan fuzzy row: %w", err)
		}
		res.Cuisine = []string(cuisine)
		res.Aliases = []string(aliases)
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fuzzy rows: %w", err)
	}

	return out, nil
}
