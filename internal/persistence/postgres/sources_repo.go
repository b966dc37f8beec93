package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/chowrank/chowrank/internal/persistence"
)

// sourcesRepo implements SourcesRepo for PostgreSQL
type sourcesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSourcesRepo creates a new PostgreSQL sources repository
func NewSourcesRepo(db *sqlx.DB, timeout time.Duration) persistence.SourcesRepo {
	return &sourcesRepo{db: db, timeout: timeout}
}

// UpsertBatch seeds sources for a city, activating them
func (r *sourcesRepo) UpsertBatch(ctx context.Context, cityID uuid.UUID, names []string) error {
	if len(names) == 0 {
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
		INSERT INTO sources (name, city_id, is_active)
		VALUES ($1, $2, true)
		ON CONFLICT (name) DO UPDATE SET
			city_id = EXCLUDED.city_id,
			is_active = true`)
	if err != nil {
		return fmt.Errorf("failed to prepare source upsert: %w", err)
	}
	defer stmt.Close()

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, name, cityID); err != nil {
			return fmt.Errorf("failed to upsert source %q: %w", name, err)
		}
	}

	return tx.Commit()
}

// ListActive returns active sources for a city
func (r *sourcesRepo) ListActive(ctx context.Context, cityID uuid.UUID) ([]persistence.Source, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []persistence.Source
	err := r.db.SelectContext(ctx, &out, `
		SELECT name, city_id, is_active, last_sync, total_posts
		FROM sources
		WHERE city_id = $1 AND is_active
		ORDER BY name ASC`, cityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sources: %w", err)
	}

	return out, nil
}

// MarkSynced stamps last_sync and adds to total_posts
func (r *sourcesRepo) MarkSynced(ctx context.Context, name string, posts int) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE sources SET last_sync = now(), total_posts = total_posts + $2
		WHERE name = $1`, name, posts)
	if err != nil {
		return fmt.Errorf("failed to mark source %q synced: %w", name, err)
	}

	return nil
}
