// Package jobs runs the background pipeline: a Postgres-backed queue, a
// claiming worker, and the handlers that chain bootstrap → ingest →
// aggregate → refresh.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chowrank/chowrank/internal/bootstrap"
	"github.com/chowrank/chowrank/internal/ingest"
	"github.com/chowrank/chowrank/internal/metrics"
	"github.com/chowrank/chowrank/internal/persistence"
	"github.com/chowrank/chowrank/internal/scoring"
)

type bootstrapper interface {
	Run(ctx context.Context, query string) (*bootstrap.Result, error)
}

type ingester interface {
	Run(ctx context.Context, cityID uuid.UUID) (*ingest.Result, error)
}

// Handlers dispatches claimed jobs to the pipelines.
type Handlers struct {
	repo      *persistence.Repository
	bootstrap bootstrapper
	ingest    ingester

	params       scoring.Params
	windowDays   int
	snippetLimit int
}

// NewHandlers constructs the job dispatch table.
func NewHandlers(repo *persistence.Repository, boot bootstrapper, ing ingester, params scoring.Params, windowDays, snippetLimit int) *Handlers {
	return &Handlers{
		repo:         repo,
		bootstrap:    boot,
		ingest:       ing,
		params:       params,
		windowDays:   windowDays,
		snippetLimit: snippetLimit,
	}
}

// Types lists the job types this worker claims.
func (h *Handlers) Types() []string {
	return []string{
		persistence.JobBootstrapCity,
		persistence.JobIngestReddit,
		persistence.JobComputeAggregations,
		persistence.JobRefreshMVs,
	}
}

type bootstrapPayload struct {
	Query string `json:"query"`
}

type cityPayload struct {
	CityID uuid.UUID `json:"city_id"`
}

// Handle runs one claimed job to completion.
func (h *Handlers) Handle(ctx context.Context, job *persistence.Job) error {
	switch job.Type {
	case persistence.JobBootstrapCity:
		return h.handleBootstrap(ctx, job)
	case persistence.JobIngestReddit:
		return h.handleIngest(ctx, job)
	case persistence.JobComputeAggregations:
		return h.handleCompute(ctx, job)
	case persistence.JobRefreshMVs:
		return h.handleRefresh(ctx, job)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

func (h *Handlers) handleBootstrap(ctx context.Context, job *persistence.Job) error {
	var payload bootstrapPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode bootstrap payload: %w", err)
	}
	if payload.Query == "" {
		return fmt.Errorf("bootstrap payload missing query")
	}

	// The pipeline enqueues the follow-up job chain itself.
	_, err := h.bootstrap.Run(ctx, payload.Query)
	return err
}

func (h *Handlers) handleIngest(ctx context.Context, job *persistence.Job) error {
	var payload cityPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode ingest payload: %w", err)
	}

	if _, err := h.ingest.Run(ctx, payload.CityID); err != nil {
		return err
	}

	if err := h.repo.Cities.SetRanked(ctx, payload.CityID, true); err != nil {
		return fmt.Errorf("failed to mark city ranked: %w", err)
	}

	if _, _, err := h.repo.Jobs.Enqueue(ctx, persistence.JobComputeAggregations, payload); err != nil {
		return fmt.Errorf("failed to chain aggregation job: %w", err)
	}
	return nil
}

func (h *Handlers) handleCompute(ctx context.Context, job *persistence.Job) error {
	var payload cityPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode aggregation payload: %w", err)
	}
	cityID := payload.CityID
	now := time.Now().UTC()

	stats, err := h.repo.Mentions.StatsByPlace(ctx, cityID)
	if err != nil {
		return fmt.Errorf("failed to load place stats: %w", err)
	}
	window, err := h.repo.Mentions.Window(ctx, cityID, now.AddDate(0, 0, -h.windowDays))
	if err != nil {
		return fmt.Errorf("failed to load mention window: %w", err)
	}
	snippets, err := h.repo.Mentions.TopSnippets(ctx, cityID, h.snippetLimit)
	if err != nil {
		return fmt.Errorf("failed to load snippets: %w", err)
	}

	// Running ahead of ingest is fine: zero mentions writes nothing.
	aggs := scoring.Compute(stats, window, snippets, now, h.params)
	if len(aggs) == 0 {
		log.Info().Str("city_id", cityID.String()).Msg("no mentions to aggregate yet")
	} else if err := h.repo.Aggregations.UpsertBatch(ctx, aggs); err != nil {
		return fmt.Errorf("failed to upsert aggregations: %w", err)
	}

	if _, _, err := h.repo.Jobs.Enqueue(ctx, persistence.JobRefreshMVs, payload); err != nil {
		return fmt.Errorf("failed to chain refresh job: %w", err)
	}
	return nil
}

func (h *Handlers) handleRefresh(ctx context.Context, job *persistence.Job) error {
	var payload cityPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode refresh payload: %w", err)
	}

	views := []string{persistence.ViewIconic, persistence.ViewTrending, persistence.ViewCuisine}
	for _, view := range views {
		version, err := h.repo.Projections.Refresh(ctx, view)
		if err != nil {
			metrics.ProjectionRefreshTotal.WithLabelValues(view, "error").Inc()
			return fmt.Errorf("failed to refresh %s: %w", view, err)
		}
		metrics.ProjectionRefreshTotal.WithLabelValues(view, "ok").Inc()
		metrics.ProjectionRows.WithLabelValues(view).Set(float64(version.RowCount))

		log.Info().
			Str("view", view).
			Str("version", version.VersionHash).
			Int64("rows", version.RowCount).
			Msg("projection refreshed")
	}

	if err := h.repo.Cities.TouchRefreshed(ctx, payload.CityID); err != nil {
		return fmt.Errorf("failed to stamp city refresh: %w", err)
	}
	return nil
}
