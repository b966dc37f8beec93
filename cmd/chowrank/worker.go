package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chowrank/chowrank/internal/bootstrap"
	"github.com/chowrank/chowrank/internal/config"
	"github.com/chowrank/chowrank/internal/ingest"
	"github.com/chowrank/chowrank/internal/jobs"
	"github.com/chowrank/chowrank/internal/match"
	"github.com/chowrank/chowrank/internal/providers"
	"github.com/chowrank/chowrank/internal/scoring"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the background job worker",
		Long: `Claims queued jobs and runs the pipeline: city bootstrap, discussion
ingest, score computation, and projection refresh. Safe to run multiple
instances; claims use row locks.`,
		RunE: runWorker,
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, secrets, manager, err := loadRuntime()
	if err != nil {
		return err
	}
	defer manager.Close()

	repo := manager.Repository()

	geocoder := providers.NewNominatimGeocoder("", userAgent)
	pois := providers.NewOverpassProvider("", userAgent)
	reddit := providers.NewRedditClient("", "", providers.RedditCredentials{
		ClientID:     secrets.RedditClientID,
		ClientSecret: secrets.RedditClientSecret,
		UserAgent:    secrets.RedditUserAgent,
	})

	matcher := match.New(repo.Places, match.Options{
		Threshold:    cfg.Match.Threshold,
		GeoThreshold: cfg.Match.GeoThreshold,
		GeoRadiusM:   cfg.Match.GeoRadiusM,
		CandidateCap: cfg.Match.CandidateCap,
	})

	handlers := jobs.NewHandlers(
		repo,
		bootstrap.NewPipeline(repo, geocoder, pois, cfg),
		ingest.NewPipeline(repo, reddit, matcher, cfg),
		scoringParams(cfg.Scoring),
		cfg.Scoring.WindowDays,
		cfg.Scoring.SnippetLimit,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return jobs.NewWorker(repo.Jobs, handlers, cfg.Jobs).Run(ctx)
}

func scoringParams(sc config.ScoringConfig) scoring.Params {
	return scoring.Params{
		Alpha:               sc.Alpha,
		Beta:                sc.Beta,
		PriorN:              sc.PriorN,
		Z:                   sc.Z,
		HalfLifeDays:        sc.HalfLifeDays,
		DayMultiplier:       sc.DayMultiplier,
		WeekMultiplier:      sc.WeekMultiplier,
		UpvoteBoost:         sc.UpvoteBoost,
		MinMentionsIconic:   sc.MinMentionsIconic,
		MinMentionsTrending: sc.MinMentionsTrending,
	}
}
