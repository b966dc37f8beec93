package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/chowrank/chowrank/internal/bootstrap"
	"github.com/chowrank/chowrank/internal/persistence"
	"github.com/chowrank/chowrank/internal/providers"
)

func newBootstrapCmd() *cobra.Command {
	var enqueue bool

	cmd := &cobra.Command{
		Use:   "bootstrap <city>",
		Short: "Load a city's POI gazetteer",
		Long: `Resolves the city, fetches its food POIs, and seeds discussion
sources. With --enqueue the work is handed to the worker queue instead
of running inline; inline runs still enqueue the follow-up ingest.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrap(cmd, args[0], enqueue)
		},
	}

	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "Queue the bootstrap for the worker instead of running inline")
	return cmd
}

func runBootstrap(cmd *cobra.Command, query string, enqueue bool) error {
	cfg, _, manager, err := loadRuntime()
	if err != nil {
		return err
	}
	defer manager.Close()

	repo := manager.Repository()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if enqueue {
		id, created, err := repo.Jobs.Enqueue(ctx, persistence.JobBootstrapCity, map[string]string{"query": query})
		if err != nil {
			return err
		}
		if !created {
			log.Info().Str("job_id", id.String()).Msg("identical bootstrap already pending")
			return nil
		}
		fmt.Printf("queued bootstrap job %s for %q\n", id, query)
		return nil
	}

	geocoder := providers.NewNominatimGeocoder("", userAgent)
	pois := providers.NewOverpassProvider("", userAgent)

	result, err := bootstrap.NewPipeline(repo, geocoder, pois, cfg).Run(ctx, query)
	if err != nil {
		return err
	}

	fmt.Printf("bootstrapped %s, %s: %d places, %d sources\n",
		result.City.Name, result.City.Country, result.PlacesLoaded, result.SourcesAdded)
	if result.IngestJobID != nil {
		fmt.Printf("queued ingest job %s\n", *result.IngestJobID)
	} else {
		fmt.Println("no discussion sources configured; city stays in unranked mode")
	}
	return nil
}
