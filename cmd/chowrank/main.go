package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/chowrank/chowrank/internal/config"
	"github.com/chowrank/chowrank/internal/infrastructure/db"
)

const (
	appName = "chowrank"
	version = "v2.1.0"

	// userAgent identifies us to the public map services. Reddit gets the
	// registered app identity from the environment instead.
	userAgent = "chowrank/2.1 (+https://github.com/chowrank/chowrank)"
)

var (
	flagConfig   string
	flagLogLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Crowd-sourced restaurant rankings from public discussion",
		Version: version,
		Long: `chowrank mines public discussion threads for restaurant mentions,
joins them against an OpenStreetMap gazetteer, and serves iconic and
trending rankings per city.

Typical deployment runs three processes: migrate once, then serve and
worker side by side against the same Postgres.`,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogging(flagLogLevel)
		},
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "config.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (trace|debug|info|warn|error)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newWorkerCmd())
	rootCmd.AddCommand(newBootstrapCmd())
	rootCmd.AddCommand(newMigrateCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// setupLogging emits human-readable output on a terminal and JSON lines
// everywhere else.
func setupLogging(level string) error {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	return nil
}

// loadRuntime gathers the file config, the environment secrets, and an open
// database pool. Every command except migrate-status style one-offs starts here.
func loadRuntime() (config.Config, config.Secrets, *db.Manager, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return config.Config{}, config.Secrets{}, nil, err
	}

	secrets, err := config.LoadSecrets()
	if err != nil {
		return config.Config{}, config.Secrets{}, nil, err
	}

	dbCfg := db.DefaultConfig()
	dbCfg.DSN = secrets.DatabaseURL

	manager, err := db.NewManager(dbCfg)
	if err != nil {
		return config.Config{}, config.Secrets{}, nil, err
	}

	return cfg, secrets, manager, nil
}
