package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/chowrank/chowrank/internal/config"
	apihttp "github.com/chowrank/chowrank/internal/interfaces/http"
)

const shutdownGrace = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the read API server",
		Long:  "Serves the ranked search, fuzzy lookup, and listing endpoints. Read-only: all writes happen in the worker.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, secrets, manager, err := loadRuntime()
	if err != nil {
		return err
	}
	defer manager.Close()

	limiter := apihttp.NewRateLimiter(newRedisClient(secrets), cfg.RateLimit)
	server := apihttp.NewServer(cfg, manager.Repository(), manager.Health(), limiter)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newRedisClient returns the rate-limit backend, or nil when none is
// configured. The limiter treats nil as disabled.
func newRedisClient(secrets config.Secrets) redis.Cmdable {
	if secrets.RedisAddr == "" {
		log.Warn().Msg("REDIS_ADDR not set, rate limiting disabled")
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     secrets.RedisAddr,
		Password: secrets.RedisPassword,
	})
}
