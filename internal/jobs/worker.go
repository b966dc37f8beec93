package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chowrank/chowrank/internal/config"
	"github.com/chowrank/chowrank/internal/metrics"
	"github.com/chowrank/chowrank/internal/persistence"
)

// Handler is the dispatch surface the worker drives.
type Handler interface {
	Types() []string
	Handle(ctx context.Context, job *persistence.Job) error
}

// Worker claims queued jobs and runs them. One claim is in flight at a
// time; horizontal scale comes from running more workers, with SKIP LOCKED
// keeping claims disjoint.
type Worker struct {
	jobs    persistence.JobsRepo
	handler Handler
	cfg     config.JobsConfig
}

// NewWorker constructs a worker.
func NewWorker(jobs persistence.JobsRepo, handler Handler, cfg config.JobsConfig) *Worker {
	return &Worker{jobs: jobs, handler: handler, cfg: cfg}
}

// Run claims and processes jobs until ctx is cancelled. An in-flight job is
// allowed to finish within the drain timeout before the worker returns.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().
		Strs("types", w.handler.Types()).
		Dur("poll_interval", w.cfg.PollInterval()).
		Msg("worker started")

	w.sweep(ctx)

	poll := time.NewTicker(w.cfg.PollInterval())
	defer poll.Stop()
	sweep := time.NewTicker(w.cfg.SweepInterval())
	defer sweep.Stop()

	for {
		w.drainQueue(ctx)

		select {
		case <-ctx.Done():
			log.Info().Msg("worker stopped")
			return nil
		case <-sweep.C:
			w.sweep(ctx)
		case <-poll.C:
		}
	}
}

// drainQueue claims until the queue is empty for our types.
func (w *Worker) drainQueue(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.jobs.Claim(ctx, w.handler.Types())
		if errors.Is(err, persistence.ErrNoJob) {
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("failed to claim job")
			return
		}

		w.process(ctx, job)
	}
}

// process runs one job. The handler gets a context that survives worker
// shutdown for up to the drain timeout, so cancellation drains rather than
// aborts.
func (w *Worker) process(ctx context.Context, job *persistence.Job) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			timer := time.NewTimer(w.cfg.DrainTimeout())
			defer timer.Stop()
			select {
			case <-timer.C:
				cancel()
			case <-done:
			}
		case <-done:
		}
	}()

	start := time.Now()
	err := w.handler.Handle(runCtx, job)
	close(done)

	// Outcome writes ride a context the drain watchdog cannot have
	// cancelled; a job that ran must still land in done/error so its
	// attempts advance.
	outCtx := context.WithoutCancel(ctx)

	metrics.JobDuration.WithLabelValues(job.Type).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.JobsProcessedTotal.WithLabelValues(job.Type, "error").Inc()
		log.Error().Err(err).
			Str("job_id", job.ID.String()).
			Str("type", job.Type).
			Int("attempts", job.Attempts).
			Msg("job failed")

		if failErr := w.jobs.Fail(outCtx, job.ID, err.Error(), w.cfg.MaxAttempts, w.cfg.Backoff()); failErr != nil {
			log.Error().Err(failErr).Str("job_id", job.ID.String()).Msg("failed to record job failure")
		}
		return
	}

	metrics.JobsProcessedTotal.WithLabelValues(job.Type, "ok").Inc()
	log.Info().
		Str("job_id", job.ID.String()).
		Str("type", job.Type).
		Dur("took", time.Since(start)).
		Msg("job done")

	if err := w.jobs.Complete(outCtx, job.ID); err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to complete job")
	}
}

// sweep requeues stalled running jobs and purges old terminal rows.
func (w *Worker) sweep(ctx context.Context) {
	reset, err := w.jobs.ResetStalled(ctx, w.cfg.StalledAfter())
	if err != nil {
		log.Error().Err(err).Msg("failed to reset stalled jobs")
	} else if reset > 0 {
		log.Warn().Int64("jobs", reset).Msg("requeued stalled jobs")
	}

	purged, err := w.jobs.PurgeTerminal(ctx, w.cfg.Retention())
	if err != nil {
		log.Error().Err(err).Msg("failed to purge terminal jobs")
	} else if purged > 0 {
		log.Info().Int64("jobs", purged).Msg("purged terminal jobs")
	}
}
