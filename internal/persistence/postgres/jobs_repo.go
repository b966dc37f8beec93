package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/chowrank/chowrank/internal/persistence"
)

// jobsRepo implements JobsRepo for PostgreSQL
type jobsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewJobsRepo creates a new PostgreSQL jobs repository
func NewJobsRepo(db *sqlx.DB, timeout time.Duration) persistence.JobsRepo {
	return &jobsRepo{db: db, timeout: timeout}
}

// PayloadHash returns the deterministic hash used for enqueue idempotence.
// json.Marshal sorts map keys, so equal payloads hash equally.
func PayloadHash(jobType string, payload []byte) string {
	sum := sha256.Sum256(append([]byte(jobType+"\x00"), payload...))
	return hex.EncodeToString(sum[:])
}

const jobColumns = `
	id, type, payload, payload_hash, status, attempts, error,
	created_at, updated_at, started_at, completed_at`

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Enqueue inserts a job unless an identical (type, payload hash) row is
// already queued or running
func (r *jobsRepo) Enqueue(ctx context.Context, jobType string, payload any) (uuid.UUID, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to marshal payload for %s: %w", jobType, err)
	}
	hash := PayloadHash(jobType, raw)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing uuid.UUID
	err = tx.QueryRowxContext(ctx, `
		SELECT id FROM jobs
		WHERE type = $1 AND payload_hash = $2 AND status IN ('queued', 'running')
		ORDER BY created_at ASC
		LIMIT 1`, jobType, hash).Scan(&existing)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return uuid.Nil, false, fmt.Errorf("failed to check in-flight jobs: %w", err)
	}

	var id uuid.UUID
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO jobs (type, payload, payload_hash, status)
		VALUES ($1, $2, $3, 'queued')
		RETURNING id`, jobType, raw, hash).Scan(&id)
	if err != nil {
		// A concurrent enqueue can win between our check and insert; the
		// partial unique index turns that into a violation we absorb by
		// returning the committed winner.
		if isUniqueViolation(err) {
			var winner uuid.UUID
			if selErr := r.db.QueryRowxContext(ctx, `
				SELECT id FROM jobs
				WHERE type = $1 AND payload_hash = $2 AND status IN ('queued', 'running')
				ORDER BY created_at ASC
				LIMIT 1`, jobType, hash).Scan(&winner); selErr != nil {
				return uuid.Nil, false, fmt.Errorf("failed to load concurrent %s job: %w", jobType, selErr)
			}
			return winner, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("failed to enqueue %s job: %w", jobType, err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to commit enqueue: %w", err)
	}

	return id, true, nil
}

// Claim atomically transitions the oldest eligible queued job to running.
// SKIP LOCKED lets multiple workers poll without contention.
func (r *jobsRepo) Claim(ctx context.Context, types []string) (*persistence.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE jobs SET status = 'running', started_at = now(), updated_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'queued' AND type = ANY($1) AND updated_at <= now()
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	var job persistence.Job
	err := r.db.QueryRowxContext(ctx, query, pq.StringArray(types)).StructScan(&job)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNoJob
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return &job, nil
}

// Complete marks a running job done
func (r *jobsRepo) Complete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'done', completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'running'`, id)
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", id, err)
	}

	return nil
}

// Fail records the error and either requeues with backoff or parks the job
// terminally. The backoff delay lands in updated_at, which Claim respects
// as a not-before timestamp.
func (r *jobsRepo) Fail(ctx context.Context, id uuid.UUID, jobErr string, maxAttempts int, backoff []time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts int
	err = tx.QueryRowxContext(ctx, `
		UPDATE jobs SET attempts = attempts + 1, error = $2, updated_at = now()
		WHERE id = $1
		RETURNING attempts`, id, jobErr).Scan(&attempts)
	if err != nil {
		return fmt.Errorf("failed to record failure for job %s: %w", id, err)
	}

	if attempts >= maxAttempts {
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'error', completed_at = now() WHERE id = $1`, id); err != nil {
			return fmt.Errorf("failed to park job %s: %w", id, err)
		}
		return tx.Commit()
	}

	delay := time.Minute
	if idx := attempts - 1; idx >= 0 && idx < len(backoff) {
		delay = backoff[idx]
	} else if len(backoff) > 0 {
		delay = backoff[len(backoff)-1]
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'queued', started_at = NULL,
			updated_at = now() + $2::interval
		WHERE id = $1`, id, fmt.Sprintf("%d seconds", int(delay.Seconds()))); err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", id, err)
	}

	return tx.Commit()
}

// ResetStalled requeues running jobs older than the cutoff, attempts preserved
func (r *jobsRepo) ResetStalled(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'queued', started_at = NULL, updated_at = now()
		WHERE status = 'running' AND started_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to reset stalled jobs: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read stalled reset result: %w", err)
	}

	return n, nil
}

// PurgeTerminal deletes done/error rows older than the retention window
func (r *jobsRepo) PurgeTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ('done', 'error') AND updated_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(retention.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to purge terminal jobs: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read purge result: %w", err)
	}

	return n, nil
}

// CountsSince returns status counts for jobs updated in the window
func (r *jobsRepo) CountsSince(ctx context.Context, since time.Time) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT status, COUNT(*)
		FROM jobs
		WHERE updated_at >= $1
		GROUP BY status`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job counts: %w", err)
	}

	return counts, nil
}
