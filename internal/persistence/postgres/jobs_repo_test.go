package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chowrank/chowrank/internal/persistence"
)

func TestPayloadHash(t *testing.T) {
	payload := []byte(`{"city_id":"abc"}`)

	assert.Equal(t, PayloadHash("ingest_reddit", payload), PayloadHash("ingest_reddit", payload))
	assert.NotEqual(t, PayloadHash("ingest_reddit", payload), PayloadHash("compute_aggregations", payload))
	assert.Len(t, PayloadHash("ingest_reddit", payload), 64)
}

func TestJobsRepo_Enqueue(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobsRepo(db, 5*time.Second)

	t.Run("inserts when nothing is in flight", func(t *testing.T) {
		id := uuid.New()
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id FROM jobs").WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("INSERT INTO jobs").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))
		mock.ExpectCommit()

		got, created, err := repo.Enqueue(context.Background(), persistence.JobRefreshMVs, map[string]string{"city_id": "x"})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, id, got)
	})

	t.Run("identical pending job wins", func(t *testing.T) {
		existing := uuid.New()
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id FROM jobs").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(existing))
		mock.ExpectRollback()

		got, created, err := repo.Enqueue(context.Background(), persistence.JobRefreshMVs, map[string]string{"city_id": "x"})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, existing, got)
	})

	// A concurrent enqueue landing between the check and the insert trips
	// the partial unique index; the loser returns the winner's row.
	t.Run("concurrent duplicate absorbed", func(t *testing.T) {
		winner := uuid.New()
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id FROM jobs").WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("INSERT INTO jobs").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "jobs_dedupe_uq"})
		mock.ExpectQuery("SELECT id FROM jobs").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(winner))
		mock.ExpectRollback()

		got, created, err := repo.Enqueue(context.Background(), persistence.JobRefreshMVs, map[string]string{"city_id": "x"})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, winner, got)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobsRepo_Claim(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobsRepo(db, 5*time.Second)

	t.Run("returns the claimed row", func(t *testing.T) {
		id := uuid.New()
		now := time.Now()
		mock.ExpectQuery("FOR UPDATE SKIP LOCKED").WillReturnRows(sqlmock.NewRows([]string{
			"id", "type", "payload", "payload_hash", "status", "attempts", "error",
			"created_at", "updated_at", "started_at", "completed_at",
		}).AddRow(id, persistence.JobIngestReddit, []byte(`{"city_id":"x"}`), "hash",
			persistence.JobRunning, 0, nil, now, now, now, nil))

		job, err := repo.Claim(context.Background(), []string{persistence.JobIngestReddit})
		require.NoError(t, err)
		assert.Equal(t, id, job.ID)
		assert.Equal(t, persistence.JobIngestReddit, job.Type)
		assert.Equal(t, persistence.JobRunning, job.Status)
	})

	t.Run("empty queue maps to the sentinel", func(t *testing.T) {
		mock.ExpectQuery("FOR UPDATE SKIP LOCKED").WillReturnError(sql.ErrNoRows)

		_, err := repo.Claim(context.Background(), []string{persistence.JobIngestReddit})
		assert.ErrorIs(t, err, persistence.ErrNoJob)
	})
}

func TestJobsRepo_Fail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobsRepo(db, 5*time.Second)
	id := uuid.New()
	backoff := []time.Duration{time.Minute, 5 * time.Minute}

	t.Run("requeues with backoff below the attempt cap", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE jobs SET attempts").
			WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(2))
		mock.ExpectExec("SET status = 'queued'").
			WithArgs(id, "300 seconds").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.Fail(context.Background(), id, "overpass timeout", 5, backoff))
	})

	t.Run("parks terminally at the attempt cap", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE jobs SET attempts").
			WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(5))
		mock.ExpectExec("SET status = 'error'").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.Fail(context.Background(), id, "overpass timeout", 5, backoff))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobsRepo_Sweeps(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobsRepo(db, 5*time.Second)

	mock.ExpectExec("SET status = 'queued', started_at = NULL").
		WithArgs("900 seconds").
		WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := repo.ResetStalled(context.Background(), 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	mock.ExpectExec("DELETE FROM jobs").
		WithArgs("604800 seconds").
		WillReturnResult(sqlmock.NewResult(0, 40))
	n, err = repo.PurgeTerminal(context.Background(), 168*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(40), n)
}

func TestJobsRepo_CountsSince(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewJobsRepo(db, 5*time.Second)

	since := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery("GROUP BY status").
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow(persistence.JobDone, 40).
			AddRow(persistence.JobError, 2))

	counts, err := repo.CountsSince(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, int64(40), counts[persistence.JobDone])
	assert.Equal(t, int64(2), counts[persistence.JobError])
}
