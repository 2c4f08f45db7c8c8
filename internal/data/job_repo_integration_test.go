package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftfolio/mailroom/internal/domain/model"
	"github.com/craftfolio/mailroom/internal/testutil"
)

// TestJobRepo_Integration_EnqueueAndReserveOrder verifies jobs come out in
// priority order, lower number first, FIFO within a priority level.
func TestJobRepo_Integration_EnqueueAndReserveOrder(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, JobRepoConfig{})

		for _, priority := range []int{5, 1, 3} {
			req := testutil.NewJobRequest().
				WithKind(model.JobKindNoop).
				WithPriority(priority).
				Build()
			_, err := repo.Enqueue(context.Background(), req)
			require.NoError(t, err)
		}

		for _, want := range []int{1, 3, 5} {
			reserved, err := repo.ReserveNext(context.Background(), model.JobKindNoop, 30)
			require.NoError(t, err)
			assert.Equal(t, want, reserved.Priority)
		}

		_, err := repo.ReserveNext(context.Background(), model.JobKindNoop, 30)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})
}

// TestJobRepo_Integration_Lifecycle walks a job through reserve, heartbeat,
// fail with retry backoff, and final completion.
func TestJobRepo_Integration_Lifecycle(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		timeProvider := NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		repo := NewJobRepo(db, JobRepoConfig{
			RetryBackoffBase: 5 * time.Second,
			TimeProvider:     timeProvider,
		})

		req := testutil.NewJobRequest().
			WithKind(model.JobKindNoop).
			WithMaxAttempts(2).
			Build()
		job, err := repo.Enqueue(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, job.Status)

		reserved, err := repo.ReserveNext(context.Background(), model.JobKindNoop, 30)
		require.NoError(t, err)
		assert.Equal(t, job.ID, reserved.ID)
		assert.Equal(t, model.JobStatusRunning, reserved.Status)
		assert.NotNil(t, reserved.StartedAt)
		assert.NotNil(t, reserved.LeaseExpiresAt)

		extended, err := repo.Heartbeat(context.Background(), job.ID, 60)
		require.NoError(t, err)
		assert.True(t, extended)

		failed, err := repo.Fail(context.Background(), job.ID, "first failure")
		require.NoError(t, err)
		assert.True(t, failed)

		// Still inside the 5s backoff window.
		_, err = repo.ReserveNext(context.Background(), model.JobKindNoop, 30)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)

		timeProvider.AddTime(6 * time.Second)

		retry, err := repo.ReserveNext(context.Background(), model.JobKindNoop, 30)
		require.NoError(t, err)
		assert.Equal(t, job.ID, retry.ID)
		assert.Equal(t, 1, retry.AttemptsMade)
		require.NotNil(t, retry.LastError)
		assert.Equal(t, "first failure", *retry.LastError)

		completed, err := repo.Complete(context.Background(), job.ID)
		require.NoError(t, err)
		assert.True(t, completed)

		_, err = repo.ReserveNext(context.Background(), model.JobKindNoop, 30)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)

		final, err := repo.GetByID(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, final.Status)
		assert.Nil(t, final.LastError)
		assert.Nil(t, final.LeaseExpiresAt)
	})
}

// TestJobRepo_Integration_DelayedJob verifies a delayed job stays invisible
// until its scheduled time.
func TestJobRepo_Integration_DelayedJob(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		timeProvider := NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		repo := NewJobRepo(db, JobRepoConfig{TimeProvider: timeProvider})

		req := testutil.NewJobRequest().
			WithKind(model.JobKindNoop).
			WithDelay(time.Hour).
			Build()
		job, err := repo.Enqueue(context.Background(), req)
		require.NoError(t, err)

		_, err = repo.ReserveNext(context.Background(), model.JobKindNoop, 30)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)

		timeProvider.AddTime(2 * time.Hour)

		reserved, err := repo.ReserveNext(context.Background(), model.JobKindNoop, 30)
		require.NoError(t, err)
		assert.Equal(t, job.ID, reserved.ID)
	})
}

// TestJobRepo_Integration_ConcurrentReservation verifies SKIP LOCKED hands a
// job to exactly one of two racing workers.
func TestJobRepo_Integration_ConcurrentReservation(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, JobRepoConfig{})

		job, err := repo.Enqueue(context.Background(), testutil.NewJobRequest().Build())
		require.NoError(t, err)

		results := make(chan *model.Job, 2)
		failures := make(chan error, 2)

		for range 2 {
			go func() {
				reserved, reserveErr := repo.ReserveNext(context.Background(), model.JobKindNoop, 30)
				if reserveErr != nil {
					failures <- reserveErr
				} else {
					results <- reserved
				}
			}()
		}

		var successCount, errorCount int
		var reservedJob *model.Job
		for range 2 {
			select {
			case got := <-results:
				successCount++
				reservedJob = got
			case reserveErr := <-failures:
				errorCount++
				require.ErrorIs(t, reserveErr, model.ErrNoJobsAvailable)
			case <-time.After(5 * time.Second):
				t.Fatal("Test timed out")
			}
		}

		assert.Equal(t, 1, successCount, "exactly one worker should win the job")
		assert.Equal(t, 1, errorCount)
		if reservedJob != nil {
			assert.Equal(t, job.ID, reservedJob.ID)
		}
	})
}

// TestJobRepo_Integration_RequeueExpired verifies an expired lease makes the
// job reservable again.
func TestJobRepo_Integration_RequeueExpired(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		timeProvider := NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		repo := NewJobRepo(db, JobRepoConfig{TimeProvider: timeProvider})

		job, err := repo.Enqueue(context.Background(), testutil.NewJobRequest().Build())
		require.NoError(t, err)

		reserved, err := repo.ReserveNext(context.Background(), model.JobKindNoop, 30)
		require.NoError(t, err)
		assert.Equal(t, job.ID, reserved.ID)

		// Lease still live.
		requeued, err := repo.RequeueExpired(context.Background(), model.JobKindNoop)
		require.NoError(t, err)
		assert.Zero(t, requeued)

		timeProvider.AddTime(time.Minute)

		requeued, err = repo.RequeueExpired(context.Background(), model.JobKindNoop)
		require.NoError(t, err)
		assert.EqualValues(t, 1, requeued)

		again, err := repo.ReserveNext(context.Background(), model.JobKindNoop, 30)
		require.NoError(t, err)
		assert.Equal(t, job.ID, again.ID)
	})
}

// TestJobRepo_Integration_FailPermanently verifies the job goes straight to
// failed with attempts remaining.
func TestJobRepo_Integration_FailPermanently(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, JobRepoConfig{})

		job, err := repo.Enqueue(context.Background(), testutil.NewJobRequest().WithMaxAttempts(5).Build())
		require.NoError(t, err)

		_, err = repo.ReserveNext(context.Background(), model.JobKindNoop, 30)
		require.NoError(t, err)

		ok, err := repo.FailPermanently(context.Background(), job.ID, "missing SMTP host")
		require.NoError(t, err)
		assert.True(t, ok)

		final, err := repo.GetByID(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, final.Status)
		require.NotNil(t, final.LastError)
		assert.Equal(t, "missing SMTP host", *final.LastError)
		assert.NotNil(t, final.CompletedAt)

		_, err = repo.ReserveNext(context.Background(), model.JobKindNoop, 30)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})
}

// TestJobRepo_Integration_Stats verifies per-status counts.
func TestJobRepo_Integration_Stats(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, JobRepoConfig{})

		// Priorities steer reservation order so each job lands in a known state.
		for _, priority := range []int{50, 51} {
			_, err := repo.Enqueue(context.Background(),
				testutil.NewJobRequest().WithPriority(priority).Build())
			require.NoError(t, err)
		}

		completedJob, err := repo.Enqueue(context.Background(),
			testutil.NewJobRequest().WithPriority(1).Build())
		require.NoError(t, err)

		runningJob, err := repo.Enqueue(context.Background(),
			testutil.NewJobRequest().WithPriority(2).Build())
		require.NoError(t, err)

		failedJob, err := repo.Enqueue(context.Background(),
			testutil.NewJobRequest().WithPriority(3).WithMaxAttempts(1).Build())
		require.NoError(t, err)

		reserved, err := repo.ReserveNext(context.Background(), model.JobKindNoop, 30)
		require.NoError(t, err)
		require.Equal(t, completedJob.ID, reserved.ID)
		_, err = repo.Complete(context.Background(), reserved.ID)
		require.NoError(t, err)

		reserved, err = repo.ReserveNext(context.Background(), model.JobKindNoop, 30)
		require.NoError(t, err)
		require.Equal(t, runningJob.ID, reserved.ID)

		reserved, err = repo.ReserveNext(context.Background(), model.JobKindNoop, 30)
		require.NoError(t, err)
		require.Equal(t, failedJob.ID, reserved.ID)
		_, err = repo.Fail(context.Background(), reserved.ID, "attempt budget spent")
		require.NoError(t, err)

		stats, err := repo.Stats(context.Background(), model.JobKindNoop)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Pending)
		assert.Equal(t, 1, stats.Running)
		assert.Equal(t, 1, stats.Completed)
		assert.Equal(t, 1, stats.Failed)
	})
}

// TestJobRepo_Integration_DeleteOldFinished verifies retention only removes
// finished jobs past the cutoff.
func TestJobRepo_Integration_DeleteOldFinished(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		timeProvider := NewFixedTimeProvider(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		repo := NewJobRepo(db, JobRepoConfig{TimeProvider: timeProvider})

		oldJob, err := repo.Enqueue(context.Background(), testutil.NewJobRequest().Build())
		require.NoError(t, err)
		_, err = repo.ReserveNext(context.Background(), model.JobKindNoop, 30)
		require.NoError(t, err)
		_, err = repo.Complete(context.Background(), oldJob.ID)
		require.NoError(t, err)

		pendingJob, err := repo.Enqueue(context.Background(), testutil.NewJobRequest().Build())
		require.NoError(t, err)

		timeProvider.AddTime(48 * time.Hour)

		deleted, err := repo.DeleteOldFinished(context.Background(), 24*time.Hour, 100)
		require.NoError(t, err)
		assert.EqualValues(t, 1, deleted)

		_, err = repo.GetByID(context.Background(), oldJob.ID)
		require.ErrorIs(t, err, ErrJobNotFound)

		survivor, err := repo.GetByID(context.Background(), pendingJob.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, survivor.Status)
	})
}
