package data

import (
	"database/sql"
	"errors"
	"log/slog"
	"time"
)

// ErrJobNotFound is returned when a job is not found.
var ErrJobNotFound = errors.New("job not found")

// JobRepoConfig holds configuration options for the job repository.
type JobRepoConfig struct {
	// RetryBackoffBase is the first retry delay; later retries double it
	// (base, 2*base, 4*base, ...). Defaults to one second.
	RetryBackoffBase time.Duration
	Logger           *slog.Logger
	TimeProvider     TimeProvider
}

// JobRepo provides the durable queue over Postgres. Reservation is
// lease-based (FOR UPDATE SKIP LOCKED) so each ready job is handed to
// exactly one worker at a time; an expired lease makes the job reservable
// again, giving at-least-once delivery.
type JobRepo struct {
	DB           *sql.DB
	cfg          JobRepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg JobRepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &JobRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const defaultRetryBackoffBase = time.Second

func (r *JobRepo) retryBackoffBase() time.Duration {
	if r.cfg.RetryBackoffBase > 0 {
		return r.cfg.RetryBackoffBase
	}
	return defaultRetryBackoffBase
}

const jobColumns = `
  id,
  kind,
  status,
  priority,
  payload,
  scheduled_at,
  started_at,
  completed_at,
  attempts_made,
  max_attempts,
  last_error,
  lease_expires_at,
  created_at,
  updated_at
`
