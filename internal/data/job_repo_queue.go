package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/craftfolio/mailroom/internal/data/pgxutil"
	"github.com/craftfolio/mailroom/internal/domain/model"
)

// SQL used by ReserveNext to atomically reserve the next ready job.
// Ordering is numeric priority first (lower wins), then FIFO within a
// priority level. A job's delay is expressed through scheduled_at.
const reserveNextUpdateSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE kind = $1 AND status = 'pending' AND scheduled_at <= $2
    ORDER BY priority ASC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'running',
    started_at = COALESCE(j.started_at, $3),
    lease_expires_at = $4,
    updated_at = $5
  FROM cte
  WHERE j.id = cte.id
  RETURNING j.id, j.kind, j.status, j.priority, j.payload, j.scheduled_at, j.started_at, j.completed_at, j.attempts_made, j.max_attempts, j.last_error, j.lease_expires_at, j.created_at, j.updated_at`

// Enqueue inserts a new job. The queue assigns the id; delay and priority
// default per the request.
func (r *JobRepo) Enqueue(
	ctx context.Context,
	req *model.EnqueueJobRequest,
) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("enqueue request is required")
	}
	if validateErr := req.Validate(); validateErr != nil {
		return nil, validateErr
	}

	priority := req.Priority
	if priority == 0 {
		priority = model.DefaultJobPriority
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = model.DefaultMaxAttempts
	}
	scheduledAt := r.timeProvider.Now().Add(req.Delay).UTC()

	var job *model.Job
	if txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, qerr := tx.Query(ctx, `
              INSERT INTO jobs(kind, status, priority, payload, scheduled_at, max_attempts)
              VALUES ($1,'pending',$2,$3,$4,$5)
              RETURNING `+jobColumns,
				req.Kind, priority, []byte(req.Payload), scheduledAt, maxAttempts)
			if qerr != nil {
				return fmt.Errorf("insert job: %w", qerr)
			}
			j, cerr := collectJobFromRows(rows)
			rows.Close()
			if cerr != nil {
				return fmt.Errorf("collect job: %w", cerr)
			}

			channel := "job_added_" + string(req.Kind)
			if _, execErr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, channel, j.ID); execErr != nil {
				return fmt.Errorf("send job notification: %w", execErr)
			}
			job = j
			return nil
		},
	}); txErr != nil {
		return nil, txErr
	}

	return job, nil
}

// collectJobFromRows collects a single job from pgx rows.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return job, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJobFromRow(scanner rowScanner) (*model.Job, error) {
	job := &model.Job{}
	var payload []byte
	var lastError sql.NullString
	var startedAt, completedAt, leaseExpiresAt sql.NullTime

	if err := scanner.Scan(
		&job.ID,
		&job.Kind,
		&job.Status,
		&job.Priority,
		&payload,
		&job.ScheduledAt,
		&startedAt,
		&completedAt,
		&job.AttemptsMade,
		&job.MaxAttempts,
		&lastError,
		&leaseExpiresAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}

	job.Payload = cloneJSON(payload)
	job.LastError = cloneNullableString(lastError)
	job.StartedAt = cloneNullableTime(startedAt)
	job.CompletedAt = cloneNullableTime(completedAt)
	job.LeaseExpiresAt = cloneNullableTime(leaseExpiresAt)
	return job, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// Advisory lock namespace for RequeueExpired to avoid cross-kind contention.
const advisoryLockRequeueMajor int64 = 2101

func advisoryLockRequeueMinor(kind model.JobKind) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(kind))
	hashValue := h.Sum32()
	maxInt32 := uint32(math.MaxInt32)
	if hashValue > maxInt32 {
		hashValue &= maxInt32
	}
	return int64(hashValue)
}

// RequeueExpired flips running jobs with expired leases back to pending and
// returns the number of jobs requeued.
func (r *JobRepo) RequeueExpired(ctx context.Context, kind model.JobKind) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			minorKey := advisoryLockRequeueMinor(kind)
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)", advisoryLockRequeueMajor, minorKey).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			currentTime := r.timeProvider.Now()
			res, err := tx.ExecContext(ctx, `
          UPDATE jobs
          SET status = 'pending', lease_expires_at = NULL
          WHERE kind = $1 AND status = 'running'
            AND lease_expires_at IS NOT NULL
            AND lease_expires_at < $2
        `, kind, currentTime.UTC())
			if err != nil {
				return fmt.Errorf("requeue expired: %w", err)
			}
			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// ReserveNext reserves the next ready job of the given kind for processing.
func (r *JobRepo) ReserveNext(
	ctx context.Context,
	kind model.JobKind,
	leaseSeconds int,
) (*model.Job, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid job kind: %s", kind)
	}

	if _, err := r.RequeueExpired(ctx, kind); err != nil {
		return nil, fmt.Errorf("requeue expired jobs: %w", err)
	}

	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{
			Isolation: sql.LevelReadCommitted,
			ReadOnly:  false,
		},
		Fn: func(tx pgx.Tx) error {
			currentTime := r.timeProvider.Now()
			leaseExpiresAt := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

			rows, qerr := tx.Query(
				ctx,
				reserveNextUpdateSQL,
				kind,
				currentTime.UTC(),
				currentTime.UTC(),
				leaseExpiresAt.UTC(),
				currentTime.UTC(),
			)
			if qerr != nil {
				return fmt.Errorf("reserve job: %w", qerr)
			}
			defer rows.Close()

			j, cerr := collectJobFromRows(rows)
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if cerr != nil {
				return fmt.Errorf("reserve job: %w", cerr)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}
	return job, nil
}

// Heartbeat refreshes the lease on a running job.
func (r *JobRepo) Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error) {
	if leaseSeconds <= 0 {
		return false, errors.New("leaseSeconds must be positive")
	}

	currentTime := r.timeProvider.Now().UTC()
	leaseExpiration := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET lease_expires_at = $2,
		    updated_at = $3
		WHERE id = $1 AND status = 'running'
	`, jobID, leaseExpiration, currentTime)
	if err != nil {
		return false, fmt.Errorf("heartbeat job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// Complete marks a job as completed successfully.
func (r *JobRepo) Complete(ctx context.Context, id string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed',
		    completed_at = $2,
		    updated_at = $3,
		    lease_expires_at = NULL,
		    last_error = NULL
		WHERE id = $1 AND status = 'running'
	`, id, currentTime, currentTime)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// Fail records a failed attempt. While attempts remain the job returns to
// pending with an exponential backoff delay (base, 2*base, 4*base, ...);
// once the budget is spent it is marked failed.
func (r *JobRepo) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	currentTime := r.timeProvider.Now()
	baseSeconds := r.retryBackoffBase().Seconds()

	query := `
      UPDATE jobs
      SET
        last_error = $2,
        attempts_made = attempts_made + 1,
        status = CASE WHEN attempts_made + 1 >= max_attempts THEN 'failed' ELSE 'pending' END,
        completed_at = CASE WHEN attempts_made + 1 >= max_attempts THEN $3::timestamptz ELSE NULL END,
        lease_expires_at = NULL,
        scheduled_at = CASE WHEN attempts_made + 1 >= max_attempts THEN scheduled_at
                            ELSE $3::timestamptz + make_interval(secs => $4::double precision * power(2, attempts_made)) END,
        updated_at = $5
      WHERE id = $1 AND status = 'running'
      RETURNING status
    `

	var status string
	if err := r.DB.QueryRowContext(ctx, query, id, errMsg, currentTime.UTC(), baseSeconds, currentTime.UTC()).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("fail job: %w", err)
	}

	return true, nil
}

// FailPermanently marks a job failed without scheduling a retry, regardless
// of the remaining attempt budget. Used for configuration errors where a
// retry would repeat the same failure.
func (r *JobRepo) FailPermanently(ctx context.Context, id, errMsg string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    last_error = $2,
		    attempts_made = attempts_made + 1,
		    completed_at = $3,
		    lease_expires_at = NULL,
		    updated_at = $3
		WHERE id = $1 AND status = 'running'
	`, id, errMsg, currentTime)
	if err != nil {
		return false, fmt.Errorf("fail job permanently: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("fail permanently rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// Stats returns statistics about jobs of the given kind in different states.
func (r *JobRepo) Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'pending')   AS pending,
    count(*) FILTER (WHERE status = 'running')   AS running,
    count(*) FILTER (WHERE status = 'completed') AS completed,
    count(*) FILTER (WHERE status = 'failed')    AS failed
  FROM jobs
  WHERE kind = $1
  `, kind).Scan(
		&s.Pending,
		&s.Running,
		&s.Completed,
		&s.Failed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	return &s, nil
}

// WaitForNotification waits for a PostgreSQL notification indicating new
// jobs of the given kind are available.
func (r *JobRepo) WaitForNotification(ctx context.Context, kind model.JobKind) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	channel := "job_added_" + string(kind)
	quoted := pgx.Identifier{channel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", channel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			_ = execErr
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE id = $1
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		job, err = collectJobFromRows(rows)
		return err
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// DeleteOldFinished removes completed and failed jobs older than maxAge, up
// to batchSize rows per call to avoid long locks.
func (r *JobRepo) DeleteOldFinished(
	ctx context.Context,
	maxAge time.Duration,
	batchSize int,
) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	cutoff := r.timeProvider.Now().Add(-maxAge).UTC()

	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status IN ('completed', 'failed')
			  AND completed_at IS NOT NULL
			  AND completed_at < $1
			LIMIT $2
		)
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete old finished jobs: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old finished rows affected: %w", err)
	}
	return rowsAffected, nil
}
