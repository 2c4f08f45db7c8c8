// Package service implements the business logic of the delivery pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/craftfolio/mailroom/internal/core"
	"github.com/craftfolio/mailroom/internal/domain/model"
	"github.com/craftfolio/mailroom/internal/domain/queue"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo            core.JobRepository    // Required: job repository
	DefaultLease    time.Duration         // Required unless LeasePolicy is set
	Logger          *slog.Logger          // Optional: structured logger
	LeasePolicy     *queue.LeasePolicy    // Optional: override default lease policy
	Notifier        queue.Notifier        // Optional: custom job availability notifier
	NotifierOptions queue.NotifierOptions // Optional: configure default notifier behaviour
}

// JobService wraps the durable queue with lease policy, availability
// notifications, and logging.
type JobService struct {
	repo        core.JobRepository
	leasePolicy *queue.LeasePolicy
	notifier    queue.Notifier
	logger      *slog.Logger
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}

	leasePolicy := opts.LeasePolicy
	if leasePolicy == nil {
		if opts.DefaultLease <= 0 {
			return nil, errors.New("DefaultLease must be positive")
		}
		var err error
		leasePolicy, err = queue.NewLeasePolicy(opts.DefaultLease)
		if err != nil {
			return nil, fmt.Errorf("create lease policy: %w", err)
		}
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		var err error
		notifier, err = queue.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create job notifier: %w", err)
		}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
	}

	return &JobService{
		repo:        opts.Repo,
		leasePolicy: leasePolicy,
		notifier:    notifier,
		logger:      logger,
	}, nil
}

// Enqueue adds a new job to the queue. A positive Delay on the request holds
// the job back; priority and attempt budget default when unset.
func (s *JobService) Enqueue(ctx context.Context, req *model.EnqueueJobRequest) (*model.Job, error) {
	job, err := s.repo.Enqueue(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job enqueued",
			"id", job.ID,
			"kind", job.Kind,
			"priority", job.Priority,
			"scheduled_at", job.ScheduledAt,
		)
	}
	return job, nil
}

// ReserveNext reserves the next ready job of the given kind for processing.
func (s *JobService) ReserveNext(
	ctx context.Context,
	kind model.JobKind,
	lease time.Duration,
) (*model.Job, error) {
	decision := s.leasePolicy.Resolve(lease)
	if decision.Clamped() && s.logger != nil {
		s.logger.DebugContext(ctx, "clamped sub-second lease duration to 1 second",
			"requested_duration", decision.Requested,
			"job_kind", kind)
	}

	job, err := s.repo.ReserveNext(ctx, kind, decision.Seconds)
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, fmt.Errorf("reserve next job: %w", err)
	}

	if s.logger != nil && job != nil {
		s.logger.DebugContext(ctx, "job reserved",
			"id", job.ID,
			"kind", kind,
			"attempt", job.AttemptsMade+1,
			"lease_seconds", decision.Seconds,
		)
	}
	return job, nil
}

// Subscribe creates a subscription for job notifications of the given kind.
// Returns an unsubscribe function and a channel that receives wake-ups.
func (s *JobService) Subscribe(kind model.JobKind) (func(), <-chan struct{}) {
	if s.notifier == nil {
		ch := make(chan struct{})
		close(ch)
		return func() {}, ch
	}
	return s.notifier.Subscribe(kind)
}

// Heartbeat extends the lease on a job to indicate it is still being processed.
func (s *JobService) Heartbeat(ctx context.Context, id string, extend time.Duration) (bool, error) {
	decision := s.leasePolicy.Resolve(extend)
	updated, err := s.repo.Heartbeat(ctx, id, decision.Seconds)
	if err != nil {
		return false, fmt.Errorf("heartbeat job %s: %w", id, err)
	}
	return updated, nil
}

// Complete marks a job as completed successfully.
func (s *JobService) Complete(ctx context.Context, id string) (bool, error) {
	completed, err := s.repo.Complete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("complete job %s: %w", id, err)
	}

	if s.logger != nil && completed {
		s.logger.DebugContext(ctx, "job completed", "id", id)
	}
	return completed, nil
}

// Fail records a failed attempt: the job retries with backoff while attempts
// remain, and goes to failed once the budget is spent.
func (s *JobService) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	if errMsg == "" {
		return false, errors.New("error message required")
	}

	failed, err := s.repo.Fail(ctx, id, errMsg)
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", id, err)
	}

	if s.logger != nil && failed {
		s.logger.DebugContext(ctx, "job attempt failed", "id", id, "error", errMsg)
	}
	return failed, nil
}

// FailPermanently marks a job failed without a retry, spending whatever
// attempt budget remains. Configuration errors land here.
func (s *JobService) FailPermanently(ctx context.Context, id, errMsg string) (bool, error) {
	if errMsg == "" {
		return false, errors.New("error message required")
	}

	failed, err := s.repo.FailPermanently(ctx, id, errMsg)
	if err != nil {
		return false, fmt.Errorf("fail job permanently %s: %w", id, err)
	}

	if s.logger != nil && failed {
		s.logger.WarnContext(ctx, "job failed permanently", "id", id, "error", errMsg)
	}
	return failed, nil
}

// Stats returns counts of jobs of the given kind in each state.
func (s *JobService) Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error) {
	stats, err := s.repo.Stats(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("get job stats for kind %s: %w", kind, err)
	}
	return stats, nil
}

// GetByID returns a job by its ID.
func (s *JobService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job by id %s: %w", id, err)
	}
	return job, nil
}

// StopAllListeners stops all active job notification listeners. Called
// during graceful shutdown.
func (s *JobService) StopAllListeners() {
	if s.logger != nil {
		s.logger.Info("stopping all job listeners")
	}
	if s.notifier != nil {
		s.notifier.StopAll()
	}
}
