package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/craftfolio/mailroom/config"
	"github.com/craftfolio/mailroom/internal/core"
	"github.com/craftfolio/mailroom/internal/domain/model"
	"github.com/craftfolio/mailroom/internal/observability/statsd"
)

// SweeperServiceOptions groups dependencies for SweeperService.
type SweeperServiceOptions struct {
	Notifications core.NotificationRepository // Required: notification store
	Jobs          core.JobRepository          // Required: job queue for cleanup
	Config        config.SweeperConfig        // Required: sweeper configuration
	Logger        *slog.Logger                // Optional: structured logger
	Metrics       statsd.Sink                 // Optional: metrics sink
}

// SweeperService is the background janitor: it expires notifications past
// their horizon, deletes long-expired ones, and prunes finished queue rows.
type SweeperService struct {
	notifications core.NotificationRepository
	jobs          core.JobRepository
	config        config.SweeperConfig
	logger        *slog.Logger
	metrics       statsd.Sink
}

// NewSweeperService constructs a new SweeperService.
func NewSweeperService(opts SweeperServiceOptions) (*SweeperService, error) {
	if opts.Notifications == nil {
		return nil, errors.New("NotificationRepository is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "sweeper_service")
		logger.Debug("SweeperService initialized",
			"interval", opts.Config.Interval,
			"expired_retention", opts.Config.ExpiredRetention,
			"finished_job_max_age", opts.Config.FinishedJobMaxAge,
		)
	}

	return &SweeperService{
		notifications: opts.Notifications,
		jobs:          opts.Jobs,
		config:        opts.Config,
		logger:        logger,
		metrics:       opts.Metrics,
	}, nil
}

// Run starts the sweep loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *SweeperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting sweeper service", "interval", s.config.Interval)
	}

	// Jitter spreads instances starting at the same moment.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.Sweep(ctx); err != nil {
		s.logSweepError(err, "initial sweep")
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "sweeper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logSweepError(err, "sweep")
				// Keep the loop alive; the next tick retries.
			}
		}
	}
}

func (s *SweeperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter))) // #nosec G115 - bounded by maxJitter

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// Sweep performs one pass of all sweep operations. Each step runs to
// completion in batches; errors are joined so one failing step does not
// hide the others.
func (s *SweeperService) Sweep(ctx context.Context) error {
	start := time.Now()
	var errs []error

	expired, err := s.expireDueNotifications(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("expire due notifications: %w", err))
	}

	deleted, err := s.deleteExpiredNotifications(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete expired notifications: %w", err))
	}

	pruned, err := s.pruneFinishedJobs(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("prune finished jobs: %w", err))
	}

	requeued, err := s.jobs.RequeueExpired(ctx, model.JobKindSendEmail)
	if err != nil {
		errs = append(errs, fmt.Errorf("requeue expired leases: %w", err))
	}

	s.emitSweepMetrics(expired, deleted, pruned, requeued, time.Since(start), errs)

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if errors.Is(joined, context.Canceled) || errors.Is(joined, context.DeadlineExceeded) {
			return context.Canceled
		}
		return fmt.Errorf("sweep failed: %w", joined)
	}
	return nil
}

func (s *SweeperService) expireDueNotifications(ctx context.Context) (int64, error) {
	var total int64
	for {
		count, err := s.notifications.ExpireDue(ctx, time.Now(), s.config.BatchSize)
		if err != nil {
			return total, err
		}
		total += count
		if count == 0 {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "expired due notifications", "count", total)
	}
	return total, nil
}

func (s *SweeperService) deleteExpiredNotifications(ctx context.Context) (int64, error) {
	var total int64
	for {
		count, err := s.notifications.DeleteExpiredBefore(ctx, s.config.ExpiredRetention, s.config.BatchSize)
		if err != nil {
			return total, err
		}
		total += count
		if count == 0 {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "deleted expired notifications",
			"count", total, "retention", s.config.ExpiredRetention)
	}
	return total, nil
}

func (s *SweeperService) pruneFinishedJobs(ctx context.Context) (int64, error) {
	var total int64
	for {
		count, err := s.jobs.DeleteOldFinished(ctx, s.config.FinishedJobMaxAge, s.config.BatchSize)
		if err != nil {
			return total, err
		}
		total += count
		if count == 0 {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "pruned finished jobs",
			"count", total, "max_age", s.config.FinishedJobMaxAge)
	}
	return total, nil
}

func (s *SweeperService) emitSweepMetrics(
	expired, deleted, pruned, requeued int64,
	elapsed time.Duration,
	errs []error,
) {
	if s.metrics == nil {
		return
	}

	result := "success"
	if len(errs) > 0 {
		result = "error"
	} else if expired+deleted+pruned+requeued == 0 {
		result = "noop"
	}
	tags := map[string]string{"result": result}

	s.metrics.Count("sweeper.sweep", 1, tags)
	s.metrics.Timing("sweeper.sweep_duration", elapsed, tags)
	s.metrics.Count("sweeper.notifications_expired", expired, nil)
	s.metrics.Count("sweeper.notifications_deleted", deleted, nil)
	s.metrics.Count("sweeper.jobs_pruned", pruned, nil)
	s.metrics.Count("sweeper.jobs_requeued", requeued, nil)

	if len(errs) == 0 {
		s.metrics.Gauge("sweeper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *SweeperService) logSweepError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}
	s.logger.Error(label+" failed", "error", err)
}
