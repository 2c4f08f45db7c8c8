// Package mailrunner pulls send_email jobs off the queue and executes them
// with a pool of worker goroutines.
package mailrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/craftfolio/mailroom/internal/core"
	"github.com/craftfolio/mailroom/internal/domain/model"
	apperrors "github.com/craftfolio/mailroom/internal/errors"
	obserrors "github.com/craftfolio/mailroom/internal/observability/errors"
	"github.com/craftfolio/mailroom/internal/observability/metrics"
	"github.com/craftfolio/mailroom/internal/observability/statsd"
	"github.com/craftfolio/mailroom/internal/service"
)

// HandlerFunc processes a job. A nil return completes the job; a
// configuration error fails it permanently; anything else retries per the
// job's attempt budget.
type HandlerFunc func(ctx context.Context, job *model.Job) error

// RunnerOptions configures the mail runner adapter.
type RunnerOptions struct {
	Jobs   *service.JobService        // Required: queue access
	Sender *service.EmailSendService  // Required: send_email handler
	Logs   core.DeliveryLogRepository // Required: delivery log reconciliation
	Logger *slog.Logger               // Optional: structured logger

	// Limiter throttles sends across all workers and instances. Nil runs
	// unthrottled.
	Limiter core.RateLimiter
	Metrics statsd.Sink

	Lease       time.Duration // per-job lease duration; defaults to 30s
	Concurrency int           // number of worker goroutines; defaults to 1
	// IdlePoll is the fallback wake-up when no queue notification arrives.
	IdlePoll time.Duration
}

// Runner owns the worker pool for send_email jobs.
type Runner struct {
	jobs     *service.JobService
	logs     core.DeliveryLogRepository
	limiter  core.RateLimiter
	logger   *slog.Logger
	metrics  statsd.Sink
	lease    time.Duration
	idlePoll time.Duration
	workers  int
	handlers map[model.JobKind]HandlerFunc
}

// NewRunner constructs the mail runner and registers the built-in handlers.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobService is required")
	}
	if opts.Sender == nil {
		return nil, errors.New("EmailSendService is required")
	}
	if opts.Logs == nil {
		return nil, errors.New("DeliveryLogRepository is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lease := opts.Lease
	if lease <= 0 {
		lease = 30 * time.Second
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	idlePoll := opts.IdlePoll
	if idlePoll <= 0 {
		idlePoll = 15 * time.Second
	}

	r := &Runner{
		jobs:     opts.Jobs,
		logs:     opts.Logs,
		limiter:  opts.Limiter,
		logger:   logger.With("component", "mail_runner"),
		metrics:  opts.Metrics,
		lease:    lease,
		idlePoll: idlePoll,
		workers:  workers,
		handlers: make(map[model.JobKind]HandlerFunc),
	}
	r.handlers[model.JobKindSendEmail] = opts.Sender.HandleSendJob
	r.handlers[model.JobKindNoop] = func(context.Context, *model.Job) error { return nil }
	return r, nil
}

// Run starts worker goroutines and processes jobs until the context is
// cancelled. The first fatal worker error cancels the pool.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting mail runner",
		"workers", r.workers, "lease", r.lease)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsub, notify := r.jobs.Subscribe(model.JobKindSendEmail)
	defer unsub()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx, notify); err != nil {
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	}
}

func (r *Runner) workerLoop(ctx context.Context, notify <-chan struct{}) error {
	for ctx.Err() == nil {
		job, err := r.jobs.ReserveNext(ctx, model.JobKindSendEmail, r.lease)
		switch {
		case err == nil:
			if job != nil {
				r.processJob(ctx, job)
			}
		case errors.Is(err, model.ErrNoJobsAvailable):
			if !r.waitForWork(ctx, notify) {
				return nil
			}
		case errors.Is(err, context.Canceled):
			return nil
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return nil
}

// waitForWork blocks until a queue notification arrives, the idle poll
// elapses, or the context ends. Returns false only on shutdown.
func (r *Runner) waitForWork(ctx context.Context, notify <-chan struct{}) bool {
	timer := time.NewTimer(r.idlePoll)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-notify:
		return true
	case <-timer.C:
		return true
	}
}

func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	start := time.Now()

	h, ok := r.handlers[job.Kind]
	if !ok {
		// Kinds outside the handler map cannot succeed on retry.
		r.failPermanently(ctx, job, fmt.Errorf("no handler for job kind %s", job.Kind))
		return
	}

	if !r.throttle(ctx) {
		// Shutdown while waiting for a send slot. The lease expires and
		// another worker picks the job up.
		return
	}

	err := h(ctx, job)
	switch {
	case err == nil:
		if _, cerr := r.jobs.Complete(ctx, job.ID); cerr != nil {
			r.logger.ErrorContext(ctx, "complete job error", "job_id", job.ID, "error", cerr)
		}
		r.emit(job, "completed", metrics.ResultSuccess, start, nil)

	case apperrors.IsConfiguration(err):
		r.failPermanently(ctx, job, err)
		r.emit(job, "failed_permanently", metrics.ResultError, start, err)

	default:
		if _, ferr := r.jobs.Fail(ctx, job.ID, err.Error()); ferr != nil {
			r.logger.ErrorContext(ctx, "fail job error",
				"job_id", job.ID, "error", ferr, "original_error", err)
		}
		r.reconcileLog(ctx, job.ID, err)
		r.emit(job, "failed", metrics.ResultRetry, start, err)
	}
}

// throttle waits until the shared limiter grants a send slot. Returns false
// when the context ends first.
func (r *Runner) throttle(ctx context.Context) bool {
	if r.limiter == nil {
		return true
	}

	for {
		allowed, retryAfter, err := r.limiter.Allow(ctx)
		if err != nil {
			// A broken limiter must not stall delivery; log and proceed.
			r.logger.WarnContext(ctx, "rate limiter unavailable, proceeding", "error", err)
			return true
		}
		if allowed {
			return true
		}

		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

func (r *Runner) failPermanently(ctx context.Context, job *model.Job, cause error) {
	if _, err := r.jobs.FailPermanently(ctx, job.ID, cause.Error()); err != nil {
		r.logger.ErrorContext(ctx, "fail job permanently error",
			"job_id", job.ID, "error", err, "original_error", cause)
	}
	r.reconcileLog(ctx, job.ID, cause)
}

// reconcileLog fills the delivery log gap left by a handler that died
// before recording its own failure. The write-if-still-pending guard means
// a log row the handler already settled is never touched.
func (r *Runner) reconcileLog(ctx context.Context, jobID string, cause error) {
	updated, err := r.logs.MarkFailedIfPending(ctx, jobID, cause.Error())
	if err != nil {
		r.logger.WarnContext(ctx, "delivery log reconciliation failed",
			"job_id", jobID, "error", err)
		return
	}
	if updated {
		r.logger.DebugContext(ctx, "delivery log reconciled to failed", "job_id", jobID)
	}
}

func (r *Runner) emit(job *model.Job, transition, result string, start time.Time, err error) {
	if r.metrics == nil {
		return
	}

	tags := map[string]string{
		"job_kind":   string(job.Kind),
		"transition": transition,
		"result":     result,
	}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	r.metrics.Count("mailrunner.job", 1, tags)
	r.metrics.Timing("mailrunner.job_duration", time.Since(start), metrics.CloneTags(tags))
}
