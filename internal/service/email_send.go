package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/craftfolio/mailroom/internal/core"
	"github.com/craftfolio/mailroom/internal/domain/model"
	apperrors "github.com/craftfolio/mailroom/internal/errors"
	"github.com/craftfolio/mailroom/internal/observability/metrics"
	"github.com/craftfolio/mailroom/internal/observability/statsd"
)

// EmailSendServiceOptions groups dependencies for EmailSendService.
type EmailSendServiceOptions struct {
	Logs          core.DeliveryLogRepository // Required: delivery log store
	Notifications core.NotificationRepository // Required: notification store for sub-status mirroring
	Brands        core.BrandRepository        // Required: branding and SMTP parameters
	Renderer      core.TemplateRenderer       // Required: template resolution
	Transport     core.MailTransport          // Required: outbound SMTP client
	Jobs          *JobService                 // Required for Resend; optional otherwise
	Logger        *slog.Logger                // Optional: structured logger
	Metrics       statsd.Sink                 // Optional: metrics sink
}

// EmailSendService executes send_email jobs: it books the attempt in the
// delivery log, renders and transmits the message, and records the outcome
// in both the log and the originating notification.
type EmailSendService struct {
	logs          core.DeliveryLogRepository
	notifications core.NotificationRepository
	brands        core.BrandRepository
	renderer      core.TemplateRenderer
	transport     core.MailTransport
	jobs          *JobService
	logger        *slog.Logger
	metrics       statsd.Sink
}

// NewEmailSendService constructs a new EmailSendService.
func NewEmailSendService(opts EmailSendServiceOptions) (*EmailSendService, error) {
	if opts.Logs == nil {
		return nil, errors.New("DeliveryLogRepository is required")
	}
	if opts.Notifications == nil {
		return nil, errors.New("NotificationRepository is required")
	}
	if opts.Brands == nil {
		return nil, errors.New("BrandRepository is required")
	}
	if opts.Renderer == nil {
		return nil, errors.New("TemplateRenderer is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("MailTransport is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "email_send_service")
	}

	return &EmailSendService{
		logs:          opts.Logs,
		notifications: opts.Notifications,
		brands:        opts.Brands,
		renderer:      opts.Renderer,
		transport:     opts.Transport,
		jobs:          opts.Jobs,
		logger:        logger,
		metrics:       opts.Metrics,
	}, nil
}

// HandleSendJob processes one send_email job. The returned error decides the
// job's fate: nil completes it, a configuration error fails it permanently,
// anything else schedules a retry. Every outcome is recorded in the delivery
// log before the error is returned, so queue bookkeeping never races ahead
// of the log.
func (s *EmailSendService) HandleSendJob(ctx context.Context, job *model.Job) error {
	start := time.Now()

	payload, err := parseEmailPayload(job.Payload)
	if err != nil {
		// Malformed payloads cannot improve on retry.
		cfgErr := apperrors.Wrap(err, apperrors.ErrCodeConfiguration, "invalid email job payload")
		s.emitSend(metrics.DeliveryMetric{EmailKind: "unknown", Result: metrics.ResultError, Err: cfgErr})
		return cfgErr
	}

	// A manual resend points at an existing log row. Reusing that row's
	// jobID correlation makes OpenAttempt mutate it (retryCount up, status
	// back to pending, error cleared) instead of opening a second live row.
	logJobID := job.ID
	if payload.ResendOfLogID != "" {
		prior, lookupErr := s.logs.GetByID(ctx, payload.ResendOfLogID)
		if lookupErr != nil {
			cfgErr := apperrors.Wrap(lookupErr, apperrors.ErrCodeConfiguration,
				fmt.Sprintf("resend target %s not resolvable", payload.ResendOfLogID))
			s.emitSend(metrics.DeliveryMetric{EmailKind: payload.EmailKind, Result: metrics.ResultError, Err: cfgErr})
			return cfgErr
		}
		logJobID = prior.JobID
	}

	entry, err := s.logs.OpenAttempt(ctx, &model.OpenDeliveryAttemptParams{
		JobID:     logJobID,
		Recipient: payload.Recipient,
		Sender:    "",
		Subject:   payload.Subject,
		EmailKind: payload.EmailKind,
	})
	if err != nil {
		// Without a log row there is nothing to reconcile against; retry.
		return fmt.Errorf("open delivery attempt: %w", err)
	}

	s.mirrorAttempt(ctx, payload, start)

	sendErr := s.send(ctx, logJobID, payload, entry)
	if sendErr == nil {
		s.emitSend(metrics.DeliveryMetric{
			EmailKind: payload.EmailKind,
			Result:    metrics.ResultSuccess,
			Attempt:   job.AttemptsMade + 1,
			Duration:  time.Since(start),
		})
		return nil
	}

	result := metrics.ResultRetry
	if apperrors.IsConfiguration(sendErr) {
		result = metrics.ResultError
	}
	s.emitSend(metrics.DeliveryMetric{
		EmailKind: payload.EmailKind,
		Result:    result,
		Attempt:   job.AttemptsMade + 1,
		Duration:  time.Since(start),
		Err:       sendErr,
	})
	return sendErr
}

// send resolves the brand, renders, transmits, and records the outcome.
// logJobID is the correlation key for all log and notification writes; on a
// resend it is the original job's id, not the queue job being processed.
func (s *EmailSendService) send(
	ctx context.Context,
	logJobID string,
	payload *model.EmailJobPayload,
	entry *model.DeliveryLogEntry,
) error {
	brand, err := s.brands.GetByID(ctx, payload.BrandID)
	if err != nil {
		cfgErr := apperrors.Wrap(err, apperrors.ErrCodeConfiguration,
			fmt.Sprintf("brand %s not resolvable", payload.BrandID))
		s.recordFailure(ctx, logJobID, cfgErr)
		return cfgErr
	}

	rendered, err := s.renderer.Render(payload.EmailKind, brand, payload.Data)
	if err != nil {
		cfgErr := apperrors.Wrap(err, apperrors.ErrCodeConfiguration,
			fmt.Sprintf("template %s not renderable", payload.EmailKind))
		s.recordFailure(ctx, logJobID, cfgErr)
		return cfgErr
	}

	subject := payload.Subject
	if subject == "" {
		subject = rendered.Subject
	}

	messageID, err := s.transport.Send(ctx, core.SendMailInput{
		Brand:   brand,
		To:      entry.Recipient,
		Subject: subject,
		HTML:    rendered.HTML,
	})
	if err != nil {
		sendErr := fmt.Errorf("transmit to %s: %w", entry.Recipient, err)
		s.recordFailure(ctx, logJobID, sendErr)
		return sendErr
	}

	sentAt := time.Now()
	if _, err := s.logs.MarkSent(ctx, core.MarkSentParams{
		JobID:             logJobID,
		ProviderMessageID: messageID,
		HTMLSnapshot:      rendered.HTML,
		Sender:            brand.Sender(),
		SentAt:            sentAt,
	}); err != nil {
		// The mail is out. Surface the bookkeeping failure but do not retry
		// the send; a retry would deliver a duplicate.
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "sent mail but failed to record it",
				"job_id", logJobID, "recipient", entry.Recipient, "error", err)
		}
		return nil
	}

	s.mirrorOutcome(ctx, logJobID, model.EmailDeliveryState{
		Status:     model.EmailDeliverySent,
		LastSentAt: &sentAt,
	})

	if s.logger != nil {
		s.logger.InfoContext(ctx, "email sent",
			"job_id", logJobID,
			"email_kind", payload.EmailKind,
			"recipient", entry.Recipient,
			"provider_message_id", messageID,
			"retry_count", entry.RetryCount,
		)
	}
	return nil
}

// recordFailure writes the failure to the delivery log and mirrors it into
// the notification. Bookkeeping errors are logged, not returned: the send
// error is the one the caller must see.
func (s *EmailSendService) recordFailure(ctx context.Context, jobID string, cause error) {
	if _, err := s.logs.MarkFailed(ctx, jobID, cause.Error()); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to mark delivery log failed",
			"job_id", jobID, "error", err)
	}

	msg := cause.Error()
	s.mirrorOutcome(ctx, jobID, model.EmailDeliveryState{
		Status:    model.EmailDeliveryFailed,
		LastError: &msg,
	})
}

// mirrorAttempt stamps the attempt time on the originating notification.
func (s *EmailSendService) mirrorAttempt(
	ctx context.Context,
	payload *model.EmailJobPayload,
	at time.Time,
) {
	if payload.NotificationID == "" {
		return
	}
	at = at.UTC()
	_, err := s.notifications.UpdateEmailDelivery(ctx, core.UpdateEmailDeliveryParams{
		NotificationID: payload.NotificationID,
		State: model.EmailDeliveryState{
			Status:        model.EmailDeliveryQueued,
			LastAttemptAt: &at,
		},
	})
	if err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to mirror attempt into notification",
			"notification_id", payload.NotificationID, "error", err)
	}
}

// mirrorOutcome projects a delivery outcome into whatever notification
// carries the job. Misses are expected for standalone sends.
func (s *EmailSendService) mirrorOutcome(ctx context.Context, jobID string, state model.EmailDeliveryState) {
	jid := jobID
	state.JobID = &jid
	if _, err := s.notifications.UpdateEmailDeliveryByJobID(ctx, jobID, state); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to mirror delivery outcome into notification",
			"job_id", jobID, "error", err)
	}
}

// Resend enqueues a fresh send pointed at an existing delivery log entry.
// The payload carries the entry id so the send path reuses the original
// jobID correlation: the existing row's retryCount increments and its status
// returns to pending instead of a second live row appearing.
func (s *EmailSendService) Resend(ctx context.Context, logID string) (*model.Job, error) {
	if s.jobs == nil {
		return nil, errors.New("job service is not configured")
	}

	entry, err := s.logs.GetByID(ctx, logID)
	if err != nil {
		return nil, fmt.Errorf("load delivery log %s: %w", logID, err)
	}

	original, err := s.jobs.GetByID(ctx, entry.JobID)
	if err != nil {
		return nil, fmt.Errorf("load original job %s: %w", entry.JobID, err)
	}

	payload, err := parseEmailPayload(original.Payload)
	if err != nil {
		return nil, fmt.Errorf("original job payload unusable: %w", err)
	}
	payload.ResendOfLogID = logID

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode resend payload: %w", err)
	}

	job, err := s.jobs.Enqueue(ctx, &model.EnqueueJobRequest{
		Kind:    model.JobKindSendEmail,
		Payload: raw,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue resend: %w", err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "resend enqueued",
			"log_id", logID, "original_job_id", entry.JobID, "job_id", job.ID)
	}
	return job, nil
}

func parseEmailPayload(raw json.RawMessage) (*model.EmailJobPayload, error) {
	var payload model.EmailJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	payload.Recipient = model.NormalizeEmail(payload.Recipient)
	return &payload, nil
}

func (s *EmailSendService) emitSend(in metrics.DeliveryMetric) {
	metrics.EmitDelivery(s.metrics, in)
}
