package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/craftfolio/mailroom/config"
	"github.com/craftfolio/mailroom/internal/core"
	"github.com/craftfolio/mailroom/internal/data"
	"github.com/craftfolio/mailroom/internal/domain/model"
)

// DispatcherOptions groups dependencies for DispatcherService.
type DispatcherOptions struct {
	Notifications core.NotificationRepository // Required: notification store
	Recipients    core.RecipientDirectory     // Required: recipient lookups
	Jobs          *JobService                 // Required: email job enqueueing
	Config        config.DispatcherConfig     // Required: defaults for brand, TTL, priority
	Logger        *slog.Logger                // Optional: structured logger
}

// DispatcherService fans one dispatch request out to the enabled channels:
// it persists the in-app notification and, when the email channel applies,
// enqueues the send job. The email leg is fire-and-forget; a queue outage
// never fails the dispatch.
type DispatcherService struct {
	notifications core.NotificationRepository
	recipients    core.RecipientDirectory
	jobs          *JobService
	config        config.DispatcherConfig
	logger        *slog.Logger
}

// NewDispatcherService constructs a new DispatcherService.
func NewDispatcherService(opts DispatcherOptions) (*DispatcherService, error) {
	if opts.Notifications == nil {
		return nil, errors.New("NotificationRepository is required")
	}
	if opts.Recipients == nil {
		return nil, errors.New("RecipientDirectory is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("JobService is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "dispatcher_service")
	}

	return &DispatcherService{
		notifications: opts.Notifications,
		recipients:    opts.Recipients,
		jobs:          opts.Jobs,
		config:        opts.Config,
		logger:        logger,
	}, nil
}

// Dispatch creates the notification and kicks off the email leg. An unknown
// or deleted recipient yields (nil, nil): the caller asked to notify someone
// who is not there, which is a no-op, not an error.
func (s *DispatcherService) Dispatch(
	ctx context.Context,
	req *model.DispatchRequest,
) (*model.Notification, error) {
	if req == nil {
		return nil, errors.New("dispatch request is required")
	}
	if !req.RecipientKind.Valid() {
		return nil, errors.New("invalid recipient kind")
	}

	recipient, err := s.recipients.Lookup(ctx, req.RecipientKind, req.RecipientID)
	if errors.Is(err, data.ErrRecipientNotFound) {
		if s.logger != nil {
			s.logger.InfoContext(ctx, "dispatch skipped, recipient not found",
				"recipient_id", req.RecipientID, "recipient_kind", req.RecipientKind)
		}
		return nil, nil
	}
	if err != nil {
		// Unexpected lookup failures are swallowed too; dispatch callers
		// never see an error for a notification that could not start.
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "recipient lookup failed, dispatch dropped",
				"recipient_id", req.RecipientID,
				"recipient_kind", req.RecipientKind,
				"error", err)
		}
		return nil, nil
	}

	now := time.Now().UTC()
	triggerDate := now
	if req.TriggerDate != nil {
		triggerDate = req.TriggerDate.UTC()
	}
	expiresAt := triggerDate.Add(s.defaultTTL())
	if req.ExpiresAt != nil {
		expiresAt = req.ExpiresAt.UTC()
	}

	emailState, emailAddr := s.resolveEmailState(req, recipient)

	notification, err := s.notifications.Create(ctx, &model.CreateNotificationRequest{
		RecipientID:   req.RecipientID,
		RecipientKind: req.RecipientKind,
		Title:         req.Title,
		Message:       req.Message,
		EventType:     req.EventType,
		TriggerDate:   triggerDate,
		ExpiresAt:     expiresAt,
		Context:       req.Context,
		EmailDelivery: emailState,
	})
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	if emailState.Status == model.EmailDeliveryPending {
		s.enqueueEmail(ctx, notification, req, emailAddr)
	}

	return notification, nil
}

// resolveEmailState decides the initial email sub-status. Pending means "an
// email job should be enqueued"; everything else is terminal for this
// dispatch.
func (s *DispatcherService) resolveEmailState(
	req *model.DispatchRequest,
	recipient *model.Recipient,
) (model.EmailDeliveryState, string) {
	if !req.Channels.EmailEnabled() {
		reason := model.StatusReasonChannelDisabled
		return model.EmailDeliveryState{
			Status:       model.EmailDeliveryDisabled,
			StatusReason: &reason,
		}, ""
	}

	// No template kind means the caller wants an in-app notification only.
	if req.EmailKind == "" {
		reason := model.StatusReasonMissingEmailKind
		return model.EmailDeliveryState{
			Status:       model.EmailDeliverySkipped,
			StatusReason: &reason,
		}, ""
	}

	addr := recipient.EmailAddress()
	if addr == "" {
		reason := model.StatusReasonMissingEmailAddress
		return model.EmailDeliveryState{
			Status:       model.EmailDeliverySkipped,
			StatusReason: &reason,
		}, ""
	}

	return model.EmailDeliveryState{Status: model.EmailDeliveryPending}, addr
}

// enqueueEmail enqueues the send job and stamps the outcome on the
// notification. Enqueue failures are swallowed: the notification itself
// already exists, and the failed sub-status records what happened.
func (s *DispatcherService) enqueueEmail(
	ctx context.Context,
	notification *model.Notification,
	req *model.DispatchRequest,
	emailAddr string,
) {
	brandID := req.BrandID
	if brandID == "" {
		brandID = s.config.DefaultBrandID
	}

	// The notification title doubles as the subject unless overridden.
	subject := req.Subject
	if subject == "" {
		subject = req.Title
	}

	payload := model.EmailJobPayload{
		EmailKind:      req.EmailKind,
		Recipient:      emailAddr,
		Subject:        subject,
		BrandID:        brandID,
		NotificationID: notification.ID,
		Data:           req.Context,
	}

	state := model.EmailDeliveryState{Status: model.EmailDeliveryQueued}

	raw, err := json.Marshal(payload)
	if err == nil {
		var job *model.Job
		job, err = s.jobs.Enqueue(ctx, &model.EnqueueJobRequest{
			Kind:     model.JobKindSendEmail,
			Payload:  raw,
			Priority: s.config.EmailJobPriority,
		})
		if err == nil {
			state.JobID = &job.ID
		}
	}

	if err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to enqueue email job",
				"notification_id", notification.ID,
				"recipient", emailAddr,
				"error", err)
		}
		reason := model.StatusReasonQueueEnqueueFailed
		msg := err.Error()
		state = model.EmailDeliveryState{
			Status:       model.EmailDeliveryFailed,
			StatusReason: &reason,
			LastError:    &msg,
		}
	}

	if _, updateErr := s.notifications.UpdateEmailDelivery(ctx, core.UpdateEmailDeliveryParams{
		NotificationID: notification.ID,
		State:          state,
	}); updateErr != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to record email enqueue outcome",
			"notification_id", notification.ID, "error", updateErr)
	}

	notification.EmailDelivery = state
}

func (s *DispatcherService) defaultTTL() time.Duration {
	if s.config.DefaultTTL > 0 {
		return s.config.DefaultTTL
	}
	return model.DefaultNotificationTTL
}
