package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/craftfolio/mailroom/internal/core"
	"github.com/craftfolio/mailroom/internal/data"
	"github.com/craftfolio/mailroom/internal/domain/model"
	apperrors "github.com/craftfolio/mailroom/internal/errors"
	"github.com/craftfolio/mailroom/internal/observability/metrics"
	"github.com/craftfolio/mailroom/internal/observability/statsd"
)

// fallbackMatchWindow bounds how far back a callback without a message id
// may match a recent send to the same address.
const fallbackMatchWindow = 24 * time.Hour

// BounceServiceOptions groups dependencies for BounceService.
type BounceServiceOptions struct {
	Logs          core.DeliveryLogRepository  // Required: delivery log store
	Notifications core.NotificationRepository // Required: notification store for mirroring
	Logger        *slog.Logger                // Optional: structured logger
	Metrics       statsd.Sink                 // Optional: metrics sink
	Parsers       []webhookParser             // Optional: override the parser chain
}

// BounceService ingests provider webhook callbacks: bounces, delivery
// confirmations, and engagement events. The ingest policy is deliberately
// forgiving. Providers retry rejected webhooks aggressively and some
// disable endpoints that keep failing, so anything that is not our fault
// acknowledges with success.
type BounceService struct {
	logs          core.DeliveryLogRepository
	notifications core.NotificationRepository
	logger        *slog.Logger
	metrics       statsd.Sink
	parsers       []webhookParser
}

// NewBounceService constructs a new BounceService.
func NewBounceService(opts BounceServiceOptions) (*BounceService, error) {
	if opts.Logs == nil {
		return nil, errors.New("DeliveryLogRepository is required")
	}
	if opts.Notifications == nil {
		return nil, errors.New("NotificationRepository is required")
	}

	parsers := opts.Parsers
	if parsers == nil {
		parsers = defaultWebhookParsers()
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "bounce_service")
	}

	return &BounceService{
		logs:          opts.Logs,
		notifications: opts.Notifications,
		logger:        logger,
		metrics:       opts.Metrics,
		parsers:       parsers,
	}, nil
}

// IngestResult summarises one webhook ingestion.
type IngestResult struct {
	// Parser is the name of the parser that claimed the payload.
	Parser string `json:"parser"`
	// Received is the number of events the payload carried.
	Received int `json:"received"`
	// Matched is how many events were tied to a delivery log row.
	Matched int `json:"matched"`
}

// IngestPayload parses a raw webhook body and applies every event it
// carries. A payload no parser recognizes is logged and acknowledged with
// an empty result so providers never retry a shape we will never accept.
// A missing email address is the caller's mistake and returns a validation
// error; an event that matches no log row is counted and otherwise
// ignored; a store failure is returned as-is so the provider retries.
func (s *BounceService) IngestPayload(ctx context.Context, body []byte) (*IngestResult, error) {
	events, parserName, ok := parseWebhookPayload(s.parsers, body)
	if !ok {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "webhook payload matched no parser", "bytes", len(body))
		}
		return &IngestResult{}, nil
	}

	result := &IngestResult{Parser: parserName, Received: len(events)}
	for _, event := range events {
		matched, err := s.ProcessEvent(ctx, event)
		if err != nil {
			return result, err
		}
		if matched {
			result.Matched++
		}
	}
	return result, nil
}

// ProcessEvent applies one normalized event to the delivery log. The
// returned bool reports whether a log row was matched.
func (s *BounceService) ProcessEvent(ctx context.Context, event *model.BounceEvent) (bool, error) {
	if event == nil {
		return false, apperrors.Validation("event is required")
	}
	if event.EmailAddress == "" {
		return false, apperrors.ValidationField("email", "email address is required")
	}

	entry, err := s.matchEntry(ctx, event)
	if errors.Is(err, data.ErrDeliveryLogNotFound) {
		if s.logger != nil {
			s.logger.InfoContext(ctx, "webhook event matched no delivery log entry",
				"event_kind", event.Kind,
				"email", event.EmailAddress,
				"message_id", event.MessageID)
		}
		s.emitWebhook(event, false, metrics.ResultNoop, nil)
		return false, nil
	}
	if err != nil {
		s.emitWebhook(event, false, metrics.ResultError, err)
		return false, fmt.Errorf("match webhook event: %w", err)
	}

	if applyErr := s.applyEvent(ctx, entry, event); applyErr != nil {
		s.emitWebhook(event, true, metrics.ResultError, applyErr)
		return true, applyErr
	}

	s.emitWebhook(event, true, metrics.ResultSuccess, nil)
	return true, nil
}

// matchEntry ties an event to a log row: by provider message id when the
// callback carries one, otherwise by the newest recent send to the address.
func (s *BounceService) matchEntry(
	ctx context.Context,
	event *model.BounceEvent,
) (*model.DeliveryLogEntry, error) {
	if event.MessageID != "" {
		entry, err := s.logs.FindByProviderMessageID(ctx, event.MessageID)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, data.ErrDeliveryLogNotFound) {
			return nil, err
		}
		// Fall through: providers sometimes rewrite message ids.
	}

	return s.logs.FindRecentByRecipient(ctx, core.FindRecentByRecipientParams{
		Recipient: event.EmailAddress,
		Statuses:  []model.DeliveryStatus{model.DeliveryStatusSent, model.DeliveryStatusPending},
		Window:    fallbackMatchWindow,
	})
}

func (s *BounceService) applyEvent(
	ctx context.Context,
	entry *model.DeliveryLogEntry,
	event *model.BounceEvent,
) error {
	if event.Kind == model.WebhookEventBounce {
		return s.applyBounce(ctx, entry, event)
	}

	if _, err := s.logs.AdvanceEngagement(ctx, entry.ID, event); err != nil {
		return fmt.Errorf("advance engagement for log %s: %w", entry.ID, err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "engagement event recorded",
			"log_id", entry.ID, "event_kind", event.Kind, "email", event.EmailAddress)
	}
	return nil
}

func (s *BounceService) applyBounce(
	ctx context.Context,
	entry *model.DeliveryLogEntry,
	event *model.BounceEvent,
) error {
	bounceType := event.BounceType
	if bounceType == "" {
		bounceType = model.BounceTypeHard
	}

	if _, err := s.logs.MarkBounced(ctx, core.MarkBouncedParams{
		LogID:      entry.ID,
		BounceType: bounceType,
		Reason:     event.Reason,
		OccurredAt: event.Timestamp,
	}); err != nil {
		return fmt.Errorf("mark log %s bounced: %w", entry.ID, err)
	}

	reason := event.Reason
	if reason == "" {
		reason = "bounced"
	}
	if _, err := s.notifications.UpdateEmailDeliveryByJobID(ctx, entry.JobID, model.EmailDeliveryState{
		Status:    model.EmailDeliveryFailed,
		JobID:     &entry.JobID,
		LastError: &reason,
	}); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to mirror bounce into notification",
			"job_id", entry.JobID, "error", err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "bounce recorded",
			"log_id", entry.ID,
			"email", event.EmailAddress,
			"bounce_type", bounceType,
			"reason", event.Reason)
	}
	return nil
}

func (s *BounceService) emitWebhook(event *model.BounceEvent, matched bool, result string, err error) {
	metrics.EmitWebhook(s.metrics, metrics.WebhookMetric{
		EventKind: string(event.Kind),
		Matched:   matched,
		Result:    result,
		Err:       err,
	})
}
