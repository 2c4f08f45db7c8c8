package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/craftfolio/mailroom/internal/core"
	"github.com/craftfolio/mailroom/internal/domain/model"
)

// NotificationServiceOptions groups dependencies for NotificationService.
type NotificationServiceOptions struct {
	Repo   core.NotificationRepository // Required: notification store
	Logger *slog.Logger                // Optional: structured logger
}

// NotificationService is the read-and-acknowledge surface over the
// notification store. Writes other than read flags go through the
// dispatcher and the delivery pipeline.
type NotificationService struct {
	repo   core.NotificationRepository
	logger *slog.Logger
}

// NewNotificationService constructs a new NotificationService.
func NewNotificationService(opts NotificationServiceOptions) (*NotificationService, error) {
	if opts.Repo == nil {
		return nil, errors.New("NotificationRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "notification_service")
	}

	return &NotificationService{repo: opts.Repo, logger: logger}, nil
}

// GetByID returns a notification by id.
func (s *NotificationService) GetByID(ctx context.Context, id string) (*model.Notification, error) {
	if id == "" {
		return nil, errors.New("notification id is required")
	}
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get notification %s: %w", id, err)
	}
	return n, nil
}

// ListActive returns unexpired notifications for a recipient, newest first.
func (s *NotificationService) ListActive(
	ctx context.Context,
	params core.ListNotificationsParams,
) ([]*model.Notification, error) {
	if params.RecipientID == "" {
		return nil, errors.New("recipient id is required")
	}
	notifications, err := s.repo.ListActive(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, nil
}

// MarkRead flags a notification read. Repeating the call is a no-op.
func (s *NotificationService) MarkRead(ctx context.Context, id string) (*model.Notification, error) {
	if id == "" {
		return nil, errors.New("notification id is required")
	}

	n, err := s.repo.MarkRead(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("mark notification %s read: %w", id, err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "notification marked read", "id", id)
	}
	return n, nil
}
