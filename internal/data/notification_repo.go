package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/craftfolio/mailroom/internal/core"
	"github.com/craftfolio/mailroom/internal/domain/model"
)

// ErrNotificationNotFound is returned when no matching notification exists.
var ErrNotificationNotFound = errors.New("notification not found")

// NotificationRepo persists in-app notifications together with the embedded
// email delivery sub-status, stored as flat email_* columns so list reads
// never join the delivery log.
type NotificationRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NotificationRepoConfig holds configuration for NotificationRepo.
type NotificationRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// NewNotificationRepo creates a new NotificationRepo.
func NewNotificationRepo(db *sql.DB, cfg NotificationRepoConfig) *NotificationRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &NotificationRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const notificationColumns = `
  id,
  recipient_id,
  recipient_kind,
  title,
  message,
  event_type,
  is_read,
  read_at,
  status,
  trigger_date,
  expires_at,
  context,
  email_status,
  email_job_id,
  email_last_attempt_at,
  email_last_sent_at,
  email_last_error,
  email_status_reason,
  created_at,
  updated_at
`

func scanNotificationRow(scanner rowScanner) (*model.Notification, error) {
	n := &model.Notification{}
	var eventType, emailJobID, emailLastError, emailStatusReason sql.NullString
	var readAt, emailLastAttemptAt, emailLastSentAt sql.NullTime
	var contextJSON []byte

	if err := scanner.Scan(
		&n.ID,
		&n.RecipientID,
		&n.RecipientKind,
		&n.Title,
		&n.Message,
		&eventType,
		&n.IsRead,
		&readAt,
		&n.Status,
		&n.TriggerDate,
		&n.ExpiresAt,
		&contextJSON,
		&n.EmailDelivery.Status,
		&emailJobID,
		&emailLastAttemptAt,
		&emailLastSentAt,
		&emailLastError,
		&emailStatusReason,
		&n.CreatedAt,
		&n.UpdatedAt,
	); err != nil {
		return nil, err
	}

	n.EventType = cloneNullableString(eventType)
	n.ReadAt = cloneNullableTime(readAt)
	n.EmailDelivery.JobID = cloneNullableString(emailJobID)
	n.EmailDelivery.LastAttemptAt = cloneNullableTime(emailLastAttemptAt)
	n.EmailDelivery.LastSentAt = cloneNullableTime(emailLastSentAt)
	n.EmailDelivery.LastError = cloneNullableString(emailLastError)
	n.EmailDelivery.StatusReason = cloneNullableString(emailStatusReason)

	n.Context = map[string]any{}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &n.Context); err != nil {
			return nil, fmt.Errorf("decode notification context: %w", err)
		}
	}
	return n, nil
}

// Create inserts a notification. The email sub-status on the request is
// stored as handed in; the dispatcher has already resolved the channel
// decision by the time this runs.
func (r *NotificationRepo) Create(
	ctx context.Context,
	req *model.CreateNotificationRequest,
) (*model.Notification, error) {
	if req == nil {
		return nil, errors.New("create notification request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := r.timeProvider.Now().UTC()
	triggerDate := req.TriggerDate
	if triggerDate.IsZero() {
		triggerDate = now
	}
	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = triggerDate.Add(model.DefaultNotificationTTL)
	}

	contextJSON, err := json.Marshal(req.Context)
	if err != nil {
		return nil, fmt.Errorf("encode notification context: %w", err)
	}
	if req.Context == nil {
		contextJSON = []byte(`{}`)
	}

	emailStatus := req.EmailDelivery.Status
	if emailStatus == "" {
		emailStatus = model.EmailDeliveryPending
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO notifications
		  (recipient_id, recipient_kind, title, message, event_type,
		   trigger_date, expires_at, context,
		   email_status, email_job_id, email_last_attempt_at,
		   email_last_sent_at, email_last_error, email_status_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+notificationColumns,
		req.RecipientID, req.RecipientKind, req.Title, req.Message, req.EventType,
		triggerDate.UTC(), expiresAt.UTC(), contextJSON,
		emailStatus, req.EmailDelivery.JobID, req.EmailDelivery.LastAttemptAt,
		req.EmailDelivery.LastSentAt, req.EmailDelivery.LastError, req.EmailDelivery.StatusReason)

	n, err := scanNotificationRow(row)
	if err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return n, nil
}

// GetByID returns a notification by primary key.
func (r *NotificationRepo) GetByID(ctx context.Context, id string) (*model.Notification, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE id = $1
	`, id)

	n, err := scanNotificationRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}

// UpdateEmailDelivery replaces the embedded email sub-status wholesale.
func (r *NotificationRepo) UpdateEmailDelivery(
	ctx context.Context,
	params core.UpdateEmailDeliveryParams,
) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE notifications
		SET email_status = $2,
		    email_job_id = $3,
		    email_last_attempt_at = $4,
		    email_last_sent_at = $5,
		    email_last_error = $6,
		    email_status_reason = $7,
		    updated_at = $8
		WHERE id = $1
	`, params.NotificationID,
		params.State.Status, params.State.JobID, params.State.LastAttemptAt,
		params.State.LastSentAt, params.State.LastError, params.State.StatusReason,
		r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update notification email delivery: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update email delivery rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// UpdateEmailDeliveryByJobID mirrors a delivery log transition into whatever
// notification carries the job id. A miss is not an error; emails also run
// without a backing notification.
func (r *NotificationRepo) UpdateEmailDeliveryByJobID(
	ctx context.Context,
	jobID string,
	state model.EmailDeliveryState,
) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE notifications
		SET email_status = $2,
		    email_last_attempt_at = COALESCE($3, email_last_attempt_at),
		    email_last_sent_at = COALESCE($4, email_last_sent_at),
		    email_last_error = $5,
		    email_status_reason = $6,
		    updated_at = $7
		WHERE email_job_id = $1
	`, jobID,
		state.Status, state.LastAttemptAt, state.LastSentAt,
		state.LastError, state.StatusReason,
		r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update notification email delivery by job id: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update email delivery by job id rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// MarkRead sets the read flag. Marking an already read notification is a
// no-op that keeps the original read_at.
func (r *NotificationRepo) MarkRead(ctx context.Context, id string) (*model.Notification, error) {
	now := r.timeProvider.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
		UPDATE notifications
		SET is_read = TRUE,
		    read_at = COALESCE(read_at, $2),
		    updated_at = $2
		WHERE id = $1
		RETURNING `+notificationColumns,
		id, now)

	n, err := scanNotificationRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return n, nil
}

// ListActive returns unexpired notifications for a recipient, newest first.
func (r *NotificationRepo) ListActive(
	ctx context.Context,
	params core.ListNotificationsParams,
) ([]*model.Notification, error) {
	if !params.RecipientKind.Valid() {
		return nil, errors.New("invalid recipient kind")
	}
	limit := params.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	unreadFilter := ""
	if params.UnreadOnly {
		unreadFilter = "AND NOT is_read"
	}

	//nolint:gosec // unreadFilter is one of two compile-time constants
	query := fmt.Sprintf(`
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient_id = $1
		  AND recipient_kind = $2
		  AND status = 'active'
		  AND (expires_at > $3 OR trigger_date > $3)
		  %s
		ORDER BY trigger_date DESC, created_at DESC
		LIMIT $4 OFFSET $5
	`, unreadFilter)

	rows, err := r.DB.QueryContext(ctx, query,
		params.RecipientID, params.RecipientKind, r.timeProvider.Now().UTC(),
		limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]*model.Notification, 0)
	for rows.Next() {
		n, err := scanNotificationRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notifications rows: %w", err)
	}
	return notifications, nil
}

// ExpireDue flips active rows past their horizon to expired, batchSize at a
// time so the sweeper never holds a long transaction. A row is past its
// horizon only once expires_at AND trigger_date are both behind now: a
// notification scheduled in the future is not expired early even if its
// ttl window has lapsed.
func (r *NotificationRepo) ExpireDue(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'expired',
		    updated_at = $1
		WHERE id IN (
		  SELECT id FROM notifications
		  WHERE status = 'active' AND expires_at <= $1 AND trigger_date <= $1
		  LIMIT $2
		)
	`, now.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("expire due notifications: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpiredBefore removes rows that have sat expired longer than maxAge.
func (r *NotificationRepo) DeleteExpiredBefore(
	ctx context.Context,
	maxAge time.Duration,
	batchSize int,
) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	cutoff := r.timeProvider.Now().Add(-maxAge).UTC()

	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE id IN (
		  SELECT id FROM notifications
		  WHERE status = 'expired' AND expires_at <= $1
		  LIMIT $2
		)
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired notifications: %w", err)
	}
	return res.RowsAffected()
}
