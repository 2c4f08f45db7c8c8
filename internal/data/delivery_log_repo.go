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

// ErrDeliveryLogNotFound is returned when no matching log row exists.
var ErrDeliveryLogNotFound = errors.New("delivery log entry not found")

// DeliveryLogRepo persists outbound email attempts. A partial unique index
// on (job_id) WHERE NOT is_deleted enforces the one-live-row-per-job
// invariant at the schema level; OpenAttempt leans on it for the
// idempotent upsert.
type DeliveryLogRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// DeliveryLogRepoConfig holds configuration for DeliveryLogRepo.
type DeliveryLogRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// NewDeliveryLogRepo creates a new DeliveryLogRepo.
func NewDeliveryLogRepo(db *sql.DB, cfg DeliveryLogRepoConfig) *DeliveryLogRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &DeliveryLogRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const deliveryLogColumns = `
  id,
  job_id,
  recipient,
  sender,
  subject,
  email_kind,
  status,
  provider_message_id,
  retry_count,
  html_snapshot,
  sent_at,
  delivered_at,
  opened_at,
  clicked_at,
  error,
  metadata,
  is_deleted,
  created_at,
  updated_at
`

func scanDeliveryLogRow(scanner rowScanner) (*model.DeliveryLogEntry, error) {
	entry := &model.DeliveryLogEntry{}
	var providerMessageID, htmlSnapshot, errMsg sql.NullString
	var sentAt, deliveredAt, openedAt, clickedAt sql.NullTime
	var metadata []byte

	if err := scanner.Scan(
		&entry.ID,
		&entry.JobID,
		&entry.Recipient,
		&entry.Sender,
		&entry.Subject,
		&entry.EmailKind,
		&entry.Status,
		&providerMessageID,
		&entry.RetryCount,
		&htmlSnapshot,
		&sentAt,
		&deliveredAt,
		&openedAt,
		&clickedAt,
		&errMsg,
		&metadata,
		&entry.IsDeleted,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	); err != nil {
		return nil, err
	}

	entry.ProviderMessageID = cloneNullableString(providerMessageID)
	entry.HTMLSnapshot = cloneNullableString(htmlSnapshot)
	entry.Error = cloneNullableString(errMsg)
	entry.SentAt = cloneNullableTime(sentAt)
	entry.DeliveredAt = cloneNullableTime(deliveredAt)
	entry.OpenedAt = cloneNullableTime(openedAt)
	entry.ClickedAt = cloneNullableTime(clickedAt)

	entry.Metadata = map[string]any{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("decode log metadata: %w", err)
		}
	}
	return entry, nil
}

// OpenAttempt records the start of a send attempt. The first attempt for a
// jobID inserts a pending row; a retry of the same jobID mutates the
// existing row: retry_count is incremented, status returns to pending, and
// the previous error is cleared.
func (r *DeliveryLogRepo) OpenAttempt(
	ctx context.Context,
	params *model.OpenDeliveryAttemptParams,
) (*model.DeliveryLogEntry, error) {
	if params == nil {
		return nil, errors.New("open attempt params are required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	now := r.timeProvider.Now().UTC()
	recipient := model.NormalizeEmail(params.Recipient)

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO email_delivery_logs
		  (job_id, recipient, sender, subject, email_kind, status, metadata)
		VALUES ($1, $2, $3, $4, $5, 'pending', '{}'::jsonb)
		ON CONFLICT (job_id) WHERE NOT is_deleted DO UPDATE SET
		  retry_count = email_delivery_logs.retry_count + 1,
		  status      = 'pending',
		  error       = NULL,
		  recipient   = EXCLUDED.recipient,
		  sender      = EXCLUDED.sender,
		  subject     = EXCLUDED.subject,
		  email_kind  = EXCLUDED.email_kind,
		  updated_at  = $6
		RETURNING `+deliveryLogColumns,
		params.JobID, recipient, params.Sender, params.Subject, params.EmailKind, now)

	entry, err := scanDeliveryLogRow(row)
	if err != nil {
		return nil, fmt.Errorf("open delivery attempt: %w", err)
	}
	return entry, nil
}

// GetByJobID returns the live (non-deleted) log row for a job.
func (r *DeliveryLogRepo) GetByJobID(ctx context.Context, jobID string) (*model.DeliveryLogEntry, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+deliveryLogColumns+`
		FROM email_delivery_logs
		WHERE job_id = $1 AND NOT is_deleted
	`, jobID)

	entry, err := scanDeliveryLogRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeliveryLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery log by job id: %w", err)
	}
	return entry, nil
}

// GetByID returns a log row by its primary key.
func (r *DeliveryLogRepo) GetByID(ctx context.Context, id string) (*model.DeliveryLogEntry, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+deliveryLogColumns+`
		FROM email_delivery_logs
		WHERE id = $1
	`, id)

	entry, err := scanDeliveryLogRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeliveryLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery log: %w", err)
	}
	return entry, nil
}

// MarkSent records transmit success: status sent, sentAt, the provider
// message id, the rendered HTML snapshot, and a cleared error.
func (r *DeliveryLogRepo) MarkSent(
	ctx context.Context,
	params core.MarkSentParams,
) (*model.DeliveryLogEntry, error) {
	sentAt := params.SentAt
	if sentAt.IsZero() {
		sentAt = r.timeProvider.Now()
	}

	row := r.DB.QueryRowContext(ctx, `
		UPDATE email_delivery_logs
		SET status = 'sent',
		    sent_at = $2,
		    provider_message_id = NULLIF($3, ''),
		    html_snapshot = NULLIF($4, ''),
		    sender = COALESCE(NULLIF($5, ''), sender),
		    error = NULL,
		    updated_at = $6
		WHERE job_id = $1 AND NOT is_deleted
		RETURNING `+deliveryLogColumns,
		params.JobID, sentAt.UTC(), params.ProviderMessageID, params.HTMLSnapshot,
		params.Sender, r.timeProvider.Now().UTC())

	entry, err := scanDeliveryLogRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeliveryLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark delivery log sent: %w", err)
	}
	return entry, nil
}

// MarkFailed records a failed transmit attempt.
func (r *DeliveryLogRepo) MarkFailed(
	ctx context.Context,
	jobID, errMsg string,
) (*model.DeliveryLogEntry, error) {
	row := r.DB.QueryRowContext(ctx, `
		UPDATE email_delivery_logs
		SET status = 'failed',
		    error = $2,
		    updated_at = $3
		WHERE job_id = $1 AND NOT is_deleted
		RETURNING `+deliveryLogColumns,
		jobID, errMsg, r.timeProvider.Now().UTC())

	entry, err := scanDeliveryLogRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeliveryLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark delivery log failed: %w", err)
	}
	return entry, nil
}

// MarkFailedIfPending applies a failure only while the row is still pending.
// Queue bookkeeping events use this write-if-still-pending guard so a stale
// or racing event can fill a gap but never clobber the send handler's own
// authoritative write.
func (r *DeliveryLogRepo) MarkFailedIfPending(ctx context.Context, jobID, errMsg string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE email_delivery_logs
		SET status = 'failed',
		    error = $2,
		    updated_at = $3
		WHERE job_id = $1 AND NOT is_deleted AND status = 'pending'
	`, jobID, errMsg, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark delivery log failed if pending: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark failed if pending rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// MarkBounced records a provider bounce on a log row. The status the row
// held before the bounce is preserved under metadata originalStatus for
// audit; replaying the same bounce keeps the first recorded originalStatus.
func (r *DeliveryLogRepo) MarkBounced(
	ctx context.Context,
	params core.MarkBouncedParams,
) (*model.DeliveryLogEntry, error) {
	occurredAt := params.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = r.timeProvider.Now()
	}

	row := r.DB.QueryRowContext(ctx, `
		UPDATE email_delivery_logs
		SET metadata = metadata || jsonb_build_object(
		      'originalStatus', COALESCE(metadata->>'originalStatus', status),
		      'bounceType', $2::text,
		      'bounceReason', $3::text,
		      'bouncedAt', $4::text
		    ),
		    status = 'bounced',
		    updated_at = $5
		WHERE id = $1 AND NOT is_deleted
		RETURNING `+deliveryLogColumns,
		params.LogID, string(params.BounceType), params.Reason,
		occurredAt.UTC().Format(time.RFC3339), r.timeProvider.Now().UTC())

	entry, err := scanDeliveryLogRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeliveryLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark delivery log bounced: %w", err)
	}
	return entry, nil
}

// AdvanceEngagement moves a row forward along sent → delivered → opened →
// clicked. Out-of-order provider callbacks that would regress the status
// only fill in their timestamp.
func (r *DeliveryLogRepo) AdvanceEngagement(
	ctx context.Context,
	logID string,
	event *model.BounceEvent,
) (*model.DeliveryLogEntry, error) {
	if event == nil {
		return nil, errors.New("event is required")
	}

	var next model.DeliveryStatus
	var tsColumn string
	switch event.Kind {
	case model.WebhookEventDelivered:
		next, tsColumn = model.DeliveryStatusDelivered, "delivered_at"
	case model.WebhookEventOpened:
		next, tsColumn = model.DeliveryStatusOpened, "opened_at"
	case model.WebhookEventClicked:
		next, tsColumn = model.DeliveryStatusClicked, "clicked_at"
	case model.WebhookEventBounce:
		return nil, errors.New("bounce events do not advance engagement")
	default:
		return nil, fmt.Errorf("unknown webhook event kind: %s", event.Kind)
	}

	occurredAt := event.Timestamp
	if occurredAt.IsZero() {
		occurredAt = r.timeProvider.Now()
	}

	current, err := r.GetByID(ctx, logID)
	if err != nil {
		return nil, err
	}

	status := current.Status
	if current.Status.CanAdvanceTo(next) {
		status = next
	}

	// tsColumn comes from the closed switch above, never from input.
	//nolint:gosec // column name is compile-time constant
	query := fmt.Sprintf(`
		UPDATE email_delivery_logs
		SET status = $2,
		    %s = COALESCE(%s, $3),
		    updated_at = $4
		WHERE id = $1 AND NOT is_deleted
		RETURNING `+deliveryLogColumns, tsColumn, tsColumn)

	row := r.DB.QueryRowContext(ctx, query, logID, status, occurredAt.UTC(), r.timeProvider.Now().UTC())
	entry, err := scanDeliveryLogRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeliveryLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("advance delivery log engagement: %w", err)
	}
	return entry, nil
}

// FindByProviderMessageID returns the live row carrying the given provider
// message id, or ErrDeliveryLogNotFound.
func (r *DeliveryLogRepo) FindByProviderMessageID(
	ctx context.Context,
	messageID string,
) (*model.DeliveryLogEntry, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+deliveryLogColumns+`
		FROM email_delivery_logs
		WHERE provider_message_id = $1 AND NOT is_deleted
		ORDER BY created_at DESC
		LIMIT 1
	`, messageID)

	entry, err := scanDeliveryLogRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeliveryLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find delivery log by provider message id: %w", err)
	}
	return entry, nil
}

// FindRecentByRecipient returns the newest live row for the recipient in one
// of the given statuses within the window, or ErrDeliveryLogNotFound. This
// backs the webhook fallback match when a callback carries no message id.
func (r *DeliveryLogRepo) FindRecentByRecipient(
	ctx context.Context,
	params core.FindRecentByRecipientParams,
) (*model.DeliveryLogEntry, error) {
	if len(params.Statuses) == 0 {
		return nil, errors.New("at least one status is required")
	}
	window := params.Window
	if window <= 0 {
		window = 24 * time.Hour
	}

	statuses := make([]string, len(params.Statuses))
	for i, s := range params.Statuses {
		statuses[i] = string(s)
	}
	cutoff := r.timeProvider.Now().Add(-window).UTC()

	row := r.DB.QueryRowContext(ctx, `
		SELECT `+deliveryLogColumns+`
		FROM email_delivery_logs
		WHERE recipient = $1
		  AND NOT is_deleted
		  AND status = ANY($2)
		  AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT 1
	`, model.NormalizeEmail(params.Recipient), statuses, cutoff)

	entry, err := scanDeliveryLogRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeliveryLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find recent delivery log by recipient: %w", err)
	}
	return entry, nil
}

// SoftDelete flags a row deleted. Rows are never hard-deleted so the audit
// trail survives; the partial unique index frees the jobID for future rows.
func (r *DeliveryLogRepo) SoftDelete(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE email_delivery_logs
		SET is_deleted = TRUE,
		    updated_at = $2
		WHERE id = $1 AND NOT is_deleted
	`, id, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("soft delete delivery log: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("soft delete rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Stats returns per-status counts over live rows.
func (r *DeliveryLogRepo) Stats(ctx context.Context) (*model.DeliveryLogStats, error) {
	var s model.DeliveryLogStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'pending')   AS pending,
    count(*) FILTER (WHERE status = 'sent')      AS sent,
    count(*) FILTER (WHERE status = 'delivered') AS delivered,
    count(*) FILTER (WHERE status = 'opened')    AS opened,
    count(*) FILTER (WHERE status = 'clicked')   AS clicked,
    count(*) FILTER (WHERE status = 'bounced')   AS bounced,
    count(*) FILTER (WHERE status = 'failed')    AS failed
  FROM email_delivery_logs
  WHERE NOT is_deleted
  `).Scan(&s.Pending, &s.Sent, &s.Delivered, &s.Opened, &s.Clicked, &s.Bounced, &s.Failed)
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery log stats: %w", err)
	}
	return &s, nil
}
