// Package core defines the ports between the service layer and its adapters.
package core

import (
	"context"
	"errors"
	"time"

	"github.com/craftfolio/mailroom/internal/domain/model"
)

// ErrTemplateNotRegistered is returned by TemplateRenderer implementations
// when an email kind has no template. Callers treat it as a configuration
// problem, not a transient failure.
var ErrTemplateNotRegistered = errors.New("template not registered for email kind")

// Service implementations depend on these interfaces, not on the concrete
// data or transport adapters.

// JobRepository defines the durable queue operations.
type JobRepository interface {
	Enqueue(ctx context.Context, req *model.EnqueueJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	ReserveNext(ctx context.Context, kind model.JobKind, leaseSeconds int) (*model.Job, error)
	WaitForNotification(ctx context.Context, kind model.JobKind) error
	Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error)
	Complete(ctx context.Context, id string) (bool, error)
	// Fail schedules a retry with backoff, or marks the job failed once the
	// attempt budget is spent.
	Fail(ctx context.Context, id, errMsg string) (bool, error)
	// FailPermanently marks the job failed without scheduling a retry.
	// Used for configuration errors a retry cannot fix.
	FailPermanently(ctx context.Context, id, errMsg string) (bool, error)
	Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error)
	RequeueExpired(ctx context.Context, kind model.JobKind) (int64, error)
	DeleteOldFinished(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}

// MarkSentParams groups the fields recorded on transmit success.
type MarkSentParams struct {
	JobID             string
	ProviderMessageID string
	HTMLSnapshot      string
	// Sender backfills the log row once the brand is resolved; empty leaves
	// the stored value alone.
	Sender string
	SentAt time.Time
}

// MarkBouncedParams groups the fields recorded on a provider bounce.
type MarkBouncedParams struct {
	LogID      string
	BounceType model.BounceType
	Reason     string
	OccurredAt time.Time
}

// DeliveryLogRepository defines the delivery log store operations. All writes
// keyed by jobID are idempotent upserts: at most one non-deleted row exists
// per jobID at any time.
type DeliveryLogRepository interface {
	// OpenAttempt creates the pending row for a first attempt, or resets the
	// existing row for a retry (retry_count++, status pending, error cleared).
	OpenAttempt(ctx context.Context, params *model.OpenDeliveryAttemptParams) (*model.DeliveryLogEntry, error)
	GetByJobID(ctx context.Context, jobID string) (*model.DeliveryLogEntry, error)
	GetByID(ctx context.Context, id string) (*model.DeliveryLogEntry, error)
	MarkSent(ctx context.Context, params MarkSentParams) (*model.DeliveryLogEntry, error)
	MarkFailed(ctx context.Context, jobID, errMsg string) (*model.DeliveryLogEntry, error)
	// MarkFailedIfPending applies a failure only when the row is still
	// pending. Queue bookkeeping events use this so a stale event can fill a
	// gap but never clobber the handler's own write.
	MarkFailedIfPending(ctx context.Context, jobID, errMsg string) (bool, error)
	MarkBounced(ctx context.Context, params MarkBouncedParams) (*model.DeliveryLogEntry, error)
	// AdvanceEngagement moves sent → delivered → opened → clicked, refusing
	// regressions from out-of-order callbacks.
	AdvanceEngagement(ctx context.Context, logID string, event *model.BounceEvent) (*model.DeliveryLogEntry, error)
	// FindByProviderMessageID matches a webhook callback to its log row.
	FindByProviderMessageID(ctx context.Context, messageID string) (*model.DeliveryLogEntry, error)
	// FindRecentByRecipient returns the newest non-deleted row for the
	// recipient in one of the given statuses created within the window.
	FindRecentByRecipient(ctx context.Context, params FindRecentByRecipientParams) (*model.DeliveryLogEntry, error)
	SoftDelete(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) (*model.DeliveryLogStats, error)
}

// FindRecentByRecipientParams groups the webhook fallback-match arguments.
type FindRecentByRecipientParams struct {
	Recipient string
	Statuses  []model.DeliveryStatus
	Window    time.Duration
}

// UpdateEmailDeliveryParams groups a notification sub-status update.
type UpdateEmailDeliveryParams struct {
	NotificationID string
	State          model.EmailDeliveryState
}

// NotificationRepository defines the notification store operations.
type NotificationRepository interface {
	Create(ctx context.Context, req *model.CreateNotificationRequest) (*model.Notification, error)
	GetByID(ctx context.Context, id string) (*model.Notification, error)
	// UpdateEmailDelivery replaces the embedded email sub-status.
	UpdateEmailDelivery(ctx context.Context, params UpdateEmailDeliveryParams) (bool, error)
	// UpdateEmailDeliveryByJobID mirrors a delivery log transition into the
	// notification that carries the given job id.
	UpdateEmailDeliveryByJobID(ctx context.Context, jobID string, state model.EmailDeliveryState) (bool, error)
	MarkRead(ctx context.Context, id string) (*model.Notification, error)
	// ListActive returns unexpired notifications for a recipient, newest first.
	ListActive(ctx context.Context, params ListNotificationsParams) ([]*model.Notification, error)
	// ExpireDue flips active rows past their horizon to expired.
	ExpireDue(ctx context.Context, now time.Time, batchSize int) (int64, error)
	// DeleteExpiredBefore removes rows expired longer than maxAge ago.
	DeleteExpiredBefore(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
}

// ListNotificationsParams groups notification list arguments.
type ListNotificationsParams struct {
	RecipientID   string
	RecipientKind model.RecipientKind
	UnreadOnly    bool
	Limit         int
	Offset        int
}

// RecipientDirectory is the entity-store collaborator the dispatcher reads
// recipient existence and addresses from.
type RecipientDirectory interface {
	Lookup(ctx context.Context, kind model.RecipientKind, id string) (*model.Recipient, error)
}

// BrandRepository is the entity-store collaborator sends resolve branding
// and SMTP parameters from.
type BrandRepository interface {
	GetByID(ctx context.Context, id string) (*model.Brand, error)
}

// RenderedEmail is the output of the template collaborator.
type RenderedEmail struct {
	Subject string
	HTML    string
}

// TemplateRenderer resolves an email kind to rendered content. Rendering
// internals are out of scope; the pipeline only needs resolve-and-execute.
type TemplateRenderer interface {
	// Render returns ErrTemplateNotRegistered when no template exists for the kind.
	Render(kind string, brand *model.Brand, data map[string]any) (*RenderedEmail, error)
}

// SendMailInput carries one transmit request to the mail transport.
type SendMailInput struct {
	Brand   *model.Brand
	To      string
	Subject string
	HTML    string
}

// MailTransport is the SMTP-compatible outbound client. Connection
// parameters come from the brand, resolved per send.
type MailTransport interface {
	// Send transmits the message and returns the provider message id.
	Send(ctx context.Context, input SendMailInput) (string, error)
}

// RateLimiter is the shared send throttle. All workers draw from one logical
// limiter tied to the queue, not a per-worker token bucket.
type RateLimiter interface {
	// Allow reports whether a send may proceed now; when it may not, the
	// returned duration is how long to wait before asking again.
	Allow(ctx context.Context) (bool, time.Duration, error)
}
