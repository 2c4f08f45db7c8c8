package model

import (
	"errors"
	"strings"
	"time"
)

// RecipientKind distinguishes the two principal types notifications target.
type RecipientKind string

const (
	// RecipientKindUser targets a site user.
	RecipientKindUser RecipientKind = "user"
	// RecipientKindAdmin targets a back-office admin.
	RecipientKindAdmin RecipientKind = "admin"
)

// Valid returns true if the RecipientKind is valid.
func (k RecipientKind) Valid() bool {
	return k == RecipientKindUser || k == RecipientKindAdmin
}

// NotificationStatus marks whether a notification is still visible.
type NotificationStatus string

const (
	// NotificationStatusActive is the default visible state.
	NotificationStatusActive NotificationStatus = "active"
	// NotificationStatusExpired marks rows past their expiry horizon.
	NotificationStatusExpired NotificationStatus = "expired"
)

// EmailDeliveryStatus is the embedded per-notification email sub-status, a
// denormalized projection of the related DeliveryLogEntry kept for fast
// notification-list reads without a join.
type EmailDeliveryStatus string

const (
	// EmailDeliveryPending is the initial sub-status before any queue decision.
	EmailDeliveryPending EmailDeliveryStatus = "pending"
	// EmailDeliveryQueued means an email job was enqueued for this notification.
	EmailDeliveryQueued EmailDeliveryStatus = "queued"
	// EmailDeliverySent means the transport accepted the message.
	EmailDeliverySent EmailDeliveryStatus = "sent"
	// EmailDeliveryFailed means the last attempt failed.
	EmailDeliveryFailed EmailDeliveryStatus = "failed"
	// EmailDeliverySkipped means the recipient had no address on file.
	EmailDeliverySkipped EmailDeliveryStatus = "skipped"
	// EmailDeliveryDisabled means the caller turned the email channel off.
	EmailDeliveryDisabled EmailDeliveryStatus = "disabled"
)

// Status reasons recorded alongside the email sub-status.
const (
	StatusReasonChannelDisabled     = "channelDisabled"
	StatusReasonMissingEmailAddress = "missingEmailAddress"
	StatusReasonMissingEmailKind    = "missingEmailKind"
	StatusReasonQueueEnqueueFailed  = "queueEnqueueFailed"
)

// DefaultNotificationTTL is applied when the dispatcher receives no expiry.
const DefaultNotificationTTL = 30 * 24 * time.Hour

// EmailDeliveryState is the embedded sub-record mirroring the delivery log.
type EmailDeliveryState struct {
	Status        EmailDeliveryStatus `json:"status"`
	JobID         *string             `json:"job_id,omitempty"`
	LastAttemptAt *time.Time          `json:"last_attempt_at,omitempty"`
	LastSentAt    *time.Time          `json:"last_sent_at,omitempty"`
	LastError     *string             `json:"last_error,omitempty"`
	StatusReason  *string             `json:"status_reason,omitempty"`
}

// Notification is one in-app notification with its embedded email sub-status.
type Notification struct {
	ID            string             `json:"id"                   db:"id"`
	RecipientID   string             `json:"recipient_id"         db:"recipient_id"`
	RecipientKind RecipientKind      `json:"recipient_kind"       db:"recipient_kind"`
	Title         string             `json:"title"                db:"title"`
	Message       string             `json:"message"              db:"message"`
	EventType     *string            `json:"event_type,omitempty" db:"event_type"`
	IsRead        bool               `json:"is_read"              db:"is_read"`
	ReadAt        *time.Time         `json:"read_at,omitempty"    db:"read_at"`
	Status        NotificationStatus `json:"status"               db:"status"`
	TriggerDate   time.Time          `json:"trigger_date"         db:"trigger_date"`
	ExpiresAt     time.Time          `json:"expires_at"           db:"expires_at"`
	Context       map[string]any     `json:"context"              db:"context"`
	EmailDelivery EmailDeliveryState `json:"email_delivery"`
	CreatedAt     time.Time          `json:"created_at"           db:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"           db:"updated_at"`
}

// Expired reports whether the notification is past its horizon at now.
func (n *Notification) Expired(now time.Time) bool {
	return !now.Before(n.ExpiresAt) && !now.Before(n.TriggerDate)
}

// CreateNotificationRequest carries the fields the dispatcher persists.
type CreateNotificationRequest struct {
	RecipientID   string
	RecipientKind RecipientKind
	Title         string
	Message       string
	EventType     *string
	TriggerDate   time.Time
	ExpiresAt     time.Time
	Context       map[string]any
	EmailDelivery EmailDeliveryState
}

// Validate validates the CreateNotificationRequest fields.
func (r *CreateNotificationRequest) Validate() error {
	if strings.TrimSpace(r.RecipientID) == "" {
		return errors.New("recipient id is required")
	}
	if !r.RecipientKind.Valid() {
		return errors.New("invalid recipient kind")
	}
	if strings.TrimSpace(r.Title) == "" {
		return errors.New("title is required")
	}
	return nil
}

// ChannelSelection lets a dispatch caller turn channels on or off. Nil means
// "use the default for that channel".
type ChannelSelection struct {
	Realtime *bool `json:"realtime,omitempty"`
	Email    *bool `json:"email,omitempty"`
}

// EmailEnabled resolves the email channel flag; the email channel defaults on.
func (c *ChannelSelection) EmailEnabled() bool {
	if c == nil || c.Email == nil {
		return true
	}
	return *c.Email
}

// RealtimeEnabled resolves the realtime flag; realtime defaults off until a
// deployment wires a realtime transport.
func (c *ChannelSelection) RealtimeEnabled() bool {
	if c == nil || c.Realtime == nil {
		return false
	}
	return *c.Realtime
}

// DispatchRequest is the input to the notification dispatcher.
type DispatchRequest struct {
	RecipientID   string            `json:"recipient_id"`
	RecipientKind RecipientKind     `json:"recipient_kind"`
	Title         string            `json:"title"`
	Message       string            `json:"message"`
	EventType     *string           `json:"event_type,omitempty"`
	EmailKind     string            `json:"email_kind,omitempty"`
	BrandID       string            `json:"brand_id,omitempty"`
	Subject       string            `json:"subject,omitempty"`
	TriggerDate   *time.Time        `json:"trigger_date,omitempty"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	Channels      *ChannelSelection `json:"channels,omitempty"`
	Context       map[string]any    `json:"context,omitempty"`
}
