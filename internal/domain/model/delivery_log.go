package model

import (
	"errors"
	"time"
)

// DeliveryStatus represents the lifecycle status of an outbound email.
type DeliveryStatus string

const (
	// DeliveryStatusPending indicates a send attempt has been recorded but not transmitted.
	DeliveryStatusPending DeliveryStatus = "pending"
	// DeliveryStatusSent indicates the transport accepted the message.
	DeliveryStatusSent DeliveryStatus = "sent"
	// DeliveryStatusDelivered indicates the provider confirmed delivery.
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	// DeliveryStatusOpened indicates the recipient opened the message.
	DeliveryStatusOpened DeliveryStatus = "opened"
	// DeliveryStatusClicked indicates the recipient clicked a link.
	DeliveryStatusClicked DeliveryStatus = "clicked"
	// DeliveryStatusBounced indicates the provider reported a bounce.
	DeliveryStatusBounced DeliveryStatus = "bounced"
	// DeliveryStatusFailed indicates the transmit attempt failed.
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// Valid returns true if the DeliveryStatus is valid.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusSent, DeliveryStatusDelivered,
		DeliveryStatusOpened, DeliveryStatusClicked, DeliveryStatusBounced,
		DeliveryStatusFailed:
		return true
	default:
		return false
	}
}

// engagementRank orders the post-send engagement ladder so out-of-order
// provider callbacks never regress the status.
func engagementRank(s DeliveryStatus) int {
	switch s {
	case DeliveryStatusSent:
		return 1
	case DeliveryStatusDelivered:
		return 2
	case DeliveryStatusOpened:
		return 3
	case DeliveryStatusClicked:
		return 4
	default:
		return 0
	}
}

// CanAdvanceTo reports whether moving from s to next is a forward transition
// on the sent → delivered → opened → clicked ladder.
func (s DeliveryStatus) CanAdvanceTo(next DeliveryStatus) bool {
	cur, nxt := engagementRank(s), engagementRank(next)
	return cur > 0 && nxt > cur
}

// DeliveryLogEntry is the persisted record of one outbound email and its
// lifecycle. jobID is the correlation key: at most one non-deleted row may
// exist per jobID, and a retry of the same job mutates the existing row.
type DeliveryLogEntry struct {
	ID                string         `json:"id"                            db:"id"`
	JobID             string         `json:"job_id"                        db:"job_id"`
	Recipient         string         `json:"recipient"                     db:"recipient"`
	Sender            string         `json:"sender"                        db:"sender"`
	Subject           string         `json:"subject"                       db:"subject"`
	EmailKind         string         `json:"email_kind"                    db:"email_kind"`
	Status            DeliveryStatus `json:"status"                        db:"status"`
	ProviderMessageID *string        `json:"provider_message_id,omitempty" db:"provider_message_id"`
	RetryCount        int            `json:"retry_count"                   db:"retry_count"`
	HTMLSnapshot      *string        `json:"html_snapshot,omitempty"       db:"html_snapshot"`
	SentAt            *time.Time     `json:"sent_at,omitempty"             db:"sent_at"`
	DeliveredAt       *time.Time     `json:"delivered_at,omitempty"        db:"delivered_at"`
	OpenedAt          *time.Time     `json:"opened_at,omitempty"           db:"opened_at"`
	ClickedAt         *time.Time     `json:"clicked_at,omitempty"          db:"clicked_at"`
	Error             *string        `json:"error,omitempty"               db:"error"`
	Metadata          map[string]any `json:"metadata"                      db:"metadata"`
	IsDeleted         bool           `json:"is_deleted"                    db:"is_deleted"`
	CreatedAt         time.Time      `json:"created_at"                    db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"                    db:"updated_at"`
}

// OpenDeliveryAttemptParams groups the fields recorded when a send attempt
// opens (first attempt inserts, retries reset the existing row).
type OpenDeliveryAttemptParams struct {
	JobID     string
	Recipient string
	Sender    string
	Subject   string
	EmailKind string
}

// Validate validates OpenDeliveryAttemptParams.
func (p *OpenDeliveryAttemptParams) Validate() error {
	if p.JobID == "" {
		return errors.New("job id is required")
	}
	if p.Recipient == "" {
		return errors.New("recipient is required")
	}
	if p.EmailKind == "" {
		return errors.New("email kind is required")
	}
	return nil
}

// DeliveryLogStats represents counts of log entries per status.
type DeliveryLogStats struct {
	Pending   int `json:"pending"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Opened    int `json:"opened"`
	Clicked   int `json:"clicked"`
	Bounced   int `json:"bounced"`
	Failed    int `json:"failed"`
}
