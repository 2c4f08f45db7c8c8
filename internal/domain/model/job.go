// Package model defines the core data types for the mailroom delivery pipeline.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobKind represents the kind of queued work.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobKind string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobKindSendEmail represents an outbound email delivery job.
	JobKindSendEmail JobKind = "send_email"
	// JobKindNoop represents a placeholder job that performs no work.
	// Kept in the closed set so schedulers can exercise the queue end to end.
	JobKindNoop JobKind = "noop"

	// JobStatusPending indicates a job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates a job has finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job has exhausted its attempts or failed permanently.
	JobStatusFailed JobStatus = "failed"
)

// DefaultJobPriority is applied when the caller does not specify a priority.
// Lower values are reserved more eagerly.
const DefaultJobPriority = 2

// DefaultMaxAttempts bounds how often a job is handed to a worker.
const DefaultMaxAttempts = 3

// ErrNoJobsAvailable is returned when no jobs are ready for reservation.
var ErrNoJobsAvailable = errors.New("no jobs available")

// UnmarshalText implements encoding.TextUnmarshaler for JobKind to allow env parsing.
func (k *JobKind) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jk := JobKind(v)
	if jk.Valid() {
		*k = jk
		return nil
	}
	return fmt.Errorf("invalid JobKind: %q", v)
}

// Valid returns true if the JobKind is part of the closed set.
func (k JobKind) Valid() bool {
	return k == JobKindSendEmail || k == JobKindNoop
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusCompleted ||
		s == JobStatusFailed
}

// Job represents a queued unit of work. The id is queue-assigned and stable
// across retries; a retry reschedules the same row rather than inserting a
// new one, so jobID remains a usable correlation key.
type Job struct {
	ID             string          `json:"id"                         db:"id"`
	Kind           JobKind         `json:"kind"                       db:"kind"`
	Status         JobStatus       `json:"status"                     db:"status"`
	Priority       int             `json:"priority"                   db:"priority"`
	Payload        json.RawMessage `json:"payload"                    db:"payload"`
	ScheduledAt    time.Time       `json:"scheduled_at"               db:"scheduled_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"     db:"completed_at"`
	AttemptsMade   int             `json:"attempts_made"              db:"attempts_made"`
	MaxAttempts    int             `json:"max_attempts"               db:"max_attempts"`
	LastError      *string         `json:"last_error,omitempty"       db:"last_error"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                 db:"updated_at"`
}

// EnqueueJobRequest represents a request to enqueue a new job.
type EnqueueJobRequest struct {
	Kind        JobKind         `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority,omitempty"`
	Delay       time.Duration   `json:"delay_ms,omitempty"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
}

// Validate validates the EnqueueJobRequest fields.
func (r *EnqueueJobRequest) Validate() error {
	if !r.Kind.Valid() {
		return errors.New("invalid job kind")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if r.Priority < 0 || r.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	if r.Delay < 0 {
		return errors.New("delay must be >= 0")
	}
	if r.MaxAttempts < 0 {
		return errors.New("max attempts must be >= 0")
	}
	return nil
}

// JobStats represents counts of jobs in each state.
type JobStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// EmailJobPayload is the payload carried by send_email jobs.
type EmailJobPayload struct {
	// EmailKind selects the registered template (admin_invite, testimonial_request, ...).
	EmailKind string `json:"email_kind"`
	// Recipient is the destination address, already normalized by the dispatcher.
	Recipient string `json:"recipient"`
	// Subject overrides the template default when set.
	Subject string `json:"subject,omitempty"`
	// BrandID selects the branding configuration and SMTP transport.
	BrandID string `json:"brand_id"`
	// NotificationID, when set, ties this send to a notification whose embedded
	// delivery sub-status must mirror the delivery log.
	NotificationID string `json:"notification_id,omitempty"`
	// ResendOfLogID points at an existing delivery log row for a manual resend.
	ResendOfLogID string `json:"resend_of_log_id,omitempty"`
	// Data feeds the template.
	Data map[string]any `json:"data,omitempty"`
}

// Validate validates the EmailJobPayload fields.
func (p *EmailJobPayload) Validate() error {
	if strings.TrimSpace(p.EmailKind) == "" {
		return errors.New("email kind is required")
	}
	if strings.TrimSpace(p.Recipient) == "" {
		return errors.New("recipient is required")
	}
	if strings.TrimSpace(p.BrandID) == "" {
		return errors.New("brand id is required")
	}
	return nil
}
