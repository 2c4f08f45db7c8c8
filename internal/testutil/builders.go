package testutil

import (
	"encoding/json"
	"time"

	"github.com/craftfolio/mailroom/internal/domain/model"
)

// JobRequestBuilder builds EnqueueJobRequest values for tests.
type JobRequestBuilder struct {
	req *model.EnqueueJobRequest
}

// NewJobRequest creates a builder with sensible defaults.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.EnqueueJobRequest{
			Kind:    model.JobKindNoop,
			Payload: json.RawMessage(`{}`),
		},
	}
}

// WithKind sets the job kind.
func (b *JobRequestBuilder) WithKind(kind model.JobKind) *JobRequestBuilder {
	b.req.Kind = kind
	return b
}

// WithPayload sets the payload from any JSON-marshalable value.
func (b *JobRequestBuilder) WithPayload(v any) *JobRequestBuilder {
	raw, err := json.Marshal(v)
	if err != nil {
		panic("testutil: marshal job payload: " + err.Error())
	}
	b.req.Payload = raw
	return b
}

// WithPayloadString sets the payload from a raw JSON string.
func (b *JobRequestBuilder) WithPayloadString(payload string) *JobRequestBuilder {
	b.req.Payload = json.RawMessage(payload)
	return b
}

// WithPriority sets the numeric priority (lower runs first).
func (b *JobRequestBuilder) WithPriority(priority int) *JobRequestBuilder {
	b.req.Priority = priority
	return b
}

// WithDelay sets the enqueue delay.
func (b *JobRequestBuilder) WithDelay(delay time.Duration) *JobRequestBuilder {
	b.req.Delay = delay
	return b
}

// WithMaxAttempts sets the attempt budget.
func (b *JobRequestBuilder) WithMaxAttempts(maxAttempts int) *JobRequestBuilder {
	b.req.MaxAttempts = maxAttempts
	return b
}

// Build returns the assembled request.
func (b *JobRequestBuilder) Build() *model.EnqueueJobRequest {
	return b.req
}

// DeliveryAttemptBuilder builds OpenDeliveryAttemptParams values for tests.
type DeliveryAttemptBuilder struct {
	params *model.OpenDeliveryAttemptParams
}

// NewDeliveryAttempt creates a builder with sensible defaults.
func NewDeliveryAttempt(jobID string) *DeliveryAttemptBuilder {
	return &DeliveryAttemptBuilder{
		params: &model.OpenDeliveryAttemptParams{
			JobID:     jobID,
			Recipient: "recipient@example.com",
			Sender:    "no-reply@example.com",
			Subject:   "Test subject",
			EmailKind: "notification",
		},
	}
}

// WithRecipient sets the recipient address.
func (b *DeliveryAttemptBuilder) WithRecipient(recipient string) *DeliveryAttemptBuilder {
	b.params.Recipient = recipient
	return b
}

// WithSender sets the sender address.
func (b *DeliveryAttemptBuilder) WithSender(sender string) *DeliveryAttemptBuilder {
	b.params.Sender = sender
	return b
}

// WithSubject sets the subject line.
func (b *DeliveryAttemptBuilder) WithSubject(subject string) *DeliveryAttemptBuilder {
	b.params.Subject = subject
	return b
}

// WithEmailKind sets the email kind.
func (b *DeliveryAttemptBuilder) WithEmailKind(kind string) *DeliveryAttemptBuilder {
	b.params.EmailKind = kind
	return b
}

// Build returns the assembled params.
func (b *DeliveryAttemptBuilder) Build() *model.OpenDeliveryAttemptParams {
	return b.params
}
