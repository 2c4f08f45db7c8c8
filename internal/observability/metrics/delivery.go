// Package metrics provides standardised metric emission helpers.
package metrics

import (
	"time"

	obserrors "github.com/craftfolio/mailroom/internal/observability/errors"
	"github.com/craftfolio/mailroom/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
	ResultRetry   = "retry"
	ResultSkipped = "skipped"
)

// DeliveryMetric captures one email send outcome for metric emission.
type DeliveryMetric struct {
	EmailKind string
	Result    string
	Attempt   int
	Duration  time.Duration
	Err       error
}

// EmitDelivery emits standardised send pipeline metrics.
func EmitDelivery(sink statsd.Sink, in DeliveryMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"email_kind": in.EmailKind,
		"result":     in.Result,
	}
	if in.Err != nil && in.Result != ResultSuccess {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("delivery.send", 1, tags)
	if in.Duration > 0 {
		sink.Timing("delivery.send_duration", in.Duration, CloneTags(tags))
	}
}

// WebhookMetric captures one provider callback for metric emission.
type WebhookMetric struct {
	EventKind string
	Matched   bool
	Result    string
	Err       error
}

// EmitWebhook emits webhook ingest metrics.
func EmitWebhook(sink statsd.Sink, in WebhookMetric) {
	if sink == nil {
		return
	}

	matched := "false"
	if in.Matched {
		matched = "true"
	}
	tags := map[string]string{
		"event_kind": in.EventKind,
		"matched":    matched,
		"result":     in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("webhook.event", 1, tags)
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
