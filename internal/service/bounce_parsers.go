package service

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/craftfolio/mailroom/internal/domain/model"
)

// The webhook endpoint accepts payloads from several provider formats. Each
// parser inspects the raw body and reports whether it recognizes the shape;
// the first match wins. Order matters: the specific formats run before the
// generic fallback.

type webhookParser interface {
	Name() string
	Parse(body []byte) ([]*model.BounceEvent, bool)
}

func defaultWebhookParsers() []webhookParser {
	return []webhookParser{
		sendgridParser{},
		sesParser{},
		mailgunParser{},
		genericParser{},
	}
}

// parseWebhookPayload runs the parser chain and returns the normalized
// events plus the name of the parser that claimed the payload. An empty
// slice with ok=true means the payload was recognized but carried no
// actionable events.
func parseWebhookPayload(parsers []webhookParser, body []byte) ([]*model.BounceEvent, string, bool) {
	for _, p := range parsers {
		if events, ok := p.Parse(body); ok {
			return events, p.Name(), true
		}
	}
	return nil, "", false
}

// --- SendGrid ---

// SendGrid posts a JSON array of event objects.
type sendgridParser struct{}

func (sendgridParser) Name() string { return "sendgrid" }

type sendgridEvent struct {
	Email        string  `json:"email"`
	Recipient    string  `json:"recipient"`
	Event        string  `json:"event"`
	Type         string  `json:"type"`
	BounceType   string  `json:"bounce_type"`
	Reason       string  `json:"reason"`
	BounceReason string  `json:"bounce_reason"`
	Description  string  `json:"description"`
	SGMessageID  string  `json:"sg_message_id"`
	MessageID    string  `json:"message_id"`
	Timestamp    float64 `json:"timestamp"`
}

// classifyBounce reads the hard/soft class. Some senders carry it in
// bounce_type ("permanent" is hard, anything temporary is soft); others put
// the event name in event and the class in type.
func (e sendgridEvent) classifyBounce() model.BounceType {
	if e.BounceType != "" {
		if softBounceName(e.BounceType) {
			return model.BounceTypeSoft
		}
		return model.BounceTypeHard
	}
	if e.Event != "" && (strings.EqualFold(e.Type, "blocked") || softBounceName(e.Type)) {
		return model.BounceTypeSoft
	}
	return model.BounceTypeHard
}

func (sendgridParser) Parse(body []byte) ([]*model.BounceEvent, bool) {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "[") {
		return nil, false
	}

	var raw []sendgridEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, false
	}

	events := make([]*model.BounceEvent, 0, len(raw))
	for _, e := range raw {
		// Without an event field, type names the event ("type":"bounce").
		name := e.Event
		if name == "" {
			name = e.Type
		}
		kind, ok := mapEventName(name)
		if !ok {
			continue
		}
		events = append(events, &model.BounceEvent{
			Kind:         kind,
			EmailAddress: model.NormalizeEmail(firstNonEmpty(e.Email, e.Recipient)),
			MessageID:    strings.TrimSpace(firstNonEmpty(e.SGMessageID, e.MessageID)),
			BounceType:   e.classifyBounce(),
			Reason:       firstNonEmpty(e.Reason, e.BounceReason, e.Description),
			Timestamp:    unixToTime(e.Timestamp),
		})
	}
	return events, true
}

// --- Amazon SES (raw or wrapped in an SNS envelope) ---

type sesParser struct{}

func (sesParser) Name() string { return "ses" }

type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

type sesNotification struct {
	NotificationType string `json:"notificationType"`
	Bounce           struct {
		BounceType        string `json:"bounceType"`
		Timestamp         string `json:"timestamp"`
		BouncedRecipients []struct {
			EmailAddress   string `json:"emailAddress"`
			DiagnosticCode string `json:"diagnosticCode"`
		} `json:"bouncedRecipients"`
	} `json:"bounce"`
	Delivery struct {
		Timestamp  string   `json:"timestamp"`
		Recipients []string `json:"recipients"`
	} `json:"delivery"`
	Mail struct {
		MessageID string `json:"messageId"`
	} `json:"mail"`
}

func (sesParser) Parse(body []byte) ([]*model.BounceEvent, bool) {
	payload := body

	// SNS wraps the SES notification as an escaped JSON string.
	var envelope snsEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil &&
		envelope.Type == "Notification" && envelope.Message != "" {
		payload = []byte(envelope.Message)
	}

	var note sesNotification
	if err := json.Unmarshal(payload, &note); err != nil {
		return nil, false
	}

	switch note.NotificationType {
	case "Bounce":
		bounceType := model.BounceTypeSoft
		if strings.EqualFold(note.Bounce.BounceType, "Permanent") {
			bounceType = model.BounceTypeHard
		}
		ts := rfc3339ToTime(note.Bounce.Timestamp)

		events := make([]*model.BounceEvent, 0, len(note.Bounce.BouncedRecipients))
		for _, r := range note.Bounce.BouncedRecipients {
			events = append(events, &model.BounceEvent{
				Kind:         model.WebhookEventBounce,
				EmailAddress: model.NormalizeEmail(r.EmailAddress),
				MessageID:    note.Mail.MessageID,
				BounceType:   bounceType,
				Reason:       r.DiagnosticCode,
				Timestamp:    ts,
			})
		}
		return events, true

	case "Delivery":
		ts := rfc3339ToTime(note.Delivery.Timestamp)
		events := make([]*model.BounceEvent, 0, len(note.Delivery.Recipients))
		for _, addr := range note.Delivery.Recipients {
			events = append(events, &model.BounceEvent{
				Kind:         model.WebhookEventDelivered,
				EmailAddress: model.NormalizeEmail(addr),
				MessageID:    note.Mail.MessageID,
				Timestamp:    ts,
			})
		}
		return events, true
	}
	return nil, false
}

// --- Mailgun ---

type mailgunParser struct{}

func (mailgunParser) Name() string { return "mailgun" }

type mailgunPayload struct {
	EventData struct {
		Event     string  `json:"event"`
		Recipient string  `json:"recipient"`
		Severity  string  `json:"severity"`
		Timestamp float64 `json:"timestamp"`
		Message   struct {
			Headers struct {
				MessageID string `json:"message-id"`
			} `json:"headers"`
		} `json:"message"`
		DeliveryStatus struct {
			Message     string `json:"message"`
			Description string `json:"description"`
		} `json:"delivery-status"`
	} `json:"event-data"`
}

func (mailgunParser) Parse(body []byte) ([]*model.BounceEvent, bool) {
	var payload mailgunPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false
	}
	data := payload.EventData
	if data.Event == "" {
		return nil, false
	}

	kind, ok := mapEventName(data.Event)
	if !ok {
		return []*model.BounceEvent{}, true
	}

	bounceType := model.BounceTypeHard
	if strings.EqualFold(data.Severity, "temporary") {
		bounceType = model.BounceTypeSoft
	}
	reason := data.DeliveryStatus.Message
	if reason == "" {
		reason = data.DeliveryStatus.Description
	}

	return []*model.BounceEvent{{
		Kind:         kind,
		EmailAddress: model.NormalizeEmail(data.Recipient),
		MessageID:    strings.Trim(data.Message.Headers.MessageID, "<>"),
		BounceType:   bounceType,
		Reason:       reason,
		Timestamp:    unixToTime(data.Timestamp),
	}}, true
}

// --- Generic fallback ---

// genericParser accepts a flat JSON object with conventional field names.
// It is the last parser in the chain and claims anything that decodes to an
// object, so unrecognized providers degrade to a best-effort parse instead
// of a rejection.
type genericParser struct{}

func (genericParser) Name() string { return "generic" }

type genericPayload struct {
	Email        string  `json:"email"`
	Recipient    string  `json:"recipient"`
	To           string  `json:"to"`
	EmailAddress string  `json:"emailAddress"`
	Event        string  `json:"event"`
	Type         string  `json:"type"`
	MessageID    string  `json:"messageId"`
	MessageID2   string  `json:"message_id"`
	SGMessageID  string  `json:"sg_message_id"`
	Reason       string  `json:"reason"`
	BounceReason string  `json:"bounceReason"`
	Description  string  `json:"description"`
	Error        string  `json:"error"`
	BounceType   string  `json:"bounceType"`
	Timestamp    float64 `json:"timestamp"`
}

func (genericParser) Parse(body []byte) ([]*model.BounceEvent, bool) {
	var payload genericPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false
	}

	addr := firstNonEmpty(payload.Email, payload.Recipient, payload.To, payload.EmailAddress)

	name := payload.Event
	if name == "" {
		name = payload.Type
	}
	kind, ok := mapEventName(name)
	if !ok {
		// Default to a bounce: the endpoint exists first and foremost to
		// ingest failure reports.
		kind = model.WebhookEventBounce
	}

	bounceType := model.BounceTypeHard
	if softBounceName(payload.BounceType) {
		bounceType = model.BounceTypeSoft
	}

	return []*model.BounceEvent{{
		Kind:         kind,
		EmailAddress: model.NormalizeEmail(addr),
		MessageID:    strings.TrimSpace(firstNonEmpty(payload.MessageID, payload.MessageID2, payload.SGMessageID)),
		BounceType:   bounceType,
		Reason:       firstNonEmpty(payload.Reason, payload.BounceReason, payload.Description, payload.Error),
		Timestamp:    unixToTime(payload.Timestamp),
	}}, true
}

// mapEventName folds the provider-specific event vocabulary into the kinds
// the pipeline acts on. Unknown names report false and are skipped.
func mapEventName(name string) (model.WebhookEventKind, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bounce", "bounced", "failed", "dropped", "permanent_fail", "complaint":
		return model.WebhookEventBounce, true
	case "delivered", "delivery":
		return model.WebhookEventDelivered, true
	case "open", "opened":
		return model.WebhookEventOpened, true
	case "click", "clicked":
		return model.WebhookEventClicked, true
	default:
		return "", false
	}
}

// softBounceName reports whether a provider bounce class names a temporary
// failure. Everything else, "permanent" included, counts as hard.
func softBounceName(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "soft", "transient", "temporary":
		return true
	default:
		return false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func unixToTime(ts float64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

func rfc3339ToTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
