package model

import "time"

// BounceType classifies a provider-reported delivery failure.
type BounceType string

const (
	// BounceTypeHard marks a permanent failure (bad address, rejected domain).
	BounceTypeHard BounceType = "hard"
	// BounceTypeSoft marks a temporary failure (full mailbox, greylisting).
	BounceTypeSoft BounceType = "soft"
)

// WebhookEventKind distinguishes the provider callback flavours the ingester
// understands. Bounces update failure state; the rest advance the
// engagement ladder.
type WebhookEventKind string

const (
	// WebhookEventBounce is a provider-reported delivery failure.
	WebhookEventBounce WebhookEventKind = "bounce"
	// WebhookEventDelivered is a provider delivery confirmation.
	WebhookEventDelivered WebhookEventKind = "delivered"
	// WebhookEventOpened is an open-tracking callback.
	WebhookEventOpened WebhookEventKind = "opened"
	// WebhookEventClicked is a click-tracking callback.
	WebhookEventClicked WebhookEventKind = "clicked"
)

// BounceEvent is the canonical form every recognized webhook payload is
// normalized into before it touches the delivery log.
type BounceEvent struct {
	Kind         WebhookEventKind
	EmailAddress string
	MessageID    string
	BounceType   BounceType
	Reason       string
	Timestamp    time.Time
}
