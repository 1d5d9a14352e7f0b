package model

import (
	"time"
)

// DeliveryEvent is an immutable record of a single provider callback.
// The event log is append-only and is the source of truth for audit,
// independent of whether state application succeeded.
type DeliveryEvent struct {
	ID              string    `json:"id"`
	MessageID       string    `json:"message_id"`
	EventType       string    `json:"event_type"`
	ProviderEventID string    `json:"provider_event_id,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
	RawPayload      string    `json:"raw_payload,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// DeliveryError records a failure condition tied to a message
type DeliveryError struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	ErrorType string    `json:"error_type"`
	Message   string    `json:"message"`
	Context   string    `json:"context,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification is a user-facing record of a terminal delivery outcome
type Notification struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	MessageID string    `json:"message_id"`
	Kind      string    `json:"kind"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification kinds
const (
	NotifyDeliveryFailed   = "delivery_failed"
	NotifyRetriesExhausted = "retries_exhausted"
)
