package model

import (
	"time"
)

// MessageStatus represents the delivery lifecycle state of a message
type MessageStatus string

const (
	StatusPending      MessageStatus = "pending"
	StatusProcessing   MessageStatus = "processing"
	StatusSent         MessageStatus = "sent"
	StatusDelivered    MessageStatus = "delivered"
	StatusFailed       MessageStatus = "failed"
	StatusUnsubscribed MessageStatus = "unsubscribed"
)

// Rank orders statuses so that a late event cannot move a message
// backwards: an unsubscribe outranks a failure, a failure outranks a
// delivery confirmation. Equal rank overwrites are allowed (idempotent
// redelivery of the same event).
func (s MessageStatus) Rank() int {
	switch s {
	case StatusUnsubscribed:
		return 4
	case StatusFailed:
		return 3
	case StatusDelivered:
		return 2
	case StatusSent:
		return 1
	default:
		return 0
	}
}

// Message represents a unit of outbound email
type Message struct {
	ID          string        `json:"id"`
	AccountID   string        `json:"account_id"`
	CampaignID  string        `json:"campaign_id,omitempty"`
	Recipient   string        `json:"recipient"`
	Subject     string        `json:"subject"`
	HTMLBody    string        `json:"html_body"`
	Status      MessageStatus `json:"status"`
	ScheduledAt time.Time     `json:"scheduled_at"`

	// Terminal timestamps; at most one transition per status change
	SentAt      *time.Time `json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`

	// Correlation identifier assigned by the transport provider at send
	// time, used to match asynchronous callback events
	ProviderMessageID string `json:"provider_message_id,omitempty"`

	RetryCount   int    `json:"retry_count"`
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Engagement counters, cumulative across redeliveries
	Opened      bool       `json:"opened"`
	OpenedAt    *time.Time `json:"opened_at,omitempty"`
	OpensCount  int        `json:"opens_count"`
	Clicked     bool       `json:"clicked"`
	ClickedAt   *time.Time `json:"clicked_at,omitempty"`
	ClicksCount int        `json:"clicks_count"`

	UnsubscribedAt    *time.Time `json:"unsubscribed_at,omitempty"`
	UnsubscribeReason string     `json:"unsubscribe_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageStats represents aggregate message counts by status
type MessageStats struct {
	Pending      int64 `json:"pending"`
	Processing   int64 `json:"processing"`
	Sent         int64 `json:"sent"`
	Delivered    int64 `json:"delivered"`
	Failed       int64 `json:"failed"`
	Unsubscribed int64 `json:"unsubscribed"`
	Total        int64 `json:"total"`
}
