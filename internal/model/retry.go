package model

import (
	"time"
)

// RetryStatus represents the state of a retry queue entry
type RetryStatus string

const (
	RetryPending    RetryStatus = "pending"
	RetryExhausted  RetryStatus = "exhausted"
	RetrySuperseded RetryStatus = "superseded"
)

// RetryQueueEntry is a scheduled re-attempt for a failed delivery.
// At most one pending entry exists per message at a time.
type RetryQueueEntry struct {
	ID          string      `json:"id"`
	MessageID   string      `json:"message_id"`
	ErrorID     string      `json:"error_id,omitempty"`
	NextRetryAt time.Time   `json:"next_retry_at"`
	RetryCount  int         `json:"retry_count"`
	MaxRetries  int         `json:"max_retries"`
	Status      RetryStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// RateLimitCounter tracks per-account request volume. window_count
// resets whenever a new window index is observed, daily_count resets on
// a new UTC day.
type RateLimitCounter struct {
	AccountID   string    `json:"account_id"`
	WindowCount int       `json:"window_count"`
	DailyCount  int       `json:"daily_count"`
	LastWindow  int64     `json:"last_window"`
	LastDay     string    `json:"last_day"`
	UpdatedAt   time.Time `json:"updated_at"`
}
