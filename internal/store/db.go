package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the delivery status database
type DB struct {
	*sql.DB
}

// New opens the database, creating the directory if needed
func New(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// foreign_keys goes in the DSN so every pooled connection gets it,
	// not just the one a PRAGMA statement happens to run on
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &DB{db}, nil
}

// Migrate applies the schema
func (db *DB) Migrate() error {
	migrations := []string{
		migrationMessages,
		migrationMessageIndexes,
		migrationDeliveryEvents,
		migrationDeliveryErrors,
		migrationRetryQueue,
		migrationRateLimitCounters,
		migrationRateLimitLog,
		migrationNotifications,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const migrationMessages = `
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    campaign_id TEXT,
    recipient TEXT NOT NULL,
    subject TEXT NOT NULL,
    html_body TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    scheduled_at TIMESTAMP NOT NULL,
    sent_at TIMESTAMP,
    delivered_at TIMESTAMP,
    failed_at TIMESTAMP,
    provider_message_id TEXT,
    retry_count INTEGER NOT NULL DEFAULT 0,
    error_type TEXT,
    error_message TEXT,
    opened INTEGER NOT NULL DEFAULT 0,
    opened_at TIMESTAMP,
    opens_count INTEGER NOT NULL DEFAULT 0,
    clicked INTEGER NOT NULL DEFAULT 0,
    clicked_at TIMESTAMP,
    clicks_count INTEGER NOT NULL DEFAULT 0,
    unsubscribed_at TIMESTAMP,
    unsubscribe_reason TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationMessageIndexes = `
CREATE INDEX IF NOT EXISTS idx_messages_due ON messages(status, scheduled_at);
CREATE INDEX IF NOT EXISTS idx_messages_provider_id ON messages(provider_message_id);
`

const migrationDeliveryEvents = `
CREATE TABLE IF NOT EXISTS delivery_events (
    id TEXT PRIMARY KEY,
    message_id TEXT NOT NULL REFERENCES messages(id),
    event_type TEXT NOT NULL,
    provider_event_id TEXT,
    occurred_at TIMESTAMP NOT NULL,
    raw_payload TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_delivery_events_message ON delivery_events(message_id);
`

const migrationDeliveryErrors = `
CREATE TABLE IF NOT EXISTS delivery_errors (
    id TEXT PRIMARY KEY,
    message_id TEXT REFERENCES messages(id),
    error_type TEXT NOT NULL,
    message TEXT NOT NULL,
    context TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_delivery_errors_message ON delivery_errors(message_id);
`

const migrationRetryQueue = `
CREATE TABLE IF NOT EXISTS retry_queue (
    id TEXT PRIMARY KEY,
    message_id TEXT NOT NULL REFERENCES messages(id),
    error_id TEXT,
    next_retry_at TIMESTAMP NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0,
    max_retries INTEGER NOT NULL DEFAULT 3,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_retry_queue_due ON retry_queue(status, next_retry_at);
CREATE INDEX IF NOT EXISTS idx_retry_queue_message ON retry_queue(message_id);
`

const migrationRateLimitCounters = `
CREATE TABLE IF NOT EXISTS rate_limit_counters (
    account_id TEXT PRIMARY KEY,
    window_count INTEGER NOT NULL DEFAULT 0,
    daily_count INTEGER NOT NULL DEFAULT 0,
    last_window INTEGER NOT NULL DEFAULT 0,
    last_day TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationRateLimitLog = `
CREATE TABLE IF NOT EXISTS rate_limit_log (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    log_type TEXT NOT NULL,
    count INTEGER NOT NULL,
    window_key TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationNotifications = `
CREATE TABLE IF NOT EXISTS notifications (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    message_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    body TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_notifications_account ON notifications(account_id);
`
