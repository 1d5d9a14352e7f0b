package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MellowMango/email-campaign-automation-sub001/internal/model"
)

// RetryRepository provides access to the retry queue
type RetryRepository struct {
	db *sql.DB
}

// NewRetryRepository creates a new retry repository
func NewRetryRepository(db *DB) *RetryRepository {
	return &RetryRepository{db: db.DB}
}

// Create inserts a retry queue entry
func (r *RetryRepository) Create(ctx context.Context, e *model.RetryQueueEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = model.RetryPending
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO retry_queue (id, message_id, error_id, next_retry_at, retry_count, max_retries, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.MessageID, nullString(e.ErrorID), e.NextRetryAt, e.RetryCount, e.MaxRetries,
		e.Status, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create retry entry: %w", err)
	}
	return nil
}

// GetPending returns the active pending entry for a message, nil if none
func (r *RetryRepository) GetPending(ctx context.Context, messageID string) (*model.RetryQueueEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, message_id, error_id, next_retry_at, retry_count, max_retries, status, created_at, updated_at
		FROM retry_queue WHERE message_id = ? AND status = ?`,
		messageID, model.RetryPending,
	)
	return scanRetryEntry(row)
}

// SupersedePending marks any pending entry for the message superseded,
// keeping at most one active retry intent per message
func (r *RetryRepository) SupersedePending(ctx context.Context, messageID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE retry_queue SET status = ?, updated_at = ?
		WHERE message_id = ? AND status = ?`,
		model.RetrySuperseded, time.Now().UTC(), messageID, model.RetryPending,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to supersede retry entries: %w", err)
	}
	return res.RowsAffected()
}

// ExhaustPending marks any pending entry for the message exhausted.
// Exhausted entries are terminal and are never promoted.
func (r *RetryRepository) ExhaustPending(ctx context.Context, messageID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE retry_queue SET status = ?, updated_at = ?
		WHERE message_id = ? AND status = ?`,
		model.RetryExhausted, time.Now().UTC(), messageID, model.RetryPending,
	)
	if err != nil {
		return fmt.Errorf("failed to exhaust retry entries: %w", err)
	}
	return nil
}

// ListDue returns pending entries whose retry time has passed
func (r *RetryRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.RetryQueueEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message_id, error_id, next_retry_at, retry_count, max_retries, status, created_at, updated_at
		FROM retry_queue WHERE status = ? AND next_retry_at <= ?
		ORDER BY next_retry_at ASC LIMIT ?`,
		model.RetryPending, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list due retry entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.RetryQueueEntry
	for rows.Next() {
		e, err := scanRetryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkSuperseded marks a single entry superseded by ID
func (r *RetryRepository) MarkSuperseded(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE retry_queue SET status = ?, updated_at = ? WHERE id = ?`,
		model.RetrySuperseded, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark retry entry superseded: %w", err)
	}
	return nil
}

func scanRetryEntry(row rowScanner) (*model.RetryQueueEntry, error) {
	e := &model.RetryQueueEntry{}
	var errorID sql.NullString
	err := row.Scan(&e.ID, &e.MessageID, &errorID, &e.NextRetryAt, &e.RetryCount,
		&e.MaxRetries, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan retry entry: %w", err)
	}
	e.ErrorID = errorID.String
	return e, nil
}
