package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MellowMango/email-campaign-automation-sub001/internal/model"
)

// EventRepository provides access to the append-only delivery event log
// and the delivery error log
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db.DB}
}

// AppendEvent appends a delivery event. Event rows are never mutated or
// deleted.
func (r *EventRepository) AppendEvent(ctx context.Context, e *model.DeliveryEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO delivery_events (id, message_id, event_type, provider_event_id, occurred_at, raw_payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.MessageID, e.EventType, nullString(e.ProviderEventID), e.OccurredAt,
		nullString(e.RawPayload), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append delivery event: %w", err)
	}
	return nil
}

// ListEventsByMessage returns the event log for a message, oldest first
func (r *EventRepository) ListEventsByMessage(ctx context.Context, messageID string) ([]*model.DeliveryEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message_id, event_type, provider_event_id, occurred_at, raw_payload, created_at
		FROM delivery_events WHERE message_id = ? ORDER BY created_at ASC`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery events: %w", err)
	}
	defer rows.Close()

	var events []*model.DeliveryEvent
	for rows.Next() {
		e := &model.DeliveryEvent{}
		var providerEventID, rawPayload sql.NullString
		if err := rows.Scan(&e.ID, &e.MessageID, &e.EventType, &providerEventID,
			&e.OccurredAt, &rawPayload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ProviderEventID = providerEventID.String
		e.RawPayload = rawPayload.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecordError records a failure condition and returns the created row.
// An empty messageID is stored as NULL for errors that could not be
// tied to a message, such as a processing panic before resolution.
func (r *EventRepository) RecordError(ctx context.Context, messageID, errType, errMsg, errCtx string) (*model.DeliveryError, error) {
	e := &model.DeliveryError{
		ID:        uuid.New().String(),
		MessageID: messageID,
		ErrorType: errType,
		Message:   errMsg,
		Context:   errCtx,
		CreatedAt: time.Now().UTC(),
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO delivery_errors (id, message_id, error_type, message, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, nullString(e.MessageID), e.ErrorType, e.Message, nullString(e.Context), e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record delivery error: %w", err)
	}
	return e, nil
}

// ListErrorsByMessage returns the error log for a message, oldest first
func (r *EventRepository) ListErrorsByMessage(ctx context.Context, messageID string) ([]*model.DeliveryError, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message_id, error_type, message, context, created_at
		FROM delivery_errors WHERE message_id = ? ORDER BY created_at ASC`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery errors: %w", err)
	}
	defer rows.Close()

	var errs []*model.DeliveryError
	for rows.Next() {
		e := &model.DeliveryError{}
		var errCtx sql.NullString
		if err := rows.Scan(&e.ID, &e.MessageID, &e.ErrorType, &e.Message, &errCtx, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Context = errCtx.String
		errs = append(errs, e)
	}
	return errs, rows.Err()
}

// NotificationRepository provides access to user-facing notifications
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *DB) *NotificationRepository {
	return &NotificationRepository{db: db.DB}
}

// Create inserts a notification
func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, account_id, message_id, kind, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.AccountID, n.MessageID, n.Kind, n.Body, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListByAccount returns notifications for an account, newest first
func (r *NotificationRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]*model.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, message_id, kind, body, created_at
		FROM notifications WHERE account_id = ? ORDER BY created_at DESC LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifs []*model.Notification
	for rows.Next() {
		n := &model.Notification{}
		if err := rows.Scan(&n.ID, &n.AccountID, &n.MessageID, &n.Kind, &n.Body, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifs = append(notifs, n)
	}
	return notifs, rows.Err()
}
