package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MellowMango/email-campaign-automation-sub001/internal/model"
)

// MessageRepository provides access to message rows
type MessageRepository struct {
	db *sql.DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db.DB}
}

const messageColumns = `id, account_id, campaign_id, recipient, subject, html_body, status,
	scheduled_at, sent_at, delivered_at, failed_at, provider_message_id, retry_count,
	error_type, error_message, opened, opened_at, opens_count, clicked, clicked_at,
	clicks_count, unsubscribed_at, unsubscribe_reason, created_at, updated_at`

// Create inserts a new message
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.Status == "" {
		m.Status = model.StatusPending
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, account_id, campaign_id, recipient, subject, html_body,
			status, scheduled_at, provider_message_id, retry_count, opens_count, clicks_count,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AccountID, nullString(m.CampaignID), m.Recipient, m.Subject, m.HTMLBody,
		m.Status, m.ScheduledAt, nullString(m.ProviderMessageID), m.RetryCount,
		m.OpensCount, m.ClicksCount, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// GetByID returns a message by ID, nil if not found
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

// GetByProviderMessageID resolves a message by the correlation
// identifier assigned by the transport provider at send time
func (r *MessageRepository) GetByProviderMessageID(ctx context.Context, providerID string) (*model.Message, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE provider_message_id = ?`, providerID)
	return scanMessage(row)
}

// ListDue returns pending messages whose scheduled time has passed,
// earliest due first
func (r *MessageRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY scheduled_at ASC
		LIMIT ?`,
		model.StatusPending, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list due messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// Claim transitions a message from pending to processing. The update is
// conditional on the row still being pending, so overlapping batch
// invocations cannot double-send: the loser sees zero rows affected and
// skips the message.
func (r *MessageRepository) Claim(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		model.StatusProcessing, time.Now().UTC(), id, model.StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkSent records a successful gateway send
func (r *MessageRepository) MarkSent(ctx context.Context, id, providerMsgID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, sent_at = ?, provider_message_id = ?, updated_at = ?
		WHERE id = ?`,
		model.StatusSent, at, providerMsgID, at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark message sent: %w", err)
	}
	return nil
}

// MarkFailed records a failed delivery and increments the retry counter
func (r *MessageRepository) MarkFailed(ctx context.Context, id, errType, errMsg string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, failed_at = ?, error_type = ?, error_message = ?,
			retry_count = retry_count + 1, updated_at = ?
		WHERE id = ?`,
		model.StatusFailed, at, errType, errMsg, at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark message failed: %w", err)
	}
	return nil
}

// MarkDelivered records a provider delivery confirmation
func (r *MessageRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, delivered_at = ?, updated_at = ?
		WHERE id = ?`,
		model.StatusDelivered, at, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark message delivered: %w", err)
	}
	return nil
}

// RecordOpen increments the open counter and stamps the first open time
func (r *MessageRepository) RecordOpen(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET opened = 1, opened_at = COALESCE(opened_at, ?),
			opens_count = opens_count + 1, updated_at = ?
		WHERE id = ?`,
		at, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to record open: %w", err)
	}
	return nil
}

// RecordClick increments the click counter and stamps the first click time
func (r *MessageRepository) RecordClick(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET clicked = 1, clicked_at = COALESCE(clicked_at, ?),
			clicks_count = clicks_count + 1, updated_at = ?
		WHERE id = ?`,
		at, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to record click: %w", err)
	}
	return nil
}

// MarkUnsubscribed records an unsubscribe or spam report
func (r *MessageRepository) MarkUnsubscribed(ctx context.Context, id, reason string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, unsubscribed_at = ?, unsubscribe_reason = ?, updated_at = ?
		WHERE id = ?`,
		model.StatusUnsubscribed, at, reason, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark message unsubscribed: %w", err)
	}
	return nil
}

// Requeue moves a failed message back to pending for a scheduled retry
// attempt. Conditional on the row still being failed so a delivery
// confirmation racing the promotion wins.
func (r *MessageRepository) Requeue(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET status = ?, scheduled_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		model.StatusPending, at, time.Now().UTC(), id, model.StatusFailed,
	)
	if err != nil {
		return false, fmt.Errorf("failed to requeue message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListStaleProcessing returns messages stuck in processing with no
// update since the cutoff
func (r *MessageRepository) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]*model.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC`,
		model.StatusProcessing, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// Stats returns aggregate message counts by status
func (r *MessageRepository) Stats(ctx context.Context) (*model.MessageStats, error) {
	stats := &model.MessageStats{}
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) as total,
			SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'delivered' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'unsubscribed' THEN 1 ELSE 0 END)
		FROM messages`,
	).Scan(&stats.Total, &stats.Pending, &stats.Processing, &stats.Sent,
		&stats.Delivered, &stats.Failed, &stats.Unsubscribed)
	if err != nil {
		return nil, fmt.Errorf("failed to get message stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*model.Message, error) {
	m := &model.Message{}
	var campaignID, providerMsgID, errType, errMsg, unsubReason sql.NullString
	var sentAt, deliveredAt, failedAt, openedAt, clickedAt, unsubscribedAt sql.NullTime

	err := row.Scan(&m.ID, &m.AccountID, &campaignID, &m.Recipient, &m.Subject, &m.HTMLBody,
		&m.Status, &m.ScheduledAt, &sentAt, &deliveredAt, &failedAt, &providerMsgID,
		&m.RetryCount, &errType, &errMsg, &m.Opened, &openedAt, &m.OpensCount,
		&m.Clicked, &clickedAt, &m.ClicksCount, &unsubscribedAt, &unsubReason,
		&m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	m.CampaignID = campaignID.String
	m.ProviderMessageID = providerMsgID.String
	m.ErrorType = errType.String
	m.ErrorMessage = errMsg.String
	m.UnsubscribeReason = unsubReason.String
	if sentAt.Valid {
		m.SentAt = &sentAt.Time
	}
	if deliveredAt.Valid {
		m.DeliveredAt = &deliveredAt.Time
	}
	if failedAt.Valid {
		m.FailedAt = &failedAt.Time
	}
	if openedAt.Valid {
		m.OpenedAt = &openedAt.Time
	}
	if clickedAt.Valid {
		m.ClickedAt = &clickedAt.Time
	}
	if unsubscribedAt.Valid {
		m.UnsubscribedAt = &unsubscribedAt.Time
	}

	return m, nil
}

func scanMessages(rows *sql.Rows) ([]*model.Message, error) {
	var msgs []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
