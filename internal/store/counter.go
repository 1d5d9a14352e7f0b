package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MellowMango/email-campaign-automation-sub001/internal/model"
)

// CounterRepository provides access to per-account rate limit counters
// and the rate limit audit log
type CounterRepository struct {
	db *sql.DB
}

// NewCounterRepository creates a new counter repository
func NewCounterRepository(db *DB) *CounterRepository {
	return &CounterRepository{db: db.DB}
}

// Get returns the counter row for an account, nil if none exists
func (r *CounterRepository) Get(ctx context.Context, accountID string) (*model.RateLimitCounter, error) {
	c := &model.RateLimitCounter{}
	err := r.db.QueryRowContext(ctx, `
		SELECT account_id, window_count, daily_count, last_window, last_day, updated_at
		FROM rate_limit_counters WHERE account_id = ?`,
		accountID,
	).Scan(&c.AccountID, &c.WindowCount, &c.DailyCount, &c.LastWindow, &c.LastDay, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rate limit counter: %w", err)
	}
	return c, nil
}

// Put upserts the counter row for an account
func (r *CounterRepository) Put(ctx context.Context, c *model.RateLimitCounter) error {
	c.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rate_limit_counters (account_id, window_count, daily_count, last_window, last_day, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			window_count = excluded.window_count,
			daily_count = excluded.daily_count,
			last_window = excluded.last_window,
			last_day = excluded.last_day,
			updated_at = excluded.updated_at`,
		c.AccountID, c.WindowCount, c.DailyCount, c.LastWindow, c.LastDay, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put rate limit counter: %w", err)
	}
	return nil
}

// Log appends an audit entry for a rate limit decision
func (r *CounterRepository) Log(ctx context.Context, accountID, logType string, count int, windowKey string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rate_limit_log (id, account_id, log_type, count, window_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), accountID, logType, count, windowKey, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to log rate limit entry: %w", err)
	}
	return nil
}

// CountLog returns the number of audit entries of a type for an account
func (r *CounterRepository) CountLog(ctx context.Context, accountID, logType string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM rate_limit_log WHERE account_id = ? AND log_type = ?`,
		accountID, logType,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count rate limit log: %w", err)
	}
	return n, nil
}
