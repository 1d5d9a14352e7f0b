package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MellowMango/email-campaign-automation-sub001/internal/metrics"
	"github.com/MellowMango/email-campaign-automation-sub001/internal/model"
)

// EntryStore is the retry queue persistence the scheduler needs
type EntryStore interface {
	Create(ctx context.Context, e *model.RetryQueueEntry) error
	SupersedePending(ctx context.Context, messageID string) (int64, error)
	ExhaustPending(ctx context.Context, messageID string) error
}

// Notifier records user-facing notifications for terminal outcomes
type Notifier interface {
	Create(ctx context.Context, n *model.Notification) error
}

// Scheduler enqueues bounded, backed-off retries for failed deliveries
type Scheduler struct {
	entries EntryStore
	notifs  Notifier
	policy  Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewScheduler creates a new retry scheduler
func NewScheduler(entries EntryStore, notifs Notifier, policy Policy, logger *slog.Logger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		entries: entries,
		notifs:  notifs,
		policy:  policy,
		logger:  logger,
		metrics: m,
	}
}

// Schedule records the retry intent for a failed delivery.
// priorRetries is the attempt count before this failure; a message
// that has already used its budget is marked exhausted and reported,
// never re-enqueued. Any older pending entry is superseded so only one
// active retry intent exists per message.
func (s *Scheduler) Schedule(ctx context.Context, accountID, messageID, errorID string, priorRetries int, reason string) error {
	if s.policy.Exhausted(priorRetries) {
		if err := s.entries.ExhaustPending(ctx, messageID); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.RetriesExhaustedTotal.Inc()
		}
		s.logger.Warn("retry budget exhausted",
			"message_id", messageID,
			"retry_count", priorRetries,
			"max_retries", s.policy.MaxRetries,
		)

		n := &model.Notification{
			AccountID: accountID,
			MessageID: messageID,
			Kind:      model.NotifyRetriesExhausted,
			Body:      fmt.Sprintf("delivery failed permanently after %d attempts: %s", priorRetries, reason),
		}
		if err := s.notifs.Create(ctx, n); err != nil {
			return fmt.Errorf("failed to create exhaustion notification: %w", err)
		}
		return nil
	}

	if _, err := s.entries.SupersedePending(ctx, messageID); err != nil {
		return err
	}

	now := time.Now().UTC()
	entry := &model.RetryQueueEntry{
		MessageID:   messageID,
		ErrorID:     errorID,
		NextRetryAt: s.policy.NextRetryAt(now, priorRetries),
		RetryCount:  priorRetries + 1,
		MaxRetries:  s.policy.MaxRetries,
		Status:      model.RetryPending,
	}
	if err := s.entries.Create(ctx, entry); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RetriesScheduledTotal.Inc()
	}
	s.logger.Info("retry scheduled",
		"message_id", messageID,
		"attempt", entry.RetryCount,
		"next_retry_at", entry.NextRetryAt,
	)
	return nil
}

// Terminal records a permanent, non-retryable failure: any pending
// retry intent is superseded and the account is notified
func (s *Scheduler) Terminal(ctx context.Context, accountID, messageID, reason string) error {
	if _, err := s.entries.SupersedePending(ctx, messageID); err != nil {
		return err
	}

	n := &model.Notification{
		AccountID: accountID,
		MessageID: messageID,
		Kind:      model.NotifyDeliveryFailed,
		Body:      fmt.Sprintf("delivery failed permanently: %s", reason),
	}
	if err := s.notifs.Create(ctx, n); err != nil {
		return fmt.Errorf("failed to create failure notification: %w", err)
	}
	return nil
}

// OnSuccess supersedes any stale pending entry once a message reaches a
// terminal success
func (s *Scheduler) OnSuccess(ctx context.Context, messageID string) error {
	n, err := s.entries.SupersedePending(ctx, messageID)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Debug("superseded stale retry entries", "message_id", messageID, "count", n)
	}
	return nil
}
