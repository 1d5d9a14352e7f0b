// Package dispatch finds due pending messages and pushes them through
// the transport gateway. Each batch is a bounded, stateless unit of
// work that is safe to invoke repeatedly and concurrently.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MellowMango/email-campaign-automation-sub001/internal/metrics"
	"github.com/MellowMango/email-campaign-automation-sub001/internal/model"
	"github.com/MellowMango/email-campaign-automation-sub001/internal/transport"
)

// MessageStore is the message persistence the worker needs
type MessageStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Message, error)
	Claim(ctx context.Context, id string) (bool, error)
	MarkSent(ctx context.Context, id, providerMsgID string, at time.Time) error
	MarkFailed(ctx context.Context, id, errType, errMsg string, at time.Time) error
	Requeue(ctx context.Context, id string, at time.Time) (bool, error)
	ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]*model.Message, error)
}

// RetryQueue is the retry queue view the worker needs to promote due
// entries back into the pending pool
type RetryQueue interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.RetryQueueEntry, error)
	MarkSuperseded(ctx context.Context, id string) error
}

// ErrorLog records delivery failures
type ErrorLog interface {
	RecordError(ctx context.Context, messageID, errType, errMsg, errCtx string) (*model.DeliveryError, error)
}

// Scheduler is the retry scheduling surface the worker needs
type Scheduler interface {
	Schedule(ctx context.Context, accountID, messageID, errorID string, priorRetries int, reason string) error
	Terminal(ctx context.Context, accountID, messageID, reason string) error
	OnSuccess(ctx context.Context, messageID string) error
}

// Config contains dispatch worker settings
type Config struct {
	BatchSize   int
	SendTimeout time.Duration
	StaleAfter  time.Duration

	// TransportName labels metrics, e.g. "http" or "smtp"
	TransportName string
}

// Result is the outcome for one message in a batch
type Result struct {
	MessageID string `json:"message_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// BatchResult is the outcome of one batch invocation
type BatchResult struct {
	Processed int      `json:"processed"`
	Results   []Result `json:"results"`
}

// Worker dispatches due messages through the transport gateway
type Worker struct {
	messages  MessageStore
	retries   RetryQueue
	errors    ErrorLog
	scheduler Scheduler
	gateway   transport.Gateway
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewWorker creates a new dispatch worker
func NewWorker(messages MessageStore, retries RetryQueue, errors ErrorLog, scheduler Scheduler,
	gateway transport.Gateway, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	if cfg.TransportName == "" {
		cfg.TransportName = "http"
	}
	return &Worker{
		messages:  messages,
		retries:   retries,
		errors:    errors,
		scheduler: scheduler,
		gateway:   gateway,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
	}
}

// RunBatch promotes due retries, then selects due pending messages
// (earliest scheduled first) and sends each through the gateway. One
// message's error never aborts the batch, and no message is left in
// processing when the call returns.
func (w *Worker) RunBatch(ctx context.Context) (*BatchResult, error) {
	start := time.Now()
	defer func() {
		if w.metrics != nil {
			w.metrics.DispatchBatchSeconds.Observe(time.Since(start).Seconds())
		}
	}()

	w.promoteDueRetries(ctx)

	now := time.Now().UTC()
	msgs, err := w.messages.ListDue(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to select due messages: %w", err)
	}

	result := &BatchResult{Results: []Result{}}
	for _, msg := range msgs {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		claimed, err := w.messages.Claim(ctx, msg.ID)
		if err != nil {
			w.logger.Error("failed to claim message", "message_id", msg.ID, "error", err)
			continue
		}
		if !claimed {
			// A concurrent batch got there first
			w.logger.Debug("message already claimed, skipping", "message_id", msg.ID)
			continue
		}

		res := w.dispatchOne(ctx, msg)
		result.Results = append(result.Results, res)
		result.Processed++
	}

	return result, nil
}

// dispatchOne sends a single claimed message. Any panic or error is
// converted into the failed transition so the batch continues.
func (w *Worker) dispatchOne(ctx context.Context, msg *model.Message) (res Result) {
	res = Result{MessageID: msg.ID}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic during send: %v", r)
			w.logger.Error("dispatch panicked", "message_id", msg.ID, "error", err)
			w.failMessage(ctx, msg, err)
			res.Success = false
			res.Error = err.Error()
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	defer cancel()

	gwRes, err := w.gateway.Send(sendCtx, &transport.Request{
		Recipient: msg.Recipient,
		Subject:   msg.Subject,
		HTMLBody:  msg.HTMLBody,
		Metadata: transport.Metadata{
			MessageID:  msg.ID,
			CampaignID: msg.CampaignID,
			AccountID:  msg.AccountID,
		},
	})
	if err != nil {
		w.failMessage(ctx, msg, err)
		res.Success = false
		res.Error = err.Error()
		return res
	}

	now := time.Now().UTC()
	if err := w.messages.MarkSent(ctx, msg.ID, gwRes.ProviderMessageID, now); err != nil {
		w.logger.Error("failed to mark message sent", "message_id", msg.ID, "error", err)
		res.Success = false
		res.Error = err.Error()
		return res
	}
	if err := w.scheduler.OnSuccess(ctx, msg.ID); err != nil {
		w.logger.Error("failed to supersede retry entries", "message_id", msg.ID, "error", err)
	}

	if w.metrics != nil {
		w.metrics.MessagesSentTotal.WithLabelValues(w.cfg.TransportName).Inc()
	}
	w.logger.Info("message sent",
		"message_id", msg.ID,
		"recipient", msg.Recipient,
		"provider_message_id", gwRes.ProviderMessageID,
	)

	res.Success = true
	return res
}

// failMessage applies the failed transition and routes the error down
// the retry path: transient failures get a backed-off retry while
// budget remains, permanent ones get a terminal notification.
func (w *Worker) failMessage(ctx context.Context, msg *model.Message, sendErr error) {
	now := time.Now().UTC()
	const errType = "transport_error"

	if err := w.messages.MarkFailed(ctx, msg.ID, errType, sendErr.Error(), now); err != nil {
		w.logger.Error("failed to mark message failed", "message_id", msg.ID, "error", err)
		return
	}
	if w.metrics != nil {
		w.metrics.MessagesFailedTotal.WithLabelValues(errType).Inc()
	}

	errRow, err := w.errors.RecordError(ctx, msg.ID, errType, sendErr.Error(), "")
	if err != nil {
		w.logger.Error("failed to record delivery error", "message_id", msg.ID, "error", err)
	}
	errorID := ""
	if errRow != nil {
		errorID = errRow.ID
	}

	w.logger.Warn("send failed",
		"message_id", msg.ID,
		"recipient", msg.Recipient,
		"retry_count", msg.RetryCount,
		"error", sendErr,
	)

	if transport.IsTemporary(sendErr) {
		if err := w.scheduler.Schedule(ctx, msg.AccountID, msg.ID, errorID, msg.RetryCount, sendErr.Error()); err != nil {
			w.logger.Error("failed to schedule retry", "message_id", msg.ID, "error", err)
		}
		return
	}

	if err := w.scheduler.Terminal(ctx, msg.AccountID, msg.ID, sendErr.Error()); err != nil {
		w.logger.Error("failed to record terminal failure", "message_id", msg.ID, "error", err)
	}
}

// promoteDueRetries moves messages whose retry time has arrived back
// into the pending pool so this batch can pick them up
func (w *Worker) promoteDueRetries(ctx context.Context) {
	entries, err := w.retries.ListDue(ctx, time.Now().UTC(), w.cfg.BatchSize)
	if err != nil {
		w.logger.Error("failed to list due retries", "error", err)
		return
	}

	for _, entry := range entries {
		requeued, err := w.messages.Requeue(ctx, entry.MessageID, entry.NextRetryAt)
		if err != nil {
			w.logger.Error("failed to requeue message", "message_id", entry.MessageID, "error", err)
			continue
		}
		// The entry is consumed either way: a new attempt starts, or
		// the message already left the failed state
		if err := w.retries.MarkSuperseded(ctx, entry.ID); err != nil {
			w.logger.Error("failed to supersede retry entry", "entry_id", entry.ID, "error", err)
		}
		if requeued {
			w.logger.Info("retry promoted", "message_id", entry.MessageID, "attempt", entry.RetryCount)
		}
	}
}

// SweepStale resets messages stuck in processing past the staleness
// bound: an aborted batch must not leave a message stuck forever. Each
// swept message is failed and a retry scheduled if budget remains.
func (w *Worker) SweepStale(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-w.cfg.StaleAfter)
	msgs, err := w.messages.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale messages: %w", err)
	}

	swept := 0
	for _, msg := range msgs {
		err := &transport.Error{Temporary: true, Message: "message stuck in processing, reset by sweeper"}
		w.failMessage(ctx, msg, err)
		if w.metrics != nil {
			w.metrics.StaleSweptTotal.Inc()
		}
		w.logger.Warn("stale processing message swept", "message_id", msg.ID, "updated_at", msg.UpdatedAt)
		swept++
	}

	return swept, nil
}
