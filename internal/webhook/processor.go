package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MellowMango/email-campaign-automation-sub001/internal/event"
	"github.com/MellowMango/email-campaign-automation-sub001/internal/metrics"
	"github.com/MellowMango/email-campaign-automation-sub001/internal/model"
)

// MessageStore is the message persistence the processor needs
type MessageStore interface {
	GetByProviderMessageID(ctx context.Context, providerID string) (*model.Message, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	RecordOpen(ctx context.Context, id string, at time.Time) error
	RecordClick(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id, errType, errMsg string, at time.Time) error
	MarkUnsubscribed(ctx context.Context, id, reason string, at time.Time) error
}

// EventLog is the append-only event and error log
type EventLog interface {
	AppendEvent(ctx context.Context, e *model.DeliveryEvent) error
	RecordError(ctx context.Context, messageID, errType, errMsg, errCtx string) (*model.DeliveryError, error)
}

// Deduper checks whether a provider event was already applied
type Deduper interface {
	Seen(key string) (bool, error)
	Mark(key string) error
}

// Scheduler is the retry scheduling surface the processor needs
type Scheduler interface {
	Schedule(ctx context.Context, accountID, messageID, errorID string, priorRetries int, reason string) error
	OnSuccess(ctx context.Context, messageID string) error
}

// Processor applies provider callback events to message state. Status
// field overwrites are idempotent under redelivery; cumulative counters
// are protected by the dedup index.
type Processor struct {
	messages  MessageStore
	events    EventLog
	dedup     Deduper
	scheduler Scheduler
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewProcessor creates a new event processor
func NewProcessor(messages MessageStore, events EventLog, dedup Deduper, scheduler Scheduler,
	logger *slog.Logger, m *metrics.Metrics) *Processor {
	return &Processor{
		messages:  messages,
		events:    events,
		dedup:     dedup,
		scheduler: scheduler,
		logger:    logger,
		metrics:   m,
	}
}

// ProcessBatch applies each event in the payload. Per-event failures
// are isolated: one bad event never aborts its siblings. Returns the
// number of events applied to a message.
func (p *Processor) ProcessBatch(ctx context.Context, events []event.ProviderEvent) int {
	processed := 0
	for i := range events {
		applied, err := p.safeProcess(ctx, &events[i])
		if err != nil {
			p.logger.Error("event processing failed",
				"kind", events[i].Kind,
				"provider_message_id", events[i].ProviderMessageID,
				"error", err,
			)
			continue
		}
		if applied {
			processed++
		}
	}
	return processed
}

// safeProcess converts a per-event panic into an error and a delivery
// error row so the batch continues
func (p *Processor) safeProcess(ctx context.Context, ev *event.ProviderEvent) (applied bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing event: %v", r)
			if _, rerr := p.events.RecordError(ctx, "", "processing_panic", err.Error(), string(ev.Raw)); rerr != nil {
				p.logger.Error("failed to record panic error", "error", rerr)
			}
		}
	}()
	return p.processOne(ctx, ev)
}

func (p *Processor) processOne(ctx context.Context, ev *event.ProviderEvent) (bool, error) {
	if ev.ProviderMessageID == "" {
		p.skip(ev, "missing_correlation_id")
		return false, nil
	}
	if ev.Kind == event.KindUnknown {
		p.logger.Debug("skipping unknown event kind", "provider_message_id", ev.ProviderMessageID)
		p.skip(ev, "unknown_kind")
		return false, nil
	}

	msg, err := p.messages.GetByProviderMessageID(ctx, ev.ProviderMessageID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve message: %w", err)
	}
	if msg == nil {
		p.logger.Warn("event references unknown message",
			"kind", ev.Kind,
			"provider_message_id", ev.ProviderMessageID,
		)
		p.skip(ev, "message_not_found")
		return false, nil
	}

	// Redelivered callbacks with the same provider event id are dropped
	// before any counter can be incremented twice
	dedupKey := ev.DedupKey()
	if dedupKey != "" {
		seen, err := p.dedup.Seen(dedupKey)
		if err != nil {
			p.logger.Error("dedup check failed, continuing", "key", dedupKey, "error", err)
		} else if seen {
			p.skip(ev, "duplicate")
			return false, nil
		}
	}

	// The event log is appended unconditionally: it is the audit source
	// of truth whether or not state application succeeds below
	logRow := &model.DeliveryEvent{
		MessageID:       msg.ID,
		EventType:       string(ev.Kind),
		ProviderEventID: ev.ProviderEventID,
		OccurredAt:      ev.OccurredAt,
		RawPayload:      string(ev.Raw),
	}
	if err := p.events.AppendEvent(ctx, logRow); err != nil {
		return false, fmt.Errorf("failed to append event: %w", err)
	}

	if err := p.apply(ctx, msg, ev); err != nil {
		return false, err
	}

	if dedupKey != "" {
		if err := p.dedup.Mark(dedupKey); err != nil {
			p.logger.Error("failed to mark dedup key", "key", dedupKey, "error", err)
		}
	}
	if p.metrics != nil {
		p.metrics.EventsProcessedTotal.WithLabelValues(string(ev.Kind)).Inc()
	}
	return true, nil
}

// apply runs the state transition table for one event
func (p *Processor) apply(ctx context.Context, msg *model.Message, ev *event.ProviderEvent) error {
	switch {
	case ev.Kind == event.KindDelivered:
		// A late delivery confirmation must not move the message
		// backwards out of a failed or unsubscribed state
		if model.StatusDelivered.Rank() < msg.Status.Rank() {
			p.logger.Debug("delivered event superseded by later status",
				"message_id", msg.ID, "status", msg.Status)
			return nil
		}
		if err := p.messages.MarkDelivered(ctx, msg.ID, ev.OccurredAt); err != nil {
			return err
		}
		return p.scheduler.OnSuccess(ctx, msg.ID)

	case ev.Kind == event.KindOpen:
		return p.messages.RecordOpen(ctx, msg.ID, ev.OccurredAt)

	case ev.Kind == event.KindClick:
		return p.messages.RecordClick(ctx, msg.ID, ev.OccurredAt)

	case ev.Kind.IsFailure():
		return p.applyFailure(ctx, msg, ev)

	case ev.Kind.IsUnsubscribe():
		reason := ev.Reason
		if reason == "" {
			reason = string(ev.Kind)
		}
		return p.messages.MarkUnsubscribed(ctx, msg.ID, reason, ev.OccurredAt)

	default:
		// KindDeferred lands here: the provider retries on its own and
		// there is nothing to transition
		p.logger.Debug("no state transition for event", "message_id", msg.ID, "kind", ev.Kind)
		return nil
	}
}

func (p *Processor) applyFailure(ctx context.Context, msg *model.Message, ev *event.ProviderEvent) error {
	if model.StatusFailed.Rank() < msg.Status.Rank() {
		p.logger.Debug("failure event superseded by later status",
			"message_id", msg.ID, "status", msg.Status)
		return nil
	}

	reason := ev.Reason
	if reason == "" {
		reason = fmt.Sprintf("provider reported %s", ev.Kind)
	}

	errRow, err := p.events.RecordError(ctx, msg.ID, string(ev.Kind), reason, string(ev.Raw))
	if err != nil {
		return fmt.Errorf("failed to record delivery error: %w", err)
	}

	if err := p.messages.MarkFailed(ctx, msg.ID, string(ev.Kind), reason, ev.OccurredAt); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.MessagesFailedTotal.WithLabelValues(string(ev.Kind)).Inc()
	}

	// The scheduler enforces the retry budget: under it a retry entry
	// is created, at it the intent is exhausted and the user notified
	return p.scheduler.Schedule(ctx, msg.AccountID, msg.ID, errRow.ID, msg.RetryCount, reason)
}

func (p *Processor) skip(ev *event.ProviderEvent, reason string) {
	if p.metrics != nil {
		p.metrics.EventsSkippedTotal.WithLabelValues(reason).Inc()
	}
}
