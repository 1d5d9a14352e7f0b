// Package event maps the provider's loosely typed callback payloads
// into a closed set of event kinds at the ingestion boundary, so the
// processor can switch exhaustively instead of comparing strings.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is a known provider event kind
type Kind string

const (
	KindDelivered        Kind = "delivered"
	KindOpen             Kind = "open"
	KindClick            Kind = "click"
	KindBounce           Kind = "bounce"
	KindDropped          Kind = "dropped"
	KindBlocked          Kind = "blocked"
	KindSpamReport       Kind = "spam_report"
	KindUnsubscribe      Kind = "unsubscribe"
	KindGroupUnsubscribe Kind = "group_unsubscribe"
	KindDeferred         Kind = "deferred"
	KindUnknown          Kind = "unknown"
)

// IsFailure reports whether the kind marks the delivery as failed and
// eligible for a retry
func (k Kind) IsFailure() bool {
	return k == KindBounce || k == KindDropped || k == KindBlocked
}

// IsUnsubscribe reports whether the kind removes the recipient
func (k Kind) IsUnsubscribe() bool {
	return k == KindSpamReport || k == KindUnsubscribe || k == KindGroupUnsubscribe
}

// ProviderEvent is a single callback event after boundary mapping
type ProviderEvent struct {
	Kind              Kind
	ProviderMessageID string
	ProviderEventID   string
	Email             string
	OccurredAt        time.Time
	Reason            string
	URL               string
	Raw               json.RawMessage
}

// DedupKey is the stable identity used to deduplicate redelivered
// callbacks before applying cumulative counters. Empty when the
// provider supplied no event identifier.
func (e *ProviderEvent) DedupKey() string {
	if e.ProviderEventID == "" {
		return ""
	}
	return string(e.Kind) + ":" + e.ProviderEventID
}

// rawEvent mirrors the provider's wire format
type rawEvent struct {
	Event       string `json:"event"`
	SGMessageID string `json:"sg_message_id"`
	SGEventID   string `json:"sg_event_id"`
	Email       string `json:"email"`
	Timestamp   int64  `json:"timestamp"`
	Reason      string `json:"reason"`
	Type        string `json:"type"`
	URL         string `json:"url"`
}

// ParseBatch decodes a provider callback payload (a JSON array of
// events) into mapped events. A payload that is not a JSON array is a
// validation error; individual events with unknown kinds are preserved
// as KindUnknown rather than dropped.
func ParseBatch(data []byte) ([]ProviderEvent, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("payload is not a JSON event array: %w", err)
	}

	events := make([]ProviderEvent, 0, len(raws))
	for i, raw := range raws {
		var re rawEvent
		if err := json.Unmarshal(raw, &re); err != nil {
			return nil, fmt.Errorf("event %d is malformed: %w", i, err)
		}

		ev := ProviderEvent{
			Kind:              mapKind(re.Event, re.Type),
			ProviderMessageID: re.SGMessageID,
			ProviderEventID:   re.SGEventID,
			Email:             re.Email,
			Reason:            re.Reason,
			URL:               re.URL,
			Raw:               raw,
		}
		if re.Timestamp > 0 {
			ev.OccurredAt = time.Unix(re.Timestamp, 0).UTC()
		} else {
			ev.OccurredAt = time.Now().UTC()
		}
		events = append(events, ev)
	}

	return events, nil
}

func mapKind(event, typ string) Kind {
	switch event {
	case "delivered":
		return KindDelivered
	case "open":
		return KindOpen
	case "click":
		return KindClick
	case "bounce":
		// The provider folds blocks into bounce events with a type field
		if typ == "blocked" {
			return KindBlocked
		}
		return KindBounce
	case "dropped":
		return KindDropped
	case "blocked":
		return KindBlocked
	case "spamreport", "spam_report":
		return KindSpamReport
	case "unsubscribe":
		return KindUnsubscribe
	case "group_unsubscribe":
		return KindGroupUnsubscribe
	case "deferred":
		return KindDeferred
	default:
		return KindUnknown
	}
}
