package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const EventCheckoutCompleted = "checkout.completed"

var ErrMalformedEvent = errors.New("malformed webhook event")

// Event is the part of a Creem webhook the settler acts on.
type Event struct {
	// ID is the idempotency key: the event id, else the order id, else the
	// checkout object id.
	ID          string
	Type        string
	AccountID   string
	PlanID      string
	Transaction string
	PeriodEnd   *time.Time
	Raw         json.RawMessage
}

type creemEvent struct {
	ID        string `json:"id"`
	EventType string `json:"eventType"`
	Object    struct {
		ID       string `json:"id"`
		Metadata struct {
			UserID string `json:"userId"`
		} `json:"metadata"`
		Product struct {
			ID string `json:"id"`
		} `json:"product"`
		Order struct {
			ID          string          `json:"id"`
			Transaction string          `json:"transaction"`
			UpdatedAt   json.RawMessage `json:"updated_at"`
		} `json:"order"`
	} `json:"object"`
}

// ParseEvent decodes a Creem webhook body.
func ParseEvent(raw []byte) (*Event, error) {
	var ce creemEvent
	if err := json.Unmarshal(raw, &ce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	ev := &Event{
		ID:          firstNonEmpty(ce.ID, ce.Object.Order.ID, ce.Object.ID),
		Type:        ce.EventType,
		AccountID:   ce.Object.Metadata.UserID,
		PlanID:      ce.Object.Product.ID,
		Transaction: ce.Object.Order.Transaction,
		Raw:         json.RawMessage(raw),
	}
	if t, ok := parseTimestamp(ce.Object.Order.UpdatedAt); ok {
		ev.PeriodEnd = &t
	}
	return ev, nil
}

// parseTimestamp accepts an RFC 3339 string or epoch milliseconds.
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, true
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
		return time.Time{}, false
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
