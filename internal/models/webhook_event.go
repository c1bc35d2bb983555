package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const WebhookProviderCreem = "creem"

// WebhookEvent is a verified payment event. (Provider, EventID) is unique, so
// a redelivered event cannot be stored, and therefore cannot be applied, twice.
type WebhookEvent struct {
	ID             uuid.UUID       `json:"id"`
	Provider       string          `json:"provider"`
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	AccountID      uuid.UUID       `json:"account_id"`
	PlanID         string          `json:"plan_id"`
	CreditsGranted int             `json:"credits_granted"`
	Payload        json.RawMessage `json:"payload"`
	ReceivedAt     time.Time       `json:"received_at"`
}
