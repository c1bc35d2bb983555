package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit ledger entry_type values.
const (
	CreditEntrySignupBonus      = "signup_bonus"
	CreditEntryGenerationCharge = "generation_charge"
	CreditEntryPlanGrant        = "plan_grant"
)

type CreditLedger struct {
	ID           uuid.UUID `json:"id"`
	AccountID    uuid.UUID `json:"account_id"`
	EntryType    string    `json:"entry_type"`
	Amount       int       `json:"amount"`
	BalanceAfter *int      `json:"balance_after,omitempty"`
	Reference    *string   `json:"reference,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
