package models

import (
	"time"

	"github.com/google/uuid"
)

type Account struct {
	ID                    uuid.UUID  `json:"id"`
	Email                 string     `json:"email"`
	Name                  string     `json:"name"`
	PasswordHash          string     `json:"-"`
	CreditBalance         int        `json:"credit_balance"`
	PlanID                *string    `json:"plan_id,omitempty"`
	SubscriptionID        *string    `json:"subscription_id,omitempty"`
	SubscriptionPeriodEnd *time.Time `json:"subscription_period_end,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// SubscriptionUpdate is the plan metadata recorded alongside a webhook credit grant.
type SubscriptionUpdate struct {
	PlanID         string
	SubscriptionID *string
	PeriodEnd      time.Time
}
