package models

import (
	"time"

	"github.com/google/uuid"
)

// Work is one generated image kept in an account's history.
type Work struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	Provider  string    `json:"provider"`
	Prompt    string    `json:"prompt"`
	ImageURL  string    `json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
}
