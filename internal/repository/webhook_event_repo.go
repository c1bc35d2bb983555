package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dreamimg/backend/internal/models"
)

type WebhookEventRepo struct{}

func NewWebhookEventRepo() *WebhookEventRepo {
	return &WebhookEventRepo{}
}

// InsertTx records the event unless (provider, event_id) already exists.
// It reports false, with no error, for an event that was stored before, and
// ErrNotFound when the account does not exist.
func (r *WebhookEventRepo) InsertTx(ctx context.Context, tx pgx.Tx, e *models.WebhookEvent) (bool, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO webhook_events (id, provider, event_id, event_type, account_id, plan_id, credits_granted, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (provider, event_id) DO NOTHING
		RETURNING received_at
	`, e.ID, e.Provider, e.EventID, e.EventType, e.AccountID, e.PlanID, e.CreditsGranted, e.Payload).Scan(&e.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
