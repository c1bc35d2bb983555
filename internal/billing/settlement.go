package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dreamimg/backend/internal/models"
	"github.com/dreamimg/backend/internal/repository"
)

var (
	ErrMissingFields  = errors.New("missing userId or plan id in webhook payload")
	ErrMissingEventID = errors.New("webhook event has no id")
	ErrUnknownAccount = errors.New("webhook references an unknown account")
)

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// Result reports what Apply did. Balance is set only for OutcomeApplied.
type Result struct {
	Outcome Outcome
	Credits int
	Balance int
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EventStore records processed webhook events.
type EventStore interface {
	InsertTx(ctx context.Context, tx pgx.Tx, e *models.WebhookEvent) (inserted bool, err error)
}

// SubscriptionStore applies a plan grant to an account.
type SubscriptionStore interface {
	ApplySubscription(ctx context.Context, tx pgx.Tx, id uuid.UUID, credits int, sub models.SubscriptionUpdate) (newBalance int, err error)
}

// EntryRecorder writes the ledger row for an applied grant.
type EntryRecorder interface {
	RecordTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, entryType string, amount, balanceAfter int, reference string) error
}

// Settler applies verified payment events exactly once.
type Settler struct {
	pool     TxBeginner
	events   EventStore
	accounts SubscriptionStore
	ledger   EntryRecorder
	catalog  *Catalog
	log      *slog.Logger
	now      func() time.Time
}

func NewSettler(pool TxBeginner, events EventStore, accounts SubscriptionStore, ledger EntryRecorder, catalog *Catalog, log *slog.Logger) *Settler {
	if log == nil {
		log = slog.Default()
	}
	return &Settler{pool: pool, events: events, accounts: accounts, ledger: ledger, catalog: catalog, log: log, now: time.Now}
}

// Apply records ev and grants its plan's credits in one transaction. A
// replayed event is detected by the unique (provider, event_id) row and
// changes nothing. Events other than checkout.completed are ignored.
func (s *Settler) Apply(ctx context.Context, ev *Event) (*Result, error) {
	if ev.Type != EventCheckoutCompleted {
		return &Result{Outcome: OutcomeIgnored}, nil
	}
	if ev.AccountID == "" || ev.PlanID == "" {
		return nil, ErrMissingFields
	}
	if ev.ID == "" {
		return nil, ErrMissingEventID
	}
	accountID, err := uuid.Parse(ev.AccountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAccount, ev.AccountID)
	}

	credits, ok := s.catalog.CreditsFor(ev.PlanID)
	if !ok {
		s.log.Warn("no credits configured for plan", "plan_id", ev.PlanID, "event_id", ev.ID)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin settlement tx: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted, err := s.events.InsertTx(ctx, tx, &models.WebhookEvent{
		ID:             uuid.New(),
		Provider:       models.WebhookProviderCreem,
		EventID:        ev.ID,
		EventType:      ev.Type,
		AccountID:      accountID,
		PlanID:         ev.PlanID,
		CreditsGranted: credits,
		Payload:        ev.Raw,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
		}
		return nil, fmt.Errorf("record webhook event: %w", err)
	}
	if !inserted {
		return &Result{Outcome: OutcomeDuplicate}, nil
	}

	periodEnd := s.now().UTC()
	if ev.PeriodEnd != nil {
		periodEnd = *ev.PeriodEnd
	}
	sub := models.SubscriptionUpdate{PlanID: ev.PlanID, PeriodEnd: periodEnd}
	if ev.Transaction != "" {
		sub.SubscriptionID = &ev.Transaction
	}
	balance, err := s.accounts.ApplySubscription(ctx, tx, accountID, credits, sub)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
		}
		return nil, fmt.Errorf("apply subscription: %w", err)
	}
	if credits > 0 {
		if err := s.ledger.RecordTx(ctx, tx, accountID, models.CreditEntryPlanGrant, credits, balance, ev.ID); err != nil {
			return nil, fmt.Errorf("write grant entry: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit settlement tx: %w", err)
	}
	return &Result{Outcome: OutcomeApplied, Credits: credits, Balance: balance}, nil
}
