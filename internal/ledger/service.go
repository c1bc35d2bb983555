package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dreamimg/backend/internal/models"
	"github.com/dreamimg/backend/internal/repository"
)

// ErrInsufficientCredits is returned when the balance is too low for a charge.
var ErrInsufficientCredits = repository.ErrInsufficientCredits

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AccountStore is the minimal account repository interface for balance changes.
type AccountStore interface {
	GetBalance(ctx context.Context, id uuid.UUID) (int, error)
	DeductCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error)
	AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error)
}

// EntryStore is the minimal credit ledger interface.
type EntryStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditLedger) error
}

// TxHook runs inside the charge transaction after the ledger row is written.
// Returning an error rolls the charge back.
type TxHook func(ctx context.Context, tx pgx.Tx, entry *models.CreditLedger) error

// Service moves credits. Every balance change is a single conditional UPDATE
// plus a credit_ledger row in the same transaction.
type Service struct {
	pool     TxBeginner
	accounts AccountStore
	entries  EntryStore
}

func NewService(pool TxBeginner, accounts AccountStore, entries EntryStore) *Service {
	return &Service{pool: pool, accounts: accounts, entries: entries}
}

// Balance returns the account's current balance.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (int, error) {
	return s.accounts.GetBalance(ctx, accountID)
}

// Charge deducts amount in its own transaction, writes a generation_charge
// entry and runs hook before committing. It returns the balance after the charge.
func (s *Service) Charge(ctx context.Context, accountID uuid.UUID, amount int, reference string, hook TxHook) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("charge amount must be positive, got %d", amount)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin charge tx: %w", err)
	}
	defer tx.Rollback(ctx)

	newBalance, err := s.accounts.DeductCredits(ctx, tx, accountID, amount)
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			return 0, ErrInsufficientCredits
		}
		return 0, fmt.Errorf("deduct credits: %w", err)
	}
	entry := newEntry(accountID, models.CreditEntryGenerationCharge, amount, newBalance, reference)
	if err := s.entries.CreateTx(ctx, tx, entry); err != nil {
		return 0, fmt.Errorf("write charge entry: %w", err)
	}
	if hook != nil {
		if err := hook(ctx, tx, entry); err != nil {
			return 0, fmt.Errorf("charge hook: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit charge tx: %w", err)
	}
	return newBalance, nil
}

// GrantTx adds amount inside the caller's transaction and writes an entry of
// the given type.
func (s *Service) GrantTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, entryType, reference string) (int, error) {
	newBalance, err := s.accounts.AddCredits(ctx, tx, accountID, amount)
	if err != nil {
		return 0, err
	}
	if err := s.RecordTx(ctx, tx, accountID, entryType, amount, newBalance, reference); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// RecordTx writes a ledger entry for a balance change the caller already applied.
func (s *Service) RecordTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, entryType string, amount, balanceAfter int, reference string) error {
	return s.entries.CreateTx(ctx, tx, newEntry(accountID, entryType, amount, balanceAfter, reference))
}

func newEntry(accountID uuid.UUID, entryType string, amount, balanceAfter int, reference string) *models.CreditLedger {
	e := &models.CreditLedger{
		ID:           uuid.New(),
		AccountID:    accountID,
		EntryType:    entryType,
		Amount:       amount,
		BalanceAfter: &balanceAfter,
	}
	if reference != "" {
		e.Reference = &reference
	}
	return e
}
