package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dreamimg/backend/internal/models"
)

// ErrNotFound is returned when the addressed row does not exist.
var ErrNotFound = errors.New("not found")

// ErrInsufficientCredits is returned by DeductCredits when the balance is lower than the amount.
var ErrInsufficientCredits = errors.New("insufficient credits")

const accountColumns = `id, email, name, password_hash, credit_balance, plan_id, subscription_id, subscription_period_end, created_at, updated_at`

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.CreditBalance, &a.PlanID, &a.SubscriptionID, &a.SubscriptionPeriodEnd, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateTx inserts a new account inside the given transaction. The balance
// starts at zero; credits are added through AddCredits so every grant has a
// ledger row.
func (r *AccountRepo) CreateTx(ctx context.Context, tx pgx.Tx, a *models.Account) error {
	return tx.QueryRow(ctx, `
		INSERT INTO accounts (email, name, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, credit_balance, created_at, updated_at
	`, a.Email, a.Name, a.PasswordHash).Scan(&a.ID, &a.CreditBalance, &a.CreatedAt, &a.UpdatedAt)
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
}

// GetBalance returns the current credit balance.
func (r *AccountRepo) GetBalance(ctx context.Context, id uuid.UUID) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx, `SELECT credit_balance FROM accounts WHERE id = $1`, id).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return balance, err
}

// DeductCredits atomically deducts amount if balance >= amount and returns the
// new balance. A short balance and a missing account both surface as
// ErrInsufficientCredits; the predicate is evaluated by the UPDATE itself so
// concurrent deductions cannot drive the balance negative.
func (r *AccountRepo) DeductCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET credit_balance = credit_balance - $1, updated_at = now()
		WHERE id = $2 AND credit_balance >= $1
		RETURNING credit_balance
	`, amount, id).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientCredits
	}
	return newBalance, err
}

// AddCredits adds amount to account and returns new balance.
func (r *AccountRepo) AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET credit_balance = credit_balance + $1, updated_at = now()
		WHERE id = $2
		RETURNING credit_balance
	`, amount, id).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return newBalance, err
}

// ApplySubscription increments the balance by credits and records plan
// metadata in one statement.
func (r *AccountRepo) ApplySubscription(ctx context.Context, tx pgx.Tx, id uuid.UUID, credits int, sub models.SubscriptionUpdate) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE accounts
		SET credit_balance = credit_balance + $1,
		    plan_id = $2,
		    subscription_id = COALESCE($3, subscription_id),
		    subscription_period_end = $4,
		    updated_at = now()
		WHERE id = $5
		RETURNING credit_balance
	`, credits, sub.PlanID, sub.SubscriptionID, sub.PeriodEnd, id).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return newBalance, err
}
