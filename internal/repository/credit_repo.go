package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dreamimg/backend/internal/models"
)

type CreditRepo struct {
	pool *pgxpool.Pool
}

func NewCreditRepo(pool *pgxpool.Pool) *CreditRepo {
	return &CreditRepo{pool: pool}
}

// CreateTx inserts a ledger entry inside the given transaction.
func (r *CreditRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditLedger) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_ledger (id, account_id, entry_type, amount, balance_after, reference)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, c.ID, c.AccountID, c.EntryType, c.Amount, c.BalanceAfter, c.Reference).Scan(&c.CreatedAt)
}

// ListByAccountID returns the newest entries first, at most limit rows.
func (r *CreditRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.CreditLedger, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, entry_type, amount, balance_after, reference, created_at
		FROM credit_ledger WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.CreditLedger{}
	for rows.Next() {
		var c models.CreditLedger
		if err := rows.Scan(&c.ID, &c.AccountID, &c.EntryType, &c.Amount, &c.BalanceAfter, &c.Reference, &c.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}
