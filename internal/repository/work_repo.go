package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dreamimg/backend/internal/models"
)

type WorkRepo struct {
	pool *pgxpool.Pool
}

func NewWorkRepo(pool *pgxpool.Pool) *WorkRepo {
	return &WorkRepo{pool: pool}
}

// InsertWorks stores one row per image in a single batch.
func (r *WorkRepo) InsertWorks(ctx context.Context, accountID uuid.UUID, provider, prompt string, images []string) error {
	batch := &pgx.Batch{}
	for _, img := range images {
		batch.Queue(`
			INSERT INTO works (account_id, provider, prompt, image_url)
			VALUES ($1, $2, $3, $4)
		`, accountID, provider, prompt, img)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

func (r *WorkRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.Work, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, provider, prompt, image_url, created_at
		FROM works WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.Work{}
	for rows.Next() {
		var w models.Work
		if err := rows.Scan(&w.ID, &w.AccountID, &w.Provider, &w.Prompt, &w.ImageURL, &w.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &w)
	}
	return list, rows.Err()
}
