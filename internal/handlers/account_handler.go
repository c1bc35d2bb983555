package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dreamimg/backend/internal/generation"
	"github.com/dreamimg/backend/internal/middleware"
	"github.com/dreamimg/backend/internal/models"
	"github.com/dreamimg/backend/internal/repository"
)

type BalanceReader interface {
	Balance(ctx context.Context, accountID uuid.UUID) (int, error)
}

type LedgerLister interface {
	ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.CreditLedger, error)
}

type WorkLister interface {
	ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.Work, error)
}

// AccountHandler serves the authenticated account's profile, balance and
// history.
type AccountHandler struct {
	Accounts AccountReader
	Balances BalanceReader
	Ledger   LedgerLister
	Works    WorkLister
	Logger   *slog.Logger
}

func (h *AccountHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

type profile struct {
	ID                    uuid.UUID  `json:"id"`
	Email                 string     `json:"email"`
	Name                  string     `json:"name"`
	Credits               int        `json:"credits"`
	PlanID                *string    `json:"plan_id"`
	SubscriptionPeriodEnd *time.Time `json:"subscription_period_end"`
	CreatedAt             time.Time  `json:"created_at"`
}

// Me handles GET /api/v1/user/me.
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.AccountIDFromCtx(r.Context())
	if !ok {
		writeError(w, generation.Errorf(generation.CodeAuth, "authentication required"))
		return
	}
	acc, err := h.Accounts.GetByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, generation.Errorf(generation.CodeNotFound, "account not found"))
		return
	}
	if err != nil {
		h.logger().Error("load account failed", "account_id", id, "error", err)
		writeError(w, generation.Classify(err))
		return
	}
	writeJSON(w, http.StatusOK, profile{
		ID:                    acc.ID,
		Email:                 acc.Email,
		Name:                  acc.Name,
		Credits:               acc.CreditBalance,
		PlanID:                acc.PlanID,
		SubscriptionPeriodEnd: acc.SubscriptionPeriodEnd,
		CreatedAt:             acc.CreatedAt,
	})
}

// Credits handles GET /api/v1/user/credits.
func (h *AccountHandler) Credits(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.AccountIDFromCtx(r.Context())
	if !ok {
		writeError(w, generation.Errorf(generation.CodeAuth, "authentication required"))
		return
	}
	balance, err := h.Balances.Balance(r.Context(), id)
	if err != nil {
		h.logger().Error("load balance failed", "account_id", id, "error", err)
		writeError(w, generation.Classify(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"credits": balance})
}

// CreditLedger handles GET /api/v1/credit-ledger.
func (h *AccountHandler) CreditLedger(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.AccountIDFromCtx(r.Context())
	if !ok {
		writeError(w, generation.Errorf(generation.CodeAuth, "authentication required"))
		return
	}
	entries, err := h.Ledger.ListByAccountID(r.Context(), id, queryLimit(r, 50, 200))
	if err != nil {
		h.logger().Error("list credit ledger failed", "account_id", id, "error", err)
		writeError(w, generation.Classify(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// MyWorks handles GET /api/v1/my-works.
func (h *AccountHandler) MyWorks(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.AccountIDFromCtx(r.Context())
	if !ok {
		writeError(w, generation.Errorf(generation.CodeAuth, "authentication required"))
		return
	}
	works, err := h.Works.ListByAccountID(r.Context(), id, queryLimit(r, 50, 200))
	if err != nil {
		h.logger().Error("list works failed", "account_id", id, "error", err)
		writeError(w, generation.Classify(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"works": works})
}
