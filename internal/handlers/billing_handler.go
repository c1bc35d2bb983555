package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/dreamimg/backend/internal/billing"
	"github.com/dreamimg/backend/internal/generation"
	"github.com/dreamimg/backend/internal/middleware"
	"github.com/dreamimg/backend/internal/models"
	"github.com/dreamimg/backend/internal/validation"
)

type PlanLister interface {
	Active() []billing.Plan
}

type CheckoutCreator interface {
	CreateSession(ctx context.Context, priceID, email, accountID string) (string, error)
}

type AccountReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// Settler applies verified payment events.
type Settler interface {
	Apply(ctx context.Context, ev *billing.Event) (*billing.Result, error)
}

// BillingHandler serves credit packages, checkout and the payment webhook.
type BillingHandler struct {
	Plans         PlanLister
	Checkout      CheckoutCreator
	Accounts      AccountReader
	Settler       Settler
	Validator     SchemaValidator
	WebhookSecret string
	Logger        *slog.Logger
}

func (h *BillingHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// CreditPackages handles GET /api/v1/credit-packages.
func (h *BillingHandler) CreditPackages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"packages": h.Plans.Active()})
}

type checkoutBody struct {
	PriceID string `json:"price_id"`
}

// CreateCheckout handles POST /api/v1/checkout.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.AccountIDFromCtx(r.Context())
	if !ok {
		writeError(w, generation.Errorf(generation.CodeAuth, "authentication required"))
		return
	}
	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, generation.Errorf(generation.CodeValidation, "failed to read body"))
		return
	}
	if err := h.Validator.Validate(validation.SchemaCheckoutRequest, raw); err != nil {
		writeError(w, generation.Errorf(generation.CodeValidation, "%v", err))
		return
	}
	var body checkoutBody
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, generation.Errorf(generation.CodeValidation, "invalid JSON body"))
		return
	}
	acc, err := h.Accounts.GetByID(r.Context(), id)
	if err != nil {
		h.logger().Error("load account for checkout failed", "account_id", id, "error", err)
		writeError(w, generation.Classify(err))
		return
	}

	url, err := h.Checkout.CreateSession(r.Context(), body.PriceID, acc.Email, id.String())
	if err != nil {
		if errors.Is(err, billing.ErrUnknownPlan) {
			writeError(w, generation.Errorf(generation.CodeValidation, "unknown price_id %q", body.PriceID))
			return
		}
		h.logger().Error("create checkout session failed", "account_id", id, "price_id", body.PriceID, "error", err)
		writeError(w, &generation.Error{Code: generation.CodeUpstream, Message: "checkout is unavailable", Err: err})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"checkoutUrl": url})
}

// CreemWebhook handles POST /api/v1/webhooks/creem. The signature is
// checked over the exact raw body before anything is parsed.
func (h *BillingHandler) CreemWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(w, r)
	if err != nil {
		writeError(w, generation.Errorf(generation.CodeValidation, "failed to read body"))
		return
	}
	if err := billing.VerifySignature(h.WebhookSecret, raw, r.Header.Get(billing.SignatureHeader)); err != nil {
		h.logger().Warn("webhook signature rejected", "remote_ip", middleware.ClientIP(r))
		writeError(w, generation.Errorf(generation.CodeAuth, "invalid signature"))
		return
	}
	ev, err := billing.ParseEvent(raw)
	if err != nil {
		writeError(w, generation.Errorf(generation.CodeValidation, "%v", err))
		return
	}

	res, err := h.Settler.Apply(r.Context(), ev)
	switch {
	case errors.Is(err, billing.ErrMissingFields),
		errors.Is(err, billing.ErrMissingEventID),
		errors.Is(err, billing.ErrUnknownAccount):
		h.logger().Warn("webhook rejected", "event_id", ev.ID, "event_type", ev.Type, "error", err)
		writeError(w, generation.Errorf(generation.CodeValidation, "%v", err))
		return
	case err != nil:
		h.logger().Error("webhook settlement failed", "event_id", ev.ID, "error", err)
		writeError(w, &generation.Error{Code: generation.CodePersistence, Message: "settlement failed", Err: err})
		return
	}

	h.logger().Info("webhook processed",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"outcome", res.Outcome,
		"credits", res.Credits,
	)
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
