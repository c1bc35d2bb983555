package router

import (
	"log/slog"
	"net/http"

	"github.com/dreamimg/backend/internal/auth"
	"github.com/dreamimg/backend/internal/handlers"
	"github.com/dreamimg/backend/internal/middleware"
)

// Deps are the handlers and middleware collaborators the API is built from.
type Deps struct {
	Auth       *auth.Handler
	Generation *handlers.GenerationHandler
	Account    *handlers.AccountHandler
	Billing    *handlers.BillingHandler
	Images     *handlers.ImageHandler
	Tokens     middleware.TokenValidator
	Limiter    middleware.Limiter
	// Proxies whose X-Forwarded-For is believed. Nil trusts none.
	Proxies *middleware.TrustedProxies
	Logger  *slog.Logger
}

// New returns an http.Handler that serves the API under /api/v1 plus /healthz.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	required := middleware.RequireAuth(d.Tokens)
	optional := middleware.OptionalAuth(d.Tokens)
	limited := func(h http.HandlerFunc) http.Handler {
		return optional(middleware.RateLimit(d.Limiter, d.Logger)(h))
	}

	mux.HandleFunc("POST "+base+"/auth/register", d.Auth.Register)
	mux.HandleFunc("POST "+base+"/auth/login", d.Auth.Login)

	mux.Handle("GET "+base+"/user/me", required(http.HandlerFunc(d.Account.Me)))
	mux.Handle("GET "+base+"/user/credits", required(http.HandlerFunc(d.Account.Credits)))
	mux.Handle("GET "+base+"/credit-ledger", required(http.HandlerFunc(d.Account.CreditLedger)))
	mux.Handle("GET "+base+"/my-works", required(http.HandlerFunc(d.Account.MyWorks)))

	mux.HandleFunc("GET "+base+"/credit-packages", d.Billing.CreditPackages)
	mux.Handle("POST "+base+"/checkout", required(http.HandlerFunc(d.Billing.CreateCheckout)))
	mux.HandleFunc("POST "+base+"/webhooks/creem", d.Billing.CreemWebhook)

	mux.HandleFunc("GET "+base+"/providers", d.Generation.ListProviders)
	mux.Handle("POST "+base+"/generations", limited(d.Generation.Create))
	mux.Handle("POST "+base+"/generations/jobs", limited(d.Generation.Submit))
	mux.Handle("GET "+base+"/generations/jobs/{provider}/{id}", optional(http.HandlerFunc(d.Generation.Status)))
	mux.Handle("GET "+base+"/images/download", limited(d.Images.Download))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return middleware.RealIP(d.Proxies)(mux)
}
