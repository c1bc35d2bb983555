package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/kolesa-team/go-webp/decoder" // registers webp with image.Decode
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/dreamimg/backend/internal/auth"
	"github.com/dreamimg/backend/internal/billing"
	"github.com/dreamimg/backend/internal/cache"
	"github.com/dreamimg/backend/internal/config"
	"github.com/dreamimg/backend/internal/execution"
	"github.com/dreamimg/backend/internal/generation"
	"github.com/dreamimg/backend/internal/handlers"
	"github.com/dreamimg/backend/internal/imaging"
	"github.com/dreamimg/backend/internal/ledger"
	"github.com/dreamimg/backend/internal/middleware"
	"github.com/dreamimg/backend/internal/providers"
	"github.com/dreamimg/backend/internal/repository"
	"github.com/dreamimg/backend/internal/router"
	"github.com/dreamimg/backend/internal/turnstile"
	"github.com/dreamimg/backend/internal/validation"
)

const handleTTL = time.Hour

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.UsesDefaultJWTSecret() {
		slog.Warn("JWT_SECRET not set, signing tokens with the built-in development key; anyone can forge sessions")
	}
	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		slog.Error("Invalid TRUSTED_PROXIES", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := repository.Migrate(ctx, pool); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	rdb, err := cache.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("Unable to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	slog.Info("Connected to Redis", "addr", cfg.Redis.Addr)

	validator, err := validation.NewValidator(cfg.SchemaDir)
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}
	catalog, err := billing.LoadCatalog(cfg.PlansFile, validator)
	if err != nil {
		slog.Error("Plan catalog load failed", "error", err)
		os.Exit(1)
	}

	// Repositories and ledger
	accountRepo := repository.NewAccountRepo(pool)
	creditRepo := repository.NewCreditRepo(pool)
	workRepo := repository.NewWorkRepo(pool)
	eventRepo := repository.NewWebhookEventRepo()
	ledgerSvc := ledger.NewService(pool, accountRepo, creditRepo)

	// History worker
	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewRecordWorksWorker(workRepo))

	riverClient, err := river.NewClient[pgx.Tx](riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	recorder := execution.NewRecorder(riverClient)

	// Providers and orchestrator
	registry := providers.NewRegistry(
		providers.NewFireworks(providers.FireworksConfig{
			APIKey:  cfg.Fireworks.APIKey,
			BaseURL: cfg.Fireworks.BaseURL,
			Samples: cfg.Fireworks.Samples,
		}, nil),
		providers.NewTTAPI(providers.TTAPIConfig{
			APIKey:       cfg.TTAPI.APIKey,
			BaseURL:      cfg.TTAPI.BaseURL,
			PollInterval: cfg.TTAPI.PollInterval,
			MaxAttempts:  cfg.TTAPI.MaxAttempts,
		}, nil),
		providers.NewHorde(providers.HordeConfig{
			APIKey:       cfg.Horde.APIKey,
			BaseURL:      cfg.Horde.BaseURL,
			ClientAgent:  cfg.Horde.ClientAgent,
			PollInterval: cfg.Horde.PollInterval,
			Timeout:      cfg.Horde.Timeout,
		}, nil),
		providers.NewVolcano(providers.VolcanoConfig{
			APIKey:    cfg.Volcano.APIKey,
			Model:     cfg.Volcano.Model,
			Watermark: cfg.Volcano.Watermark,
		}),
	)
	orchestrator := generation.NewOrchestrator(registry, ledgerSvc, recorder, generation.NewClock(), generation.Config{
		Costs:   map[providers.Kind]int{providers.KindFireworks: cfg.Fireworks.Cost},
		MaxWait: generation.MaxWait,
	}, logger)

	// Auth
	authSvc := auth.NewService(pool, accountRepo, ledgerSvc, auth.Config{
		Secret:        cfg.JWTSecret,
		TokenTTL:      24 * time.Hour,
		SignupCredits: cfg.SignupCredits,
	})
	authHandler := auth.NewHandler(authSvc, validator, logger)

	verifier := turnstile.NewVerifier(cfg.Turnstile.Secret, cfg.Turnstile.VerifyURL)
	if !verifier.Enabled() {
		slog.Warn("Turnstile secret not set, anti-abuse check disabled")
	}
	if cfg.Creem.WebhookSecret == "" {
		slog.Warn("CREEM_WEBHOOK_SECRET not set, all webhooks will be rejected")
	}

	api := router.New(router.Deps{
		Auth: authHandler,
		Generation: &handlers.GenerationHandler{
			Generator: orchestrator,
			Providers: registry,
			Turnstile: verifier,
			Handles:   cache.NewHandleStore(rdb, handleTTL),
			Validator: validator,
			Logger:    logger,
		},
		Account: &handlers.AccountHandler{
			Accounts: accountRepo,
			Balances: ledgerSvc,
			Ledger:   creditRepo,
			Works:    workRepo,
			Logger:   logger,
		},
		Billing: &handlers.BillingHandler{
			Plans: catalog,
			Checkout: billing.NewCheckoutClient(billing.CheckoutConfig{
				APIURL:    cfg.Creem.APIURL,
				SecretKey: cfg.Creem.SecretKey,
				AppURL:    cfg.Creem.AppURL,
			}, catalog),
			Accounts:      accountRepo,
			Settler:       billing.NewSettler(pool, eventRepo, accountRepo, ledgerSvc, catalog, logger),
			Validator:     validator,
			WebhookSecret: cfg.Creem.WebhookSecret,
			Logger:        logger,
		},
		Images: &handlers.ImageHandler{
			Images: imaging.NewDownloader(imaging.Config{AllowedHosts: cfg.ImageDownloadHosts}),
			Logger: logger,
		},
		Tokens:  authSvc,
		Limiter: cache.NewRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute),
		Proxies: proxies,
		Logger:  logger,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(api)

	// Start River client (processes jobs)
	riverCtx, stopRiver := context.WithCancel(context.Background())
	defer stopRiver()
	if err := riverClient.Start(riverCtx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	// WriteTimeout must outlast the longest synchronous generation.
	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      generation.MaxWait + 20*time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River client shutdown failed", "error", err)
	}
}
