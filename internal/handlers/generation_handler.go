package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dreamimg/backend/internal/cache"
	"github.com/dreamimg/backend/internal/generation"
	"github.com/dreamimg/backend/internal/middleware"
	"github.com/dreamimg/backend/internal/providers"
	"github.com/dreamimg/backend/internal/turnstile"
	"github.com/dreamimg/backend/internal/validation"
)

// Generator is the orchestrator surface used by the handler.
type Generator interface {
	Generate(ctx context.Context, in generation.GenerateInput) (*generation.Batch, error)
	SubmitDeferred(ctx context.Context, kind providers.Kind, req generation.Request) (*generation.JobHandle, error)
	PollOnce(ctx context.Context, h *generation.JobHandle) (*generation.JobView, error)
	Cost(kind providers.Kind) int
}

// ProviderLister enumerates configured providers.
type ProviderLister interface {
	Kinds() []providers.Kind
	Get(kind providers.Kind) (providers.Provider, error)
}

// TokenVerifier checks anti-abuse tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// HandleStore maps deferred job handles to the caller that created them.
type HandleStore interface {
	Put(ctx context.Context, provider, jobID, owner string) error
	Owner(ctx context.Context, provider, jobID string) (string, error)
}

// SchemaValidator checks a raw body against a named JSON schema.
type SchemaValidator interface {
	Validate(name string, raw []byte) error
}

// GenerationHandler serves /api/v1/generations endpoints.
type GenerationHandler struct {
	Generator Generator
	Providers ProviderLister
	Turnstile TokenVerifier
	Handles   HandleStore
	Validator SchemaValidator
	Logger    *slog.Logger
}

func (h *GenerationHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// --- POST /api/v1/generations ---

// Create runs a synchronous generation and returns every slot's outcome.
func (h *GenerationHandler) Create(w http.ResponseWriter, r *http.Request) {
	kind, req, gerr := h.decode(w, r)
	if gerr != nil {
		writeError(w, gerr)
		return
	}
	in := generation.GenerateInput{Provider: kind, Request: req, Count: req.Count}
	if id, ok := middleware.AccountIDFromCtx(r.Context()); ok {
		in.AccountID = &id
	}

	batch, err := h.Generator.Generate(r.Context(), in)
	if err != nil {
		e := generation.Classify(err)
		h.logFailure(r.Context(), "generation failed", kind, e)
		writeError(w, e)
		return
	}
	h.logger().Info("generation completed",
		"provider", kind,
		"images", len(batch.Images),
		"slots", len(batch.Items),
		"charged", batch.Charged,
	)
	writeJSON(w, http.StatusOK, batch)
}

// --- POST /api/v1/generations/jobs ---

// Submit starts a job on an unpaid provider and returns its handle without
// waiting for the result.
func (h *GenerationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	kind, req, gerr := h.decode(w, r)
	if gerr != nil {
		writeError(w, gerr)
		return
	}
	handle, err := h.Generator.SubmitDeferred(r.Context(), kind, req)
	if err != nil {
		e := generation.Classify(err)
		h.logFailure(r.Context(), "deferred submit failed", kind, e)
		writeError(w, e)
		return
	}
	if handle.JobID == "" {
		writeJSON(w, http.StatusOK, handle)
		return
	}
	if err := h.Handles.Put(r.Context(), string(kind), handle.JobID, requester(r)); err != nil {
		h.logger().Error("store job handle failed", "provider", kind, "job_id", handle.JobID, "error", err)
		writeError(w, &generation.Error{Code: generation.CodePersistence, Message: "could not record job", Err: err})
		return
	}
	writeJSON(w, http.StatusAccepted, handle)
}

// --- GET /api/v1/generations/jobs/{provider}/{id} ---

// Status polls a deferred job once. Handles owned by another caller are
// reported as not found.
func (h *GenerationHandler) Status(w http.ResponseWriter, r *http.Request) {
	kind, err := providers.ParseKind(r.PathValue("provider"))
	if err != nil {
		writeError(w, generation.Errorf(generation.CodeValidation, "%v", err))
		return
	}
	jobID := r.PathValue("id")

	owner, err := h.Handles.Owner(r.Context(), string(kind), jobID)
	if errors.Is(err, cache.ErrHandleNotFound) || (err == nil && owner != requester(r)) {
		writeError(w, generation.Errorf(generation.CodeNotFound, "job %s not found", jobID))
		return
	}
	if err != nil {
		h.logger().Error("load job handle failed", "provider", kind, "job_id", jobID, "error", err)
		writeError(w, &generation.Error{Code: generation.CodePersistence, Message: "could not load job", Err: err})
		return
	}

	view, err := h.Generator.PollOnce(r.Context(), &generation.JobHandle{Provider: kind, JobID: jobID})
	if err != nil {
		e := generation.Classify(err)
		h.logFailure(r.Context(), "job poll failed", kind, e)
		writeError(w, e)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// --- GET /api/v1/providers ---

type providerInfo struct {
	Kind     providers.Kind `json:"kind"`
	Paid     bool           `json:"paid"`
	Cost     int            `json:"cost"`
	Deferred bool           `json:"deferred"`
}

func (h *GenerationHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	out := []providerInfo{}
	for _, kind := range h.Providers.Kinds() {
		p, err := h.Providers.Get(kind)
		if err != nil {
			continue
		}
		out = append(out, providerInfo{
			Kind:     kind,
			Paid:     p.Paid(),
			Cost:     h.Generator.Cost(kind),
			Deferred: !p.Paid(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

// decode validates the body, resolves the provider and checks the anti-abuse
// token.
func (h *GenerationHandler) decode(w http.ResponseWriter, r *http.Request) (providers.Kind, generation.Request, *generation.Error) {
	var req generation.Request
	raw, err := readBody(w, r)
	if err != nil {
		return "", req, generation.Errorf(generation.CodeValidation, "failed to read body")
	}
	if err := h.Validator.Validate(validation.SchemaGenerationRequest, raw); err != nil {
		return "", req, generation.Errorf(generation.CodeValidation, "%v", err)
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return "", req, generation.Errorf(generation.CodeValidation, "invalid JSON body")
	}
	if req.Provider == "" {
		return "", req, generation.Errorf(generation.CodeValidation, "provider is required")
	}
	kind, err := providers.ParseKind(req.Provider)
	if err != nil {
		return "", req, generation.Errorf(generation.CodeValidation, "%v", err)
	}
	if err := h.Turnstile.Verify(r.Context(), req.TurnstileToken, middleware.ClientIP(r)); err != nil {
		return "", req, turnstileError(err)
	}
	return kind, req, nil
}

func turnstileError(err error) *generation.Error {
	switch {
	case errors.Is(err, turnstile.ErrMissingToken):
		return generation.Errorf(generation.CodeValidation, "turnstile_token is required")
	case errors.Is(err, turnstile.ErrRejected):
		return &generation.Error{Code: generation.CodeTurnstileFailed, Message: "turnstile verification failed", Err: err}
	default:
		return &generation.Error{Code: generation.CodeUpstream, Message: "turnstile verification unavailable", Err: err}
	}
}

// requester identifies the caller for handle ownership.
func requester(r *http.Request) string {
	if id, ok := middleware.AccountIDFromCtx(r.Context()); ok {
		return id.String()
	}
	return cache.AnonymousOwner
}

func (h *GenerationHandler) logFailure(ctx context.Context, msg string, kind providers.Kind, e *generation.Error) {
	if ctx.Err() != nil {
		h.logger().Info(msg+": client went away", "provider", kind, "error", ctx.Err())
		return
	}
	level := slog.LevelWarn
	if e.Code.HTTPStatus() >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger().Log(ctx, level, msg, "provider", kind, "code", e.Code, "error", e)
}
