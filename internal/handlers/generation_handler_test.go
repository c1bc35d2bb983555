package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/dreamimg/backend/internal/cache"
	"github.com/dreamimg/backend/internal/generation"
	"github.com/dreamimg/backend/internal/middleware"
	"github.com/dreamimg/backend/internal/providers"
	"github.com/dreamimg/backend/internal/turnstile"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) generation.Error {
	t.Helper()
	var e generation.Error
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return e
}

// ---------------------------------------------------------------------------
// POST /api/v1/generations
// ---------------------------------------------------------------------------

func TestCreate_Success(t *testing.T) {
	balance := 7
	gen := &mockGenerator{batch: &generation.Batch{
		Provider: providers.KindFireworks,
		Images:   []string{"https://img/1.png", "https://img/2.png"},
		Items: []generation.SlotResult{
			{Slot: 0, Status: generation.SlotSucceeded, Images: []string{"https://img/1.png"}},
			{Slot: 1, Status: generation.SlotSucceeded, Images: []string{"https://img/2.png"}},
		},
		Charged: 2,
		Balance: &balance,
	}}
	h := newGenerationHandler(t, gen, mockTurnstile{}, newMockHandles())

	accountID := uuid.New()
	body := `{"provider":"fireworks","prompt":"a lighthouse","style":"watercolor","count":2,"aspect_ratio":"16:9"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/generations", strings.NewReader(body))
	req = req.WithContext(middleware.WithAccountID(req.Context(), accountID))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var batch generation.Batch
	if err := json.Unmarshal(rec.Body.Bytes(), &batch); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(batch.Items) != 2 || batch.Charged != 2 || batch.Balance == nil || *batch.Balance != 7 {
		t.Errorf("unexpected batch %+v", batch)
	}
	if gen.lastInput.AccountID == nil || *gen.lastInput.AccountID != accountID {
		t.Errorf("expected account %s passed to generator, got %v", accountID, gen.lastInput.AccountID)
	}
	if gen.lastInput.Count != 2 || gen.lastInput.Request.Style != "watercolor" {
		t.Errorf("unexpected input %+v", gen.lastInput)
	}
}

func TestCreate_Anonymous(t *testing.T) {
	gen := &mockGenerator{batch: &generation.Batch{Provider: providers.KindHorde}}
	h := newGenerationHandler(t, gen, mockTurnstile{}, newMockHandles())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generations", strings.NewReader(`{"provider":"horde","prompt":"fox"}`))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gen.lastInput.AccountID != nil {
		t.Errorf("expected anonymous input, got account %v", *gen.lastInput.AccountID)
	}
}

func TestCreate_RejectedBeforeGenerator(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		ts       mockTurnstile
		wantCode int
		wantErr  generation.Code
	}{
		{"missing provider", `{"prompt":"fox"}`, mockTurnstile{}, http.StatusBadRequest, generation.CodeValidation},
		{"unknown provider", `{"provider":"dalle","prompt":"fox"}`, mockTurnstile{}, http.StatusBadRequest, generation.CodeValidation},
		{"count too large", `{"provider":"horde","prompt":"fox","count":9}`, mockTurnstile{}, http.StatusBadRequest, generation.CodeValidation},
		{"not json", `{"provider":`, mockTurnstile{}, http.StatusBadRequest, generation.CodeValidation},
		{"turnstile missing", `{"provider":"horde","prompt":"fox"}`, mockTurnstile{err: turnstile.ErrMissingToken}, http.StatusBadRequest, generation.CodeValidation},
		{"turnstile rejected", `{"provider":"horde","prompt":"fox","turnstile_token":"x"}`, mockTurnstile{err: fmt.Errorf("%w: invalid-input-response", turnstile.ErrRejected)}, http.StatusForbidden, generation.CodeTurnstileFailed},
		{"turnstile down", `{"provider":"horde","prompt":"fox","turnstile_token":"x"}`, mockTurnstile{err: fmt.Errorf("%w: status 503", turnstile.ErrUnavailable)}, http.StatusBadGateway, generation.CodeUpstream},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &mockGenerator{}
			h := newGenerationHandler(t, gen, tc.ts, newMockHandles())
			req := httptest.NewRequest(http.MethodPost, "/api/v1/generations", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.Create(rec, req)

			if rec.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d: %s", tc.wantCode, rec.Code, rec.Body.String())
			}
			if e := decodeError(t, rec); e.Code != tc.wantErr {
				t.Errorf("expected code %s, got %s", tc.wantErr, e.Code)
			}
			if gen.calls != 0 {
				t.Errorf("expected generator not to be called, got %d calls", gen.calls)
			}
		})
	}
}

func TestCreate_ErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
		wantErr  generation.Code
	}{
		{"empty prompt", generation.Errorf(generation.CodeValidation, "prompt is required"), http.StatusBadRequest, generation.CodeValidation},
		{"paid without auth", generation.Errorf(generation.CodeAuth, "sign in to use fireworks"), http.StatusUnauthorized, generation.CodeAuth},
		{"insufficient credits", generation.Errorf(generation.CodeInsufficientCredits, "need 4 credits"), http.StatusPaymentRequired, generation.CodeInsufficientCredits},
		{"censored", generation.Errorf(generation.CodeContentCensored, "censored"), http.StatusForbidden, generation.CodeContentCensored},
		{"provider 500", &providers.UpstreamError{Provider: providers.KindFireworks, StatusCode: 500, Body: "boom"}, http.StatusBadGateway, generation.CodeUpstream},
		{"timed out", generation.Errorf(generation.CodeTimeout, "no result within 180s"), http.StatusGatewayTimeout, generation.CodeTimeout},
		{"unclassified", errors.New("pool closed"), http.StatusInternalServerError, generation.CodePersistence},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newGenerationHandler(t, &mockGenerator{err: tc.err}, mockTurnstile{}, newMockHandles())
			req := httptest.NewRequest(http.MethodPost, "/api/v1/generations", strings.NewReader(`{"provider":"fireworks","prompt":"fox"}`))
			rec := httptest.NewRecorder()
			h.Create(rec, req)

			if rec.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d: %s", tc.wantCode, rec.Code, rec.Body.String())
			}
			if e := decodeError(t, rec); e.Code != tc.wantErr {
				t.Errorf("expected code %s, got %s", tc.wantErr, e.Code)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Deferred jobs
// ---------------------------------------------------------------------------

func TestSubmit_StoresOwner(t *testing.T) {
	gen := &mockGenerator{handle: &generation.JobHandle{Provider: providers.KindHorde, JobID: "job-42"}}
	handles := newMockHandles()
	h := newGenerationHandler(t, gen, mockTurnstile{}, handles)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generations/jobs", strings.NewReader(`{"provider":"horde","prompt":"owl"}`))
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if owner := handles.owners["horde/job-42"]; owner != cache.AnonymousOwner {
		t.Errorf("expected anonymous owner, got %q", owner)
	}
}

func TestSubmit_SynchronousHandleNotStored(t *testing.T) {
	gen := &mockGenerator{handle: &generation.JobHandle{Provider: providers.KindVolcano, Images: []string{"https://img/v.png"}}}
	handles := newMockHandles()
	h := newGenerationHandler(t, gen, mockTurnstile{}, handles)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generations/jobs", strings.NewReader(`{"provider":"volcano","prompt":"owl"}`))
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(handles.owners) != 0 {
		t.Errorf("expected no stored handles, got %v", handles.owners)
	}
}

func TestSubmit_HandleStoreDown(t *testing.T) {
	gen := &mockGenerator{handle: &generation.JobHandle{Provider: providers.KindTTAPI, JobID: "tt-1"}}
	handles := newMockHandles()
	handles.err = errors.New("redis: connection refused")
	h := newGenerationHandler(t, gen, mockTurnstile{}, handles)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generations/jobs", strings.NewReader(`{"provider":"ttapi","prompt":"owl"}`))
	rec := httptest.NewRecorder()
	h.Submit(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	owner := uuid.New()
	stranger := uuid.New()

	cases := []struct {
		name     string
		caller   *uuid.UUID
		jobID    string
		wantCode int
	}{
		{"owner polls", ptrUUID(owner), "job-1", http.StatusOK},
		{"other account", ptrUUID(stranger), "job-1", http.StatusNotFound},
		{"anonymous caller", nil, "job-1", http.StatusNotFound},
		{"anonymous job", nil, "job-anon", http.StatusOK},
		{"unknown job", ptrUUID(owner), "job-missing", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &mockGenerator{view: &generation.JobView{Status: providers.JobRunning}}
			handles := newMockHandles()
			handles.owners["horde/job-1"] = owner.String()
			handles.owners["horde/job-anon"] = cache.AnonymousOwner
			h := newGenerationHandler(t, gen, mockTurnstile{}, handles)

			mux := http.NewServeMux()
			mux.HandleFunc("GET /jobs/{provider}/{id}", h.Status)
			req := httptest.NewRequest(http.MethodGet, "/jobs/horde/"+tc.jobID, nil)
			if tc.caller != nil {
				req = req.WithContext(middleware.WithAccountID(req.Context(), *tc.caller))
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d: %s", tc.wantCode, rec.Code, rec.Body.String())
			}
			if tc.wantCode == http.StatusNotFound && gen.calls != 0 {
				t.Errorf("expected no provider poll for a foreign handle, got %d", gen.calls)
			}
			if tc.wantCode == http.StatusOK {
				var view generation.JobView
				if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if view.JobID != tc.jobID || view.Status != providers.JobRunning {
					t.Errorf("unexpected view %+v", view)
				}
			}
		})
	}
}

func TestStatus_UnknownProvider(t *testing.T) {
	h := newGenerationHandler(t, &mockGenerator{}, mockTurnstile{}, newMockHandles())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /jobs/{provider}/{id}", h.Status)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/midjourney/abc", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// GET /api/v1/providers
// ---------------------------------------------------------------------------

func TestListProviders(t *testing.T) {
	gen := &mockGenerator{costs: map[providers.Kind]int{providers.KindFireworks: 1}}
	h := newGenerationHandler(t, gen, mockTurnstile{}, newMockHandles())

	rec := httptest.NewRecorder()
	h.ListProviders(rec, httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil))

	var resp struct {
		Providers []providerInfo `json:"providers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %+v", resp.Providers)
	}
	byKind := map[providers.Kind]providerInfo{}
	for _, p := range resp.Providers {
		byKind[p.Kind] = p
	}
	if fw := byKind[providers.KindFireworks]; !fw.Paid || fw.Cost != 1 || fw.Deferred {
		t.Errorf("unexpected fireworks entry %+v", fw)
	}
	if hd := byKind[providers.KindHorde]; hd.Paid || hd.Cost != 0 || !hd.Deferred {
		t.Errorf("unexpected horde entry %+v", hd)
	}
}
